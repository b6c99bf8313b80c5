package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-thread-backend/internal/repo"
)

func TestValidator(t *testing.T) {
	db := newSvcDB(t)
	ctx := context.Background()
	u := seedUser(t, db, "v@example.com")
	m, err := repo.CreateMessage(ctx, db, u.ID, "hi", nil, time.Now())
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	var v Validator

	if err := v.AssertUserExists(ctx, db, u.ID); err != nil {
		t.Fatalf("existing user: %v", err)
	}
	if err := v.AssertUserExists(ctx, db, u.ID+1); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound, got %v", err)
	}
	if err := v.AssertMessageExists(ctx, db, m.ID); err != nil {
		t.Fatalf("existing message: %v", err)
	}
	if err := v.AssertMessageExists(ctx, db, m.ID+1); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("want ErrMessageNotFound, got %v", err)
	}
	if err := v.AssertParentValid(ctx, db, nil); err != nil {
		t.Fatalf("nil parent must be valid: %v", err)
	}
	if err := v.AssertParentValid(ctx, db, &m.ID); err != nil {
		t.Fatalf("existing parent: %v", err)
	}
	err = v.AssertParentValid(ctx, db, ptr(m.ID+1))
	if !errors.Is(err, ErrParentNotFound) || err.Error() != "Parent message not found." {
		t.Fatalf("want ErrParentNotFound, got %v", err)
	}
}

func TestValidator_StorageFailure(t *testing.T) {
	db := newSvcDB(t)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	err := Validator{}.AssertUserExists(context.Background(), db, 1)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
}
