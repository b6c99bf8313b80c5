// Package services – Validator
//
// Validator performs the referential pre-checks that run right before a write.
// They produce precise not-found errors; the foreign keys declared on the
// schema remain the authoritative guarantee. Every method takes the handle of
// the surrounding transaction so the check and the write share one snapshot.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-thread-backend/internal/repo"
)

// Validator is stateless; the zero value is ready to use.
type Validator struct{}

// AssertUserExists returns ErrUserNotFound when no user has id userID.
func (Validator) AssertUserExists(ctx context.Context, db *gorm.DB, userID int64) error {
	ok, err := repo.UserExists(ctx, db, userID)
	if err != nil {
		return storageErr(err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// AssertMessageExists returns ErrMessageNotFound when no message has id messageID.
func (Validator) AssertMessageExists(ctx context.Context, db *gorm.DB, messageID int64) error {
	ok, err := repo.MessageExists(ctx, db, messageID)
	if err != nil {
		return storageErr(err)
	}
	if !ok {
		return ErrMessageNotFound
	}
	return nil
}

// AssertParentValid is a no-op for a nil parent; otherwise the parent must
// exist, else ErrParentNotFound.
func (v Validator) AssertParentValid(ctx context.Context, db *gorm.DB, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	err := v.AssertMessageExists(ctx, db, *parentID)
	if errors.Is(err, ErrMessageNotFound) {
		return ErrParentNotFound
	}
	return err
}
