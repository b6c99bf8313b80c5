package services

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-thread-backend/internal/auth"
	"github.com/tbourn/go-thread-backend/internal/domain"
)

// cheapArgon2 keeps registration tests fast.
var cheapArgon2 = auth.Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}

// newSvcDB opens a migrated, file-backed SQLite DB with foreign keys on.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.User{}, &domain.Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email string) *domain.User {
	t.Helper()
	u := &domain.User{Name: "n-" + email, Email: email, PasswordHash: "hash"}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// clock returns a Now func that advances by one second per call.
func clock(start time.Time) func() time.Time {
	cur := start.Add(-time.Second)
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func ids(ms []domain.Message) map[int64]bool {
	out := make(map[int64]bool, len(ms))
	for _, m := range ms {
		out[m.ID] = true
	}
	return out
}

func ptr[T any](v T) *T { return &v }
