// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - Duplicate emails surface as ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-thread-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateUser inserts a user row. The caller supplies an already hashed
// password; this layer never sees plaintext.
func CreateUser(ctx context.Context, db *gorm.DB, name, email, passwordHash string) (*domain.User, error) {
	u := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a user by its (already normalized) email.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UserExists is a single-row existence check.
func UserExists(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return exists(ctx, db, &domain.User{}, id)
}

// exists checks for a row by primary key without loading it.
func exists(ctx context.Context, db *gorm.DB, model any, id int64) (bool, error) {
	var found int64
	err := db.WithContext(ctx).
		Model(model).
		Select("1").
		Where("id = ?", id).
		Limit(1).
		Scan(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return found == 1, nil
}
