// Package services – UserService
//
// UserService is the credential manager: registration (argon2id hashing),
// login (token issuance) and token authentication. Plaintext passwords and
// hashes never leave this file; callers only see domain.PublicUser and Token.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-thread-backend/internal/auth"
	"github.com/tbourn/go-thread-backend/internal/domain"
	"github.com/tbourn/go-thread-backend/internal/repo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// registration carries the validated registration input.
type registration struct {
	Name     string `validate:"required,max=255"`
	Email    string `validate:"required,email,max=320"`
	Password string `validate:"min=8,max=128"`
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"token"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// UserService implements registration, login and token authentication.
type UserService struct {
	DB        *gorm.DB
	Tokens    *auth.TokenManager
	Validator Validator

	// Argon2 are the cost parameters for new hashes. The zero value means
	// auth.DefaultArgon2Params.
	Argon2 auth.Argon2Params
}

// NormalizeEmail trims and case-folds an address so lookups are
// case-insensitive. Casers are stateful, so each call builds its own.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

func (s *UserService) params() auth.Argon2Params {
	if s.Argon2 == (auth.Argon2Params{}) {
		return auth.DefaultArgon2Params
	}
	return s.Argon2
}

// Register validates the input, hashes the password with a fresh salt and
// stores the user.
//
// Errors: ErrInvalidUser, ErrDuplicateEmail, ErrHashing, ErrStorage.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*domain.PublicUser, error) {
	ctx, span := startSpan(ctx, "UserService", "Register")
	defer span.End()

	in := registration{
		Name:     strings.TrimSpace(name),
		Email:    NormalizeEmail(email),
		Password: password,
	}
	if err := validate.Struct(in); err != nil {
		return nil, invalidUser(err)
	}

	hash, err := s.params().Hash(in.Password)
	if err != nil {
		return nil, endSpan(span, fmt.Errorf("%w: %w", ErrHashing, err))
	}

	u, err := repo.CreateUser(ctx, s.DB, in.Name, in.Email, hash)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, endSpan(span, storageErr(err))
	}
	span.SetAttributes(attribute.Int64("user.id", u.ID))
	return u.Public(), nil
}

// Login checks email and password and issues an access token for the user.
//
// Errors: ErrUserNotFound, ErrInvalidCredentials, ErrSigning, ErrStorage.
func (s *UserService) Login(ctx context.Context, email, password string) (*Token, error) {
	ctx, span := startSpan(ctx, "UserService", "Login")
	defer span.End()

	u, err := repo.GetUserByEmail(ctx, s.DB, NormalizeEmail(email))
	if errors.Is(err, repo.ErrNotFound) {
		authLogins.WithLabelValues(loginUnknownUser).Inc()
		return nil, ErrUserNotFound
	}
	if err != nil {
		authLogins.WithLabelValues(loginInternalFail).Inc()
		return nil, endSpan(span, storageErr(err))
	}

	ok, err := auth.ComparePassword(password, u.PasswordHash)
	if err != nil {
		// A stored hash we cannot parse is a data defect, not a user error.
		authLogins.WithLabelValues(loginInternalFail).Inc()
		return nil, endSpan(span, fmt.Errorf("%w: %w", ErrHashing, err))
	}
	if !ok {
		authLogins.WithLabelValues(loginBadPassword).Inc()
		return nil, ErrInvalidCredentials
	}

	tok, exp, err := s.Tokens.Issue(u.ID)
	if err != nil {
		authLogins.WithLabelValues(loginInternalFail).Inc()
		return nil, endSpan(span, fmt.Errorf("%w: %w", ErrSigning, err))
	}
	authLogins.WithLabelValues(loginOK).Inc()
	span.SetAttributes(attribute.Int64("user.id", u.ID))
	return &Token{AccessToken: tok, TokenType: "Bearer", ExpiresAt: exp}, nil
}

// Authenticate verifies token and returns the id of the user it was issued
// to. A token whose subject no longer exists is ErrInvalidToken.
//
// Errors: ErrTokenExpired, ErrInvalidToken, ErrStorage.
func (s *UserService) Authenticate(ctx context.Context, token string) (int64, error) {
	userID, err := s.Tokens.Verify(token)
	if err != nil {
		return 0, err
	}
	if err := s.Validator.AssertUserExists(ctx, s.DB.WithContext(ctx), userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
		}
		return 0, err
	}
	return userID, nil
}

// GetPublic returns the public view of a user.
func (s *UserService) GetPublic(ctx context.Context, userID int64) (*domain.PublicUser, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return u.Public(), nil
}

// invalidUser turns validator output into ErrInvalidUser naming the failed
// fields.
func invalidUser(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return fmt.Errorf("%w: %s", ErrInvalidUser, strings.Join(fields, ", "))
}
