// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the lifecycle of messages. Every mutation runs its referential checks,
// the author check and the write inside one transaction; the schema's foreign
// keys back the checks up under concurrency.
//
// Orphan policy: deleting a message detaches its direct children, which become
// thread roots. Descendants are never deleted.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include message and user identifiers.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-thread-backend/internal/domain"
	"github.com/tbourn/go-thread-backend/internal/repo"
)

// DefaultMaxBodyRunes bounds a message body when MaxBodyRunes is unset.
const DefaultMaxBodyRunes = 4000

const createSavepoint = "create_message"

// MessageService coordinates message persistence.
type MessageService struct {
	DB        *gorm.DB
	Validator Validator

	// MaxBodyRunes caps the normalized body length; <=0 means DefaultMaxBodyRunes.
	MaxBodyRunes int

	// Now stamps message_time and updated_at. Nil means time.Now.
	Now func() time.Time
}

func (s *MessageService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// normalizeBody applies NFC, trims surrounding whitespace and enforces the
// length bound.
func (s *MessageService) normalizeBody(body string) (string, error) {
	body = strings.TrimSpace(norm.NFC.String(body))
	if body == "" {
		return "", ErrEmptyBody
	}
	limit := s.MaxBodyRunes
	if limit <= 0 {
		limit = DefaultMaxBodyRunes
	}
	if utf8.RuneCountInString(body) > limit {
		return "", ErrBodyTooLong
	}
	return body, nil
}

// Create stores a new message written by authorID, optionally replying to
// parentID. actorID is the authenticated caller and must equal authorID.
//
// Errors: ErrEmptyBody, ErrBodyTooLong, ErrUserNotFound, ErrForbidden,
// ErrParentNotFound, ErrStorage.
func (s *MessageService) Create(ctx context.Context, actorID, authorID int64, body string, parentID *int64) (*domain.Message, error) {
	ctx, span := startSpan(ctx, "MessageService", "Create",
		attribute.Int64("user.id", authorID),
		attribute.Bool("message.reply", parentID != nil),
	)
	defer span.End()

	body, err := s.normalizeBody(body)
	if err != nil {
		return nil, err
	}

	var created *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Validator.AssertUserExists(ctx, tx, authorID); err != nil {
			return err
		}
		if actorID != authorID {
			return ErrForbidden
		}
		if err := s.Validator.AssertParentValid(ctx, tx, parentID); err != nil {
			return err
		}
		// Postgres aborts the whole transaction on a failed insert; the
		// savepoint keeps it usable for the follow-up existence checks.
		if err := tx.SavePoint(createSavepoint).Error; err != nil {
			return err
		}
		m, err := repo.CreateMessage(ctx, tx, authorID, body, parentID, s.now())
		if repo.IsForeignKeyViolation(err) {
			// A concurrent delete slipped between the checks and the insert.
			if rbErr := tx.RollbackTo(createSavepoint).Error; rbErr != nil {
				return rbErr
			}
			return s.missingReference(ctx, tx, authorID, parentID, err)
		}
		if err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, endSpan(span, storageErr(err))
	}

	messagesCreated.Inc()
	span.SetAttributes(attribute.Int64("message.id", created.ID))
	return created, nil
}

// missingReference re-runs the existence checks after an FK violation so the
// error names the row that actually vanished. If both still resolve, cause is
// returned as is.
func (s *MessageService) missingReference(ctx context.Context, tx *gorm.DB, authorID int64, parentID *int64, cause error) error {
	if err := s.Validator.AssertUserExists(ctx, tx, authorID); err != nil {
		return err
	}
	if err := s.Validator.AssertParentValid(ctx, tx, parentID); err != nil {
		return err
	}
	return cause
}

// Get returns a single message.
func (s *MessageService) Get(ctx context.Context, messageID int64) (*domain.Message, error) {
	ctx, span := startSpan(ctx, "MessageService", "Get", attribute.Int64("message.id", messageID))
	defer span.End()

	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, endSpan(span, storageErr(err))
	}
	return m, nil
}

// Modify replaces the body of messageID. Only the author may modify; the
// message time and creation time never change.
//
// Errors: ErrEmptyBody, ErrBodyTooLong, ErrMessageNotFound, ErrForbidden,
// ErrStorage.
func (s *MessageService) Modify(ctx context.Context, actorID, messageID int64, body string) (*domain.Message, error) {
	ctx, span := startSpan(ctx, "MessageService", "Modify",
		attribute.Int64("message.id", messageID),
		attribute.Int64("user.id", actorID),
	)
	defer span.End()

	body, err := s.normalizeBody(body)
	if err != nil {
		return nil, err
	}

	var updated *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ownedMessage(ctx, tx, actorID, messageID); err != nil {
			return err
		}
		if err := repo.UpdateMessageBody(ctx, tx, messageID, body, s.now()); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		m, err := repo.GetMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, endSpan(span, storageErr(err))
	}
	return updated, nil
}

// Delete removes messageID and returns its id. Direct children are detached
// first so they survive as thread roots.
//
// Errors: ErrMessageNotFound, ErrForbidden, ErrStorage.
func (s *MessageService) Delete(ctx context.Context, actorID, messageID int64) (int64, error) {
	ctx, span := startSpan(ctx, "MessageService", "Delete",
		attribute.Int64("message.id", messageID),
		attribute.Int64("user.id", actorID),
	)
	defer span.End()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ownedMessage(ctx, tx, actorID, messageID); err != nil {
			return err
		}
		n, err := repo.DetachChildren(ctx, tx, messageID, s.now())
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int64("message.detached_children", n))
		if err := repo.DeleteMessage(ctx, tx, messageID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, endSpan(span, storageErr(err))
	}
	return messageID, nil
}

// ownedMessage validates existence and that actorID wrote the message.
func (s *MessageService) ownedMessage(ctx context.Context, tx *gorm.DB, actorID, messageID int64) (*domain.Message, error) {
	if err := s.Validator.AssertMessageExists(ctx, tx, messageID); err != nil {
		return nil, err
	}
	m, err := repo.GetMessage(ctx, tx, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.UserID != actorID {
		return nil, ErrForbidden
	}
	return m, nil
}

// FindByAuthorAndTimeRange lists messages by authorID whose message time lies
// in the inclusive [start, end] window; either bound may be nil. Results are
// ordered by message time then id, but callers should not depend on it.
//
// Errors: ErrInvalidRange, ErrUserNotFound, ErrStorage.
func (s *MessageService) FindByAuthorAndTimeRange(ctx context.Context, authorID int64, start, end *time.Time) ([]domain.Message, error) {
	ctx, span := startSpan(ctx, "MessageService", "FindByAuthorAndTimeRange",
		attribute.Int64("user.id", authorID),
		attribute.Bool("range.start", start != nil),
		attribute.Bool("range.end", end != nil),
	)
	defer span.End()

	if start != nil && end != nil && start.After(*end) {
		return nil, ErrInvalidRange
	}

	db := s.DB.WithContext(ctx)
	if err := s.Validator.AssertUserExists(ctx, db, authorID); err != nil {
		return nil, endSpan(span, err)
	}
	items, err := repo.ListMessagesByAuthor(ctx, db, authorID, start, end)
	if err != nil {
		return nil, endSpan(span, storageErr(err))
	}
	span.SetAttributes(attribute.Int("result.count", len(items)))
	return items, nil
}

// AuthorStats returns the message count and latest update time for authorID;
// the HTTP layer derives an ETag from it.
func (s *MessageService) AuthorStats(ctx context.Context, authorID int64) (int64, *time.Time, error) {
	n, latest, err := repo.AuthorMessagesStats(ctx, s.DB, authorID)
	if err != nil {
		return 0, nil, storageErr(err)
	}
	return n, latest, nil
}

// startSpan opens span op on the services/<service> tracer.
func startSpan(ctx context.Context, service, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/"+service).Start(ctx, op, trace.WithAttributes(attrs...))
}

// endSpan records err on span when it is an unexpected failure and returns it.
func endSpan(span trace.Span, err error) error {
	if err != nil && errors.Is(err, ErrStorage) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
