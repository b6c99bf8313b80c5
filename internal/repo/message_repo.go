// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They perform persistence and query
// composition only; existence checks, authorization and orphan handling are
// the services' job.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-thread-backend/internal/domain"
)

// childrenChunk caps the size of a single IN (...) list in ListChildren.
const childrenChunk = 500

// CreateMessage inserts a new message authored by userID. at is the message
// timestamp (acceptance instant) and also seeds the audit timestamps.
func CreateMessage(ctx context.Context, db *gorm.DB, userID int64, body string, parentID *int64, at time.Time) (*domain.Message, error) {
	at = dbTime(at)
	m := &domain.Message{
		UserID:      userID,
		Body:        body,
		ParentID:    parentID,
		MessageTime: at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id int64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageExists is a single-row existence check.
func MessageExists(ctx context.Context, db *gorm.DB, id int64) (bool, error) {
	return exists(ctx, db, &domain.Message{}, id)
}

// UpdateMessageBody replaces the body and bumps updated_at. message_time and
// created_at are never touched. Returns ErrNotFound if no row matched.
func UpdateMessageBody(ctx context.Context, db *gorm.DB, id int64, body string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"message":    body,
			"updated_at": dbTime(at),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DetachChildren turns every direct child of parentID into a thread root and
// returns how many rows changed.
func DetachChildren(ctx context.Context, db *gorm.DB, parentID int64, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("parent_id = ?", parentID).
		Updates(map[string]any{
			"parent_id":  nil,
			"updated_at": dbTime(at),
		})
	return res.RowsAffected, res.Error
}

// DeleteMessage removes a single row. Returns ErrNotFound if no row matched.
func DeleteMessage(ctx context.Context, db *gorm.DB, id int64) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListMessagesByAuthor returns messages by userID whose message_time lies in
// the optional inclusive [start, end] window. A nil bound is open. Rows are
// ordered by (message_time ASC, id ASC).
func ListMessagesByAuthor(ctx context.Context, db *gorm.DB, userID int64, start, end *time.Time) ([]domain.Message, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	switch {
	case start != nil && end != nil:
		q = q.Where("message_time BETWEEN ? AND ?", dbTimeCeil(*start), dbTime(*end))
	case start != nil:
		q = q.Where("message_time >= ?", dbTimeCeil(*start))
	case end != nil:
		q = q.Where("message_time <= ?", dbTime(*end))
	}
	out := []domain.Message{}
	err := q.Order("message_time ASC, id ASC").Find(&out).Error
	return out, err
}

// ListChildren returns every message whose parent_id is in parentIDs, i.e.
// one level of a thread. Large frontiers are split into chunks.
func ListChildren(ctx context.Context, db *gorm.DB, parentIDs []int64) ([]domain.Message, error) {
	out := []domain.Message{}
	for len(parentIDs) > 0 {
		n := len(parentIDs)
		if n > childrenChunk {
			n = childrenChunk
		}
		var batch []domain.Message
		err := db.WithContext(ctx).
			Where("parent_id IN ?", parentIDs[:n]).
			Order("id ASC").
			Find(&batch).Error
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		parentIDs = parentIDs[n:]
	}
	return out, nil
}

// HasChildren reports whether any message replies to one of parentIDs.
func HasChildren(ctx context.Context, db *gorm.DB, parentIDs []int64) (bool, error) {
	for len(parentIDs) > 0 {
		n := min(len(parentIDs), childrenChunk)
		var found int64
		err := db.WithContext(ctx).
			Model(&domain.Message{}).
			Select("1").
			Where("parent_id IN ?", parentIDs[:n]).
			Limit(1).
			Scan(&found).Error
		if err != nil {
			return false, err
		}
		if found == 1 {
			return true, nil
		}
		parentIDs = parentIDs[n:]
	}
	return false, nil
}
