// Package services – ThreadService
//
// ThreadService rebuilds reply trees. A subtree is computed breadth-first with
// an explicit frontier: each level costs one query (WHERE parent_id IN ...),
// so a thread of depth d takes d+1 round-trips and no recursion. All reads of
// one call share a single read transaction.
package services

import (
	"context"
	"database/sql"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-thread-backend/internal/domain"
	"github.com/tbourn/go-thread-backend/internal/repo"
)

// ThreadService serves subtree and thread reads.
type ThreadService struct {
	DB        *gorm.DB
	Validator Validator

	// MaxDepth limits how many levels below the root are expanded.
	// 0 means unbounded.
	MaxDepth int
}

// Subtree is a reconstructed reply tree. Truncated reports that MaxDepth
// stopped the walk while deeper replies still existed, so Messages is not the
// full subtree.
type Subtree struct {
	Messages  []domain.Message
	Truncated bool
}

// SubtreeOf returns rootID and every message that descends from it. The root
// comes first, then level by level; callers must not depend on the order.
// With MaxDepth set the result may be partial; use Subtree to find out.
//
// Errors: ErrMessageNotFound, ErrStorage.
func (s *ThreadService) SubtreeOf(ctx context.Context, rootID int64) ([]domain.Message, error) {
	st, err := s.Subtree(ctx, rootID)
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

// Subtree is SubtreeOf plus the truncation flag.
func (s *ThreadService) Subtree(ctx context.Context, rootID int64) (*Subtree, error) {
	ctx, span := startSpan(ctx, "ThreadService", "Subtree",
		attribute.Int64("message.id", rootID),
		attribute.Int("thread.max_depth", s.MaxDepth),
	)
	defer span.End()

	var (
		out   Subtree
		depth int
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Validator.AssertMessageExists(ctx, tx, rootID); err != nil {
			return err
		}
		root, err := repo.GetMessage(ctx, tx, rootID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}

		out.Messages = []domain.Message{*root}
		visited := map[int64]struct{}{root.ID: {}}
		frontier := []int64{root.ID}

		for len(frontier) > 0 {
			if s.MaxDepth > 0 && depth >= s.MaxDepth {
				out.Truncated, err = repo.HasChildren(ctx, tx, frontier)
				return err
			}
			children, err := repo.ListChildren(ctx, tx, frontier)
			if err != nil {
				return err
			}
			next := make([]int64, 0, len(children))
			for _, c := range children {
				if _, seen := visited[c.ID]; seen {
					continue
				}
				visited[c.ID] = struct{}{}
				out.Messages = append(out.Messages, c)
				next = append(next, c.ID)
			}
			frontier = next
			if len(next) > 0 {
				depth++
			}
		}
		return nil
	}, readTxOptions(s.DB))
	if err != nil {
		return nil, endSpan(span, storageErr(err))
	}

	subtreeSize.Observe(float64(len(out.Messages)))
	span.SetAttributes(
		attribute.Int("thread.size", len(out.Messages)),
		attribute.Int("thread.depth", depth),
		attribute.Bool("thread.truncated", out.Truncated),
	)
	return &out, nil
}

// RootOf follows parent links upward from messageID and returns the id of the
// thread root. The walk stops early at a dangling parent or a revisited id.
//
// Errors: ErrMessageNotFound, ErrStorage.
func (s *ThreadService) RootOf(ctx context.Context, messageID int64) (int64, error) {
	ctx, span := startSpan(ctx, "ThreadService", "RootOf", attribute.Int64("message.id", messageID))
	defer span.End()

	var rootID int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := repo.GetMessage(ctx, tx, messageID)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		visited := map[int64]struct{}{cur.ID: {}}
		for cur.ParentID != nil {
			if _, seen := visited[*cur.ParentID]; seen {
				break
			}
			parent, err := repo.GetMessage(ctx, tx, *cur.ParentID)
			if errors.Is(err, repo.ErrNotFound) {
				break
			}
			if err != nil {
				return err
			}
			visited[parent.ID] = struct{}{}
			cur = parent
		}
		rootID = cur.ID
		return nil
	}, readTxOptions(s.DB))
	if err != nil {
		return 0, endSpan(span, storageErr(err))
	}
	return rootID, nil
}

// ThreadOf returns the whole conversation containing messageID, i.e. the
// subtree of its root, along with the root id.
func (s *ThreadService) ThreadOf(ctx context.Context, messageID int64) (int64, *Subtree, error) {
	rootID, err := s.RootOf(ctx, messageID)
	if err != nil {
		return 0, nil, err
	}
	st, err := s.Subtree(ctx, rootID)
	if err != nil {
		return 0, nil, err
	}
	return rootID, st, nil
}

// readTxOptions asks PostgreSQL for a read-only repeatable-read snapshot.
// SQLite transactions are already serializable, so it gets the defaults.
func readTxOptions(db *gorm.DB) *sql.TxOptions {
	if db.Dialector != nil && db.Dialector.Name() == "postgres" {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}
