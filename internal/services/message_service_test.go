package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-thread-backend/internal/domain"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func newMessageSvc(t *testing.T) (*MessageService, *domain.User) {
	t.Helper()
	db := newSvcDB(t)
	u := seedUser(t, db, "author@example.com")
	return &MessageService{DB: db, Now: clock(t0)}, u
}

func TestCreate_RootMessage(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, u.ID, u.ID, "  hello world \n", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.ID == 0 || m.UserID != u.ID || m.Body != "hello world" || m.ParentID != nil {
		t.Fatalf("unexpected message: %+v", m)
	}
	if !m.MessageTime.Equal(t0) || !m.CreatedAt.Equal(t0) || !m.UpdatedAt.Equal(t0) {
		t.Fatalf("timestamps: %+v", m)
	}
}

func TestCreate_NormalizesToNFC(t *testing.T) {
	svc, u := newMessageSvc(t)
	// "e" + combining acute accent composes to U+00E9.
	m, err := svc.Create(context.Background(), u.ID, u.ID, "cafe\u0301", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Body != "caf\u00e9" {
		t.Fatalf("body not NFC: %q", m.Body)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, u := newMessageSvc(t)
	svc.MaxBodyRunes = 5
	ctx := context.Background()

	cases := []struct {
		name     string
		actor    int64
		author   int64
		body     string
		parent   *int64
		want     error
		wantText string
	}{
		{"empty", u.ID, u.ID, "   ", nil, ErrEmptyBody, ""},
		{"too long", u.ID, u.ID, "abcdef", nil, ErrBodyTooLong, ""},
		{"unknown author", 999, 999, "hi", nil, ErrUserNotFound, "User not found."},
		{"unknown parent", u.ID, u.ID, "hi", ptr(int64(12345)), ErrParentNotFound, "Parent message not found."},
		{"actor is not author", u.ID + 1, u.ID, "hi", nil, ErrForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := svc.Create(ctx, tc.actor, tc.author, tc.body, tc.parent)
			if !errors.Is(err, tc.want) || m != nil {
				t.Fatalf("want %v, got m=%v err=%v", tc.want, m, err)
			}
			if tc.wantText != "" && err.Error() != tc.wantText {
				t.Fatalf("message = %q, want %q", err.Error(), tc.wantText)
			}
		})
	}

	// Multi-byte runes count once each.
	if _, err := svc.Create(ctx, u.ID, u.ID, "ééééé", nil); err != nil {
		t.Fatalf("5 runes should fit: %v", err)
	}
}

func TestCreate_DefaultBodyLimit(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, u.ID, u.ID, strings.Repeat("a", DefaultMaxBodyRunes), nil); err != nil {
		t.Fatalf("limit-sized body: %v", err)
	}
	if _, err := svc.Create(ctx, u.ID, u.ID, strings.Repeat("a", DefaultMaxBodyRunes+1), nil); !errors.Is(err, ErrBodyTooLong) {
		t.Fatalf("want ErrBodyTooLong, got %v", err)
	}
}

func TestCreate_Reply(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()
	root, _ := svc.Create(ctx, u.ID, u.ID, "root", nil)

	reply, err := svc.Create(ctx, u.ID, u.ID, "reply", &root.ID)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ParentID == nil || *reply.ParentID != root.ID {
		t.Fatalf("parent not set: %+v", reply)
	}
}

// dropAuthorBeforeParentCheck deletes userID inside the caller's transaction
// just before the first existence check on the message table, so the author
// check has already passed when the insert runs.
func dropAuthorBeforeParentCheck(t *testing.T, db *gorm.DB, userID int64) {
	t.Helper()
	fired := false
	err := db.Callback().Row().Before("gorm:row").Register("test:drop_author", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "message" {
			return
		}
		fired = true
		if err := tx.Session(&gorm.Session{NewDB: true}).Exec("DELETE FROM users WHERE id = ?", userID).Error; err != nil {
			_ = tx.AddError(err)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}

func TestCreate_AuthorVanishesBeforeInsert(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()
	bob := seedUser(t, svc.DB, "bob@example.com")
	root, err := svc.Create(ctx, bob.ID, bob.ID, "root", nil)
	if err != nil {
		t.Fatalf("root: %v", err)
	}

	dropAuthorBeforeParentCheck(t, svc.DB, u.ID)

	// The parent is intact; the FK failure comes from the author.
	_, err = svc.Create(ctx, u.ID, u.ID, "reply", &root.ID)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound, got %v", err)
	}
	if errors.Is(err, ErrParentNotFound) {
		t.Fatalf("error blames the parent: %v", err)
	}
	if _, err := svc.Get(ctx, root.ID); err != nil {
		t.Fatalf("parent should survive: %v", err)
	}
}

func TestGet(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()
	m, _ := svc.Create(ctx, u.ID, u.ID, "x", nil)

	got, err := svc.Get(ctx, m.ID)
	if err != nil || got.Body != "x" {
		t.Fatalf("Get: %+v %v", got, err)
	}
	if _, err := svc.Get(ctx, m.ID+1); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("want ErrMessageNotFound, got %v", err)
	}
}

func TestModify(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()
	other := seedUser(t, svc.DB, "other@example.com")

	m, _ := svc.Create(ctx, u.ID, u.ID, "v1", nil)

	got, err := svc.Modify(ctx, u.ID, m.ID, " v2 ")
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if got.Body != "v2" {
		t.Fatalf("body = %q", got.Body)
	}
	if !got.MessageTime.Equal(m.MessageTime) || !got.CreatedAt.Equal(m.CreatedAt) {
		t.Fatalf("immutable timestamps changed: before %+v after %+v", m, got)
	}
	if !got.UpdatedAt.After(m.UpdatedAt) {
		t.Fatalf("updated_at not bumped: %v -> %v", m.UpdatedAt, got.UpdatedAt)
	}

	if _, err := svc.Modify(ctx, other.ID, m.ID, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	_, err = svc.Modify(ctx, u.ID, m.ID+100, "x")
	if !errors.Is(err, ErrMessageNotFound) || err.Error() != "Message not found." {
		t.Fatalf("want ErrMessageNotFound, got %v", err)
	}
	if _, err := svc.Modify(ctx, u.ID, m.ID, ""); !errors.Is(err, ErrEmptyBody) {
		t.Fatalf("want ErrEmptyBody, got %v", err)
	}

	// The rejected attempts left the row alone.
	cur, _ := svc.Get(ctx, m.ID)
	if cur.Body != "v2" {
		t.Fatalf("body changed by rejected modify: %q", cur.Body)
	}
}

func TestDelete(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()
	other := seedUser(t, svc.DB, "other@example.com")

	root, _ := svc.Create(ctx, u.ID, u.ID, "root", nil)
	child, _ := svc.Create(ctx, other.ID, other.ID, "child", &root.ID)
	grandchild, _ := svc.Create(ctx, u.ID, u.ID, "grandchild", &child.ID)

	if _, err := svc.Delete(ctx, other.ID, root.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}

	id, err := svc.Delete(ctx, u.ID, root.ID)
	if err != nil || id != root.ID {
		t.Fatalf("Delete: id=%d err=%v", id, err)
	}
	if _, err := svc.Get(ctx, root.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("root still there: %v", err)
	}

	// Children survive as roots; deeper links are untouched.
	c, err := svc.Get(ctx, child.ID)
	if err != nil || c.ParentID != nil {
		t.Fatalf("child should be a root now: %+v %v", c, err)
	}
	g, err := svc.Get(ctx, grandchild.ID)
	if err != nil || g.ParentID == nil || *g.ParentID != child.ID {
		t.Fatalf("grandchild link changed: %+v %v", g, err)
	}

	_, err = svc.Delete(ctx, u.ID, root.ID)
	if !errors.Is(err, ErrMessageNotFound) || err.Error() != "Message not found." {
		t.Fatalf("want ErrMessageNotFound, got %v", err)
	}
}

func TestFindByAuthorAndTimeRange(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()
	other := seedUser(t, svc.DB, "other@example.com")

	// clock advances one second per call: t1=t0, t2=t0+1s, t3=t0+2s.
	m1, _ := svc.Create(ctx, u.ID, u.ID, "one", nil)
	m2, _ := svc.Create(ctx, u.ID, u.ID, "two", nil)
	m3, _ := svc.Create(ctx, u.ID, u.ID, "three", nil)
	if _, err := svc.Create(ctx, other.ID, other.ID, "noise", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	t1, t2, t3 := m1.MessageTime, m2.MessageTime, m3.MessageTime

	cases := []struct {
		name       string
		start, end *time.Time
		want       []int64
	}{
		{"start only", &t2, nil, []int64{m2.ID, m3.ID}},
		{"end only", nil, &t2, []int64{m1.ID, m2.ID}},
		{"both", &t1, &t3, []int64{m1.ID, m2.ID, m3.ID}},
		{"none", nil, nil, []int64{m1.ID, m2.ID, m3.ID}},
		{"empty window", ptr(t3.Add(time.Hour)), nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.FindByAuthorAndTimeRange(ctx, u.ID, tc.start, tc.end)
			if err != nil {
				t.Fatalf("FindByAuthorAndTimeRange: %v", err)
			}
			set := ids(got)
			if len(set) != len(tc.want) {
				t.Fatalf("got %d rows, want %d", len(set), len(tc.want))
			}
			for _, id := range tc.want {
				if !set[id] {
					t.Fatalf("missing id %d in %v", id, set)
				}
			}
		})
	}

	if _, err := svc.FindByAuthorAndTimeRange(ctx, u.ID, &t3, &t1); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("want ErrInvalidRange, got %v", err)
	}
	if _, err := svc.FindByAuthorAndTimeRange(ctx, 999, nil, nil); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("want ErrUserNotFound, got %v", err)
	}
}

func TestAuthorStats(t *testing.T) {
	svc, u := newMessageSvc(t)
	ctx := context.Background()

	n, latest, err := svc.AuthorStats(ctx, u.ID)
	if err != nil || n != 0 || latest != nil {
		t.Fatalf("empty: %d %v %v", n, latest, err)
	}
	m, _ := svc.Create(ctx, u.ID, u.ID, "x", nil)
	n, latest, err = svc.AuthorStats(ctx, u.ID)
	if err != nil || n != 1 || latest == nil || !latest.Equal(m.UpdatedAt) {
		t.Fatalf("after create: %d %v %v", n, latest, err)
	}
}

func TestCreate_StorageFailure(t *testing.T) {
	svc, u := newMessageSvc(t)
	sqlDB, _ := svc.DB.DB()
	_ = sqlDB.Close()

	if _, err := svc.Create(context.Background(), u.ID, u.ID, "x", nil); !errors.Is(err, ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
}
