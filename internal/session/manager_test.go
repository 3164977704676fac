package session

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testIdleTTL     = 24 * time.Hour
	testAbsoluteTTL = 7 * 24 * time.Hour
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	m := NewManager(rdb, Config{IdleTTL: testIdleTTL, AbsoluteTTL: testAbsoluteTTL}, opts...)
	return m, mr
}

var hexID = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestCreate_StoresSessionWithIdleTTL(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m, mr := newTestManager(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !hexID.MatchString(id) {
		t.Errorf("session ID = %q, want 64 hex chars", id)
	}

	if ttl := mr.TTL("session:" + id); ttl != testIdleTTL {
		t.Errorf("session TTL = %v, want %v", ttl, testIdleTTL)
	}

	sess, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.ID != id {
		t.Errorf("ID = %q, want %q", sess.ID, id)
	}
	if sess.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", sess.UserID, "user-1")
	}
	if !sess.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", sess.CreatedAt, fixed)
	}
	if want := fixed.Add(testAbsoluteTTL); !sess.AbsoluteExpiry.Equal(want) {
		t.Errorf("AbsoluteExpiry = %v, want %v", sess.AbsoluteExpiry, want)
	}
}

func TestCreate_TracksSessionInUserIndex(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	id1, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	id2, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected distinct session IDs")
	}

	members, err := mr.Members("user:sessions:user-1")
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 2 {
		t.Errorf("index size = %d, want 2", len(members))
	}
	if ttl := mr.TTL("user:sessions:user-1"); ttl != testAbsoluteTTL {
		t.Errorf("index TTL = %v, want %v", ttl, testAbsoluteTTL)
	}
}

func TestCreate_StoreFailure_ReturnsSessionCreationFailed(t *testing.T) {
	m, mr := newTestManager(t)
	mr.SetError("ERR store offline")

	_, err := m.Create(context.Background(), "user-1")
	if !errors.Is(err, ErrSessionCreationFailed) {
		t.Fatalf("error = %v, want ErrSessionCreationFailed", err)
	}
}

func TestCreate_RandomFailure_ReturnsSessionCreationFailed(t *testing.T) {
	m, _ := newTestManager(t, WithRandom(bytes.NewReader([]byte{1, 2, 3})))

	_, err := m.Create(context.Background(), "user-1")
	if !errors.Is(err, ErrSessionCreationFailed) {
		t.Fatalf("error = %v, want ErrSessionCreationFailed", err)
	}
}

func TestGet_UnknownID_ReturnsNil(t *testing.T) {
	m, _ := newTestManager(t)

	sess, err := m.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess != nil {
		t.Errorf("expected nil session, got %+v", sess)
	}
}

func TestGet_MalformedPayload_ReturnsNil(t *testing.T) {
	m, mr := newTestManager(t)

	payloads := map[string]string{
		"not-json":       "{{{",
		"missing-user":   `{"createdAt":"2026-01-01T00:00:00Z","absoluteExpiry":"2026-01-08T00:00:00Z"}`,
		"missing-expiry": `{"userId":"user-1","createdAt":"2026-01-01T00:00:00Z"}`,
		"wrong-type":     `{"userId":42}`,
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			mr.Set("session:"+name, payload)

			sess, err := m.Get(context.Background(), name)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if sess != nil {
				t.Errorf("expected nil session for malformed payload, got %+v", sess)
			}
		})
	}
}

func TestGet_ForeignWriterISOFormat(t *testing.T) {
	m, mr := newTestManager(t)
	mr.Set("session:abc", `{"userId":"user-9","createdAt":"2026-01-01T00:00:00.000Z","absoluteExpiry":"2026-01-08T00:00:00.000Z"}`)

	sess, err := m.Get(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess == nil || sess.UserID != "user-9" {
		t.Fatalf("session = %+v, want user-9", sess)
	}
	want := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	if !sess.AbsoluteExpiry.Equal(want) {
		t.Errorf("AbsoluteExpiry = %v, want %v", sess.AbsoluteExpiry, want)
	}
}

func TestGet_StoreFailure_ReturnsStoreUnavailable(t *testing.T) {
	m, mr := newTestManager(t)
	mr.SetError("ERR store offline")

	_, err := m.Get(context.Background(), "abc")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
}

func TestGet_ExpiresAfterIdleTTL(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mr.FastForward(testIdleTTL + time.Second)

	sess, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess != nil {
		t.Error("expected session to be gone after idle TTL")
	}
}

func TestRefresh_ResetsIdleTTLOnly(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before, _ := m.Get(ctx, id)

	mr.FastForward(20 * time.Hour)
	if err := m.Refresh(ctx, id); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if ttl := mr.TTL("session:" + id); ttl != testIdleTTL {
		t.Errorf("TTL after refresh = %v, want %v", ttl, testIdleTTL)
	}

	// 延長後はアイドル期間を超えても残っている
	mr.FastForward(20 * time.Hour)
	after, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after == nil {
		t.Fatal("expected session to survive after refresh")
	}
	if !after.AbsoluteExpiry.Equal(before.AbsoluteExpiry) {
		t.Errorf("AbsoluteExpiry changed: %v -> %v", before.AbsoluteExpiry, after.AbsoluteExpiry)
	}
}

func TestRefresh_MissingKey_NoError(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Refresh(context.Background(), "missing"); err != nil {
		t.Errorf("Refresh() error = %v, want nil", err)
	}
}

func TestRefresh_StoreFailure_ReturnsStoreUnavailable(t *testing.T) {
	m, mr := newTestManager(t)
	mr.SetError("ERR store offline")

	err := m.Refresh(context.Background(), "abc")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
}

func TestDelete_RemovesSessionAndIndexEntry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	keep, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := m.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if mr.Exists("session:" + id) {
		t.Error("session key should be deleted")
	}
	if ok, _ := mr.SIsMember("user:sessions:user-1", id); ok {
		t.Error("session ID should be removed from user index")
	}
	if ok, _ := mr.SIsMember("user:sessions:user-1", keep); !ok {
		t.Error("other session should remain in user index")
	}
}

func TestDelete_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := m.Delete(ctx, id); err != nil {
			t.Fatalf("Delete() #%d error = %v", i+1, err)
		}
	}
	if err := m.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete() unknown error = %v", err)
	}
	if err := m.Delete(ctx, ""); err != nil {
		t.Fatalf("Delete() empty error = %v", err)
	}
}

func TestDeleteAllForUser_RevokesEverySession(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.Create(ctx, "user-1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, id)
	}
	other, err := m.Create(ctx, "user-2")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := m.DeleteAllForUser(ctx, "user-1"); err != nil {
		t.Fatalf("DeleteAllForUser() error = %v", err)
	}

	for _, id := range ids {
		if sess, _ := m.Get(ctx, id); sess != nil {
			t.Errorf("session %s should be revoked", id)
		}
	}
	if mr.Exists("user:sessions:user-1") {
		t.Error("user index should be deleted")
	}
	if sess, _ := m.Get(ctx, other); sess == nil {
		t.Error("other user's session should remain")
	}
}

func TestDeleteAllForUser_NoSessions(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.DeleteAllForUser(context.Background(), "nobody"); err != nil {
		t.Errorf("DeleteAllForUser() error = %v, want nil", err)
	}
}

func TestPruneIndexes_RemovesExpiredMembers(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	expired, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	mr.FastForward(testIdleTTL + time.Second)

	alive, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	removed, err := m.PruneIndexes(ctx)
	if err != nil {
		t.Fatalf("PruneIndexes() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if ok, _ := mr.SIsMember("user:sessions:user-1", expired); ok {
		t.Error("expired session should be pruned from index")
	}
	if ok, _ := mr.SIsMember("user:sessions:user-1", alive); !ok {
		t.Error("live session should stay in index")
	}
}

func TestPruneIndexes_Empty(t *testing.T) {
	m, _ := newTestManager(t)

	removed, err := m.PruneIndexes(context.Background())
	if err != nil {
		t.Fatalf("PruneIndexes() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
}
