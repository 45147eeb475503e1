package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"curio/api/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func user(id string) store.User {
	return store.User{ID: id, DisplayName: "Ada " + id, Email: id + "@example.com", Role: "curator"}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("://nope"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-1", user("u1"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	got, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if got.ID != "u1" || got.DisplayName != "Ada u1" || got.Role != "curator" || got.Email != "u1@example.com" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if err := rs.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "short", user("u1"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := rs.LookupRefreshSession(ctx, "short"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	_ = rs.SaveRefreshSession(ctx, "keep", user("u1"), time.Now().Add(time.Hour))
	_ = rs.SaveRefreshSession(ctx, "drop", user("u2"), time.Now().Add(time.Hour))

	if err := rs.RevokeRefreshSession(ctx, "drop"); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "drop"); err == nil {
		t.Error("revoked token should be gone")
	}
	if _, err := rs.LookupRefreshSession(ctx, "keep"); err != nil {
		t.Errorf("other sessions should survive: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Errorf("revoking unknown token should not fail: %v", err)
	}
}

func TestRevokeUserSessions(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	_ = rs.SaveRefreshSession(ctx, "a", user("u1"), time.Now().Add(time.Hour))
	_ = rs.SaveRefreshSession(ctx, "b", user("u1"), time.Now().Add(time.Hour))
	_ = rs.SaveRefreshSession(ctx, "c", user("u2"), time.Now().Add(time.Hour))

	if err := rs.RevokeUserSessions(ctx, "u1"); err != nil {
		t.Fatalf("RevokeUserSessions failed: %v", err)
	}
	for _, hash := range []string{"a", "b"} {
		if _, err := rs.LookupRefreshSession(ctx, hash); err == nil {
			t.Errorf("session %s should be revoked", hash)
		}
	}
	if _, err := rs.LookupRefreshSession(ctx, "c"); err != nil {
		t.Errorf("u2 session should survive: %v", err)
	}
}

func TestDragLease(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	ok, err := rs.AcquireDragLease(ctx, "brd_1", "u1", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = rs.AcquireDragLease(ctx, "brd_1", "u1", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("holder renew = %v, %v", ok, err)
	}
	ok, err = rs.AcquireDragLease(ctx, "brd_1", "u2", 5*time.Second)
	if err != nil || ok {
		t.Fatalf("other user acquire = %v, %v", ok, err)
	}

	if err := rs.ReleaseDragLease(ctx, "brd_1", "u2"); err != nil {
		t.Fatalf("release by non-holder: %v", err)
	}
	if !s.Exists("curio:drag:brd_1") {
		t.Fatal("non-holder release must not drop the lease")
	}
	if err := rs.ReleaseDragLease(ctx, "brd_1", "u1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = rs.AcquireDragLease(ctx, "brd_1", "u2", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v", ok, err)
	}

	if holder, err := rs.DragLeaseHolder(ctx, "brd_1"); err != nil || holder != "u2" {
		t.Fatalf("holder = %q, %v; want u2", holder, err)
	}

	s.FastForward(6 * time.Second)
	if holder, err := rs.DragLeaseHolder(ctx, "brd_1"); err != nil || holder != "" {
		t.Fatalf("holder after expiry = %q, %v; want none", holder, err)
	}
	ok, _ = rs.AcquireDragLease(ctx, "brd_1", "u1", 5*time.Second)
	if !ok {
		t.Fatal("expired lease should be free")
	}
}
