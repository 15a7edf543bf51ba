package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"warden/api/internal/auth"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewRedisStorePings(t *testing.T) {
	store := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	// Hashed the same way IssueSession stores refresh tokens.
	tokenHash := auth.HashToken("rft_director_1")
	if err := store.SaveRefreshSession(ctx, tokenHash, "usr_director", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	user, err := store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_director" {
		t.Errorf("user ID = %s, want usr_director", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("create redis store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	tokenHash := auth.HashToken("rft_short_lived")
	if err := store.SaveRefreshSession(ctx, tokenHash, "usr_builder", time.Now().Add(time.Millisecond)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupRefreshSession(ctx, tokenHash); err == nil {
		t.Error("expected an error for an expired session")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store := setupTestRedis(t)
	if _, err := store.LookupRefreshSession(context.Background(), auth.HashToken("rft_never_issued")); err == nil {
		t.Error("expected an error for an unknown session")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	tokenHash := auth.HashToken("rft_to_revoke")
	if err := store.SaveRefreshSession(ctx, tokenHash, "usr_viewer", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, tokenHash); err != nil {
		t.Fatalf("lookup before revoke failed: %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if _, err := store.LookupRefreshSession(ctx, tokenHash); err == nil {
		t.Error("expected an error after revocation")
	}
}

func TestRevokeNonExistentSession(t *testing.T) {
	store := setupTestRedis(t)
	if err := store.RevokeRefreshSession(context.Background(), auth.HashToken("rft_never_issued")); err != nil {
		t.Errorf("revoking an unknown session should be a no-op, got: %v", err)
	}
}

func TestRevocationLeavesOtherSessionsAlone(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	directorHash := auth.HashToken("rft_director_2")
	builderHash := auth.HashToken("rft_builder_2")
	if err := store.SaveRefreshSession(ctx, directorHash, "usr_director", expiresAt); err != nil {
		t.Fatalf("save director session: %v", err)
	}
	if err := store.SaveRefreshSession(ctx, builderHash, "usr_builder", expiresAt); err != nil {
		t.Fatalf("save builder session: %v", err)
	}

	if err := store.RevokeRefreshSession(ctx, directorHash); err != nil {
		t.Fatalf("revoke director session: %v", err)
	}

	if _, err := store.LookupRefreshSession(ctx, directorHash); err == nil {
		t.Error("director session should be gone")
	}
	user, err := store.LookupRefreshSession(ctx, builderHash)
	if err != nil {
		t.Fatalf("builder session should survive: %v", err)
	}
	if user.ID != "usr_builder" {
		t.Errorf("user ID = %s, want usr_builder", user.ID)
	}
}
