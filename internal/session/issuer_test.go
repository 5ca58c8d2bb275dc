package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"otp-identity/backend/internal/security"
	"otp-identity/backend/internal/user/domain"
	userrepo "otp-identity/backend/internal/user/repository"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newTestIssuer(t *testing.T) (*Issuer, *userrepo.MemoryRepository, *miniredis.Miniredis, *domain.User) {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	mr, rdb := newTestRedis(t)
	users := userrepo.NewMemoryRepository()
	u := &domain.User{ID: "u1", Email: "alice@example.com", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return NewIssuer(tokens, NewRedisRevocationList(rdb, "test"), users), users, mr, u
}

func TestIssuer_IssueAndValidateAccess(t *testing.T) {
	iss, _, _, u := newTestIssuer(t)
	pair, err := iss.Issue(context.Background(), u)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.AccessToken == pair.RefreshToken {
		t.Fatalf("pair = %+v", pair)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Error("refresh should outlive access")
	}
	uid, err := iss.ValidateAccess(pair.AccessToken)
	if err != nil || uid != "u1" {
		t.Errorf("ValidateAccess = %q, %v", uid, err)
	}
	if _, err := iss.ValidateAccess(pair.RefreshToken); err == nil {
		t.Error("refresh token must not pass as access token")
	}
}

func TestIssuer_RefreshRotates(t *testing.T) {
	ctx := context.Background()
	iss, _, mr, u := newTestIssuer(t)
	pair, _ := iss.Issue(ctx, u)

	next, got, err := iss.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.ID != "u1" || next.RefreshToken == pair.RefreshToken {
		t.Errorf("Refresh = %+v, %+v", next, got)
	}
	if _, _, err := iss.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("reuse of rotated token: want ErrInvalidRefreshToken, got %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Errorf("revocation keys = %v, want 1", mr.Keys())
	}
	if ttl := mr.TTL(mr.Keys()[0]); ttl <= 0 || ttl > 24*time.Hour {
		t.Errorf("revocation TTL = %v, want bounded by refresh lifetime", ttl)
	}
}

func TestIssuer_ConcurrentRefreshSingleWinner(t *testing.T) {
	ctx := context.Background()
	iss, _, _, u := newTestIssuer(t)
	pair, _ := iss.Issue(ctx, u)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := iss.Refresh(ctx, pair.RefreshToken); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("successful refreshes = %d, want 1", wins.Load())
	}
}

func TestIssuer_RevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	iss, _, _, u := newTestIssuer(t)
	pair, _ := iss.Issue(ctx, u)

	for i := 0; i < 2; i++ {
		if err := iss.Revoke(ctx, pair.RefreshToken); err != nil {
			t.Fatalf("Revoke #%d: %v", i+1, err)
		}
	}
	if err := iss.Revoke(ctx, "garbage"); err != nil {
		t.Errorf("Revoke garbage: %v", err)
	}
	if _, _, err := iss.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("refresh after logout: %v", err)
	}
}

func TestIssuer_RefreshDisabledUser(t *testing.T) {
	ctx := context.Background()
	iss, users, _, u := newTestIssuer(t)
	pair, _ := iss.Issue(ctx, u)
	users.SetStatus("u1", domain.UserStatusDisabled)
	if _, _, err := iss.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUserInactive) {
		t.Errorf("want ErrUserInactive, got %v", err)
	}
}

func TestIssuer_RevokeStoreFault(t *testing.T) {
	ctx := context.Background()
	tokens, _ := security.NewTestTokenProvider()
	_, rdb := newTestRedis(t)
	iss := NewIssuer(tokens, NewRedisRevocationList(rdb, ""), userrepo.NewMemoryRepository())
	pair, _ := iss.Issue(ctx, &domain.User{ID: "u1"})
	_ = rdb.Close()
	if err := iss.Revoke(ctx, pair.RefreshToken); err == nil {
		t.Error("store fault should be reported")
	}
}

func TestMemoryRevocationList(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryRevocationList()
	now := time.Now()
	l.nowF = func() time.Time { return now }
	if won, _ := l.Revoke(ctx, "j1", time.Minute); !won {
		t.Fatal("first revoke should win")
	}
	if won, _ := l.Revoke(ctx, "j1", time.Minute); won {
		t.Error("second revoke should not win")
	}
	if r, _ := l.IsRevoked(ctx, "j1"); !r {
		t.Error("j1 should be revoked")
	}
	now = now.Add(2 * time.Minute)
	if r, _ := l.IsRevoked(ctx, "j1"); r {
		t.Error("entry should lapse with the token")
	}
}
