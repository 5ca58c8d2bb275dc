package oauth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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

type fakeProvider struct {
	name      string
	exchanges atomic.Int32
	claim     *Claim
	err       error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.example/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*Claim, error) {
	p.exchanges.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	c := *p.claim
	return &c, nil
}

func newTestGuard(t *testing.T) (*Guard, *fakeProvider, *fakeProvider, *miniredis.Miniredis) {
	t.Helper()
	mr, rdb := newTestRedis(t)
	google := &fakeProvider{name: "google", claim: &Claim{Subject: "g-1", Email: "alice@example.com", Name: "Alice"}}
	ms := &fakeProvider{name: "microsoft", claim: &Claim{Subject: "m-1", Email: "alice@example.com"}}
	return NewGuard(NewRedisStateStore(rdb, "test"), time.Minute, google, ms), google, ms, mr
}

func TestGuard_BeginComplete(t *testing.T) {
	ctx := context.Background()
	g, google, _, mr := newTestGuard(t)

	authURL, state, err := g.Begin(ctx, "google")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	u, _ := url.Parse(authURL)
	if u.Query().Get("state") != state || len(state) < 32 {
		t.Fatalf("authorize URL %q does not carry state %q", authURL, state)
	}
	if ttl := mr.TTL("test:state:" + state); ttl != time.Minute {
		t.Errorf("state TTL = %v, want 1m", ttl)
	}

	claim, err := g.Complete(ctx, "google", state, "code-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if claim.Provider != "google" || claim.Subject != "g-1" {
		t.Errorf("claim = %+v", claim)
	}

	if _, err := g.Complete(ctx, "google", state, "code-1"); !errors.Is(err, ErrCSRFRejected) {
		t.Errorf("replayed state: want ErrCSRFRejected, got %v", err)
	}
	if google.exchanges.Load() != 1 {
		t.Errorf("exchanges = %d, want 1", google.exchanges.Load())
	}
}

func TestGuard_ForgedOrCrossProviderState(t *testing.T) {
	ctx := context.Background()
	g, google, ms, mr := newTestGuard(t)

	if _, err := g.Complete(ctx, "google", "forged", "code"); !errors.Is(err, ErrCSRFRejected) {
		t.Errorf("forged state: %v", err)
	}
	if _, err := g.Complete(ctx, "google", "", "code"); !errors.Is(err, ErrCSRFRejected) {
		t.Errorf("empty state: %v", err)
	}

	_, state, _ := g.Begin(ctx, "google")
	if _, err := g.Complete(ctx, "microsoft", state, "code"); !errors.Is(err, ErrCSRFRejected) {
		t.Errorf("cross-provider state: %v", err)
	}
	if mr.Exists("test:state:" + state) {
		t.Error("state must be deleted even when rejected")
	}
	if google.exchanges.Load()+ms.exchanges.Load() != 0 {
		t.Error("no exchange may happen before the state check passes")
	}
}

func TestGuard_ExpiredState(t *testing.T) {
	ctx := context.Background()
	g, _, _, mr := newTestGuard(t)
	_, state, _ := g.Begin(ctx, "google")
	mr.FastForward(2 * time.Minute)
	if _, err := g.Complete(ctx, "google", state, "code"); !errors.Is(err, ErrCSRFRejected) {
		t.Errorf("expired state: %v", err)
	}
}

func TestGuard_ConcurrentCallbacksSingleWinner(t *testing.T) {
	ctx := context.Background()
	g, google, _, _ := newTestGuard(t)
	_, state, _ := g.Begin(ctx, "google")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Complete(ctx, "google", state, "code"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || google.exchanges.Load() != 1 {
		t.Errorf("wins=%d exchanges=%d, want 1 and 1", wins.Load(), google.exchanges.Load())
	}
}

func TestGuard_ExchangeFailure(t *testing.T) {
	ctx := context.Background()
	g, google, _, _ := newTestGuard(t)
	google.err = errors.New("token endpoint 500")
	_, state, _ := g.Begin(ctx, "google")
	if _, err := g.Complete(ctx, "google", state, "code"); !errors.Is(err, ErrProviderExchangeFailed) {
		t.Errorf("want ErrProviderExchangeFailed, got %v", err)
	}

	google.err = nil
	google.claim = &Claim{Subject: "g-2"}
	_, state, _ = g.Begin(ctx, "google")
	if _, err := g.Complete(ctx, "google", state, "code"); !errors.Is(err, ErrProviderExchangeFailed) {
		t.Errorf("claim without email: want ErrProviderExchangeFailed, got %v", err)
	}
}

func TestGuard_UnsupportedProvider(t *testing.T) {
	g, _, _, _ := newTestGuard(t)
	if _, _, err := g.Begin(context.Background(), "myspace"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("Begin: %v", err)
	}
	if g.Supports("myspace") || !g.Supports("google") {
		t.Error("Supports mismatch")
	}
}

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore()
	now := time.Now()
	s.nowF = func() time.Time { return now }
	_ = s.Put(ctx, "st", "google", time.Minute)
	if p, ok, _ := s.Take(ctx, "st"); !ok || p != "google" {
		t.Fatalf("Take = %q, %v", p, ok)
	}
	if _, ok, _ := s.Take(ctx, "st"); ok {
		t.Error("second Take should miss")
	}
	_ = s.Put(ctx, "old", "google", time.Minute)
	now = now.Add(time.Hour)
	if _, ok, _ := s.Take(ctx, "old"); ok {
		t.Error("expired state should miss")
	}
}
