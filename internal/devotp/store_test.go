package devotp

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, "alice@example.com", "123456", time.Now().Add(5*time.Minute))

	code, ok := store.Get(ctx, "alice@example.com")
	if !ok || code != "123456" {
		t.Fatalf("Get = %q, %v; want 123456, true", code, ok)
	}
	if _, ok := store.Get(ctx, "bob@example.com"); ok {
		t.Error("Get should miss for unknown key")
	}
}

func TestMemoryStore_LatestCodeWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().Add(5 * time.Minute)
	store.Put(ctx, "+15551234567", "111111", exp)
	store.Put(ctx, "+15551234567", "222222", exp)
	if code, _ := store.Get(ctx, "+15551234567"); code != "222222" {
		t.Errorf("code = %q, want 222222", code)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	store.nowF = func() time.Time { return now }
	store.Put(ctx, "k", "123456", now.Add(time.Minute))

	if _, ok := store.Get(ctx, "k"); !ok {
		t.Fatal("code should be readable before expiry")
	}
	now = now.Add(time.Minute)
	if _, ok := store.Get(ctx, "k"); ok {
		t.Error("code should expire at expiresAt")
	}
	store.mu.RLock()
	n := len(store.m)
	store.mu.RUnlock()
	if n != 0 {
		t.Errorf("expired entry not removed; %d entries left", n)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, "k", "123456", time.Now().Add(time.Minute))
	store.Delete(ctx, "k")
	store.Delete(ctx, "missing")
	if _, ok := store.Get(ctx, "k"); ok {
		t.Error("deleted code still readable")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Put(ctx, "k", "123456", exp)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.Get(ctx, "k")
		}()
	}
	wg.Wait()
}
