package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"otp-identity/backend/internal/pending/domain"
)

func newEntry(id, key string, created time.Time) *domain.PendingIdentity {
	return &domain.PendingIdentity{
		ID:        id,
		Key:       key,
		KeyKind:   domain.KeyKindEmail,
		Challenge: domain.Challenge{CodeHash: "h-" + id, CreatedAt: created, Purpose: domain.PurposeRegistration},
		CreatedAt: created,
	}
}

func TestMemoryRepository_UpsertSupersedes(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Now().UTC()
	if err := r.Upsert(ctx, newEntry("p1", "alice@example.com", now)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := r.Upsert(ctx, newEntry("p2", "alice@example.com", now)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	got, _ := r.GetByKey(ctx, "alice@example.com")
	if got == nil || got.ID != "p2" {
		t.Fatalf("GetByKey = %+v, want p2", got)
	}
	if found, _ := r.ConsumeIf(ctx, "p1", func(domain.Challenge) error { return nil }); found {
		t.Error("ConsumeIf of superseded id should report not found")
	}
}

func TestMemoryRepository_ConsumeIfKeepsRowWhenCheckFails(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.Upsert(ctx, newEntry("p1", "erin@example.com", time.Now()))
	_, _, _ = r.IncrementAttempts(ctx, "p1", 5)

	errStale := errors.New("stale")
	var seen domain.Challenge
	found, err := r.ConsumeIf(ctx, "p1", func(c domain.Challenge) error {
		seen = c
		return errStale
	})
	if !found || !errors.Is(err, errStale) {
		t.Fatalf("ConsumeIf = %v, %v; want found with check error", found, err)
	}
	if seen.Attempts != 1 || seen.CodeHash != "h-p1" {
		t.Errorf("check saw %+v, want the stored challenge", seen)
	}
	if r.Len() != 1 {
		t.Fatal("row must survive a failed check")
	}

	found, err = r.ConsumeIf(ctx, "p1", func(domain.Challenge) error { return nil })
	if !found || err != nil {
		t.Fatalf("ConsumeIf = %v, %v", found, err)
	}
	if r.Len() != 0 {
		t.Error("row should be deleted after a passing check")
	}
}

func TestMemoryRepository_IncrementAttemptsStopsAtMax(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	_ = r.Upsert(ctx, newEntry("p1", "bob@example.com", time.Now()))
	for i := 1; i <= 3; i++ {
		n, ok, err := r.IncrementAttempts(ctx, "p1", 3)
		if err != nil || !ok || n != i {
			t.Fatalf("IncrementAttempts #%d = %d, %v, %v", i, n, ok, err)
		}
	}
	if _, ok, _ := r.IncrementAttempts(ctx, "p1", 3); ok {
		t.Error("IncrementAttempts past max should not count")
	}
	if _, ok, _ := r.IncrementAttempts(ctx, "missing", 3); ok {
		t.Error("IncrementAttempts on missing id should not count")
	}
}

func TestMemoryRepository_RefreshAndExpire(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	old := time.Now().Add(-time.Hour)
	_ = r.Upsert(ctx, newEntry("p1", "carol@example.com", old))
	_, _, _ = r.IncrementAttempts(ctx, "p1", 5)

	now := time.Now()
	ok, err := r.RefreshChallenge(ctx, "p1", "new-hash", now)
	if err != nil || !ok {
		t.Fatalf("RefreshChallenge = %v, %v", ok, err)
	}
	got, _ := r.GetByKey(ctx, "carol@example.com")
	if got.Challenge.Attempts != 0 || got.Challenge.CodeHash != "new-hash" || !got.Challenge.CreatedAt.Equal(now) {
		t.Errorf("after refresh: %+v", got.Challenge)
	}

	_ = r.Upsert(ctx, newEntry("p2", "dave@example.com", old))
	n, err := r.DeleteExpired(ctx, now.Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired = %d, %v; want 1", n, err)
	}
	if got, _ := r.GetByKey(ctx, "carol@example.com"); got == nil {
		t.Error("refreshed entry should survive the sweep")
	}
}
