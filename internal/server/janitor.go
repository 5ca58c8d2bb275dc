package server

import (
	"context"
	"log"
	"time"
)

// ExpiredSweeper deletes pending rows created before a cutoff.
type ExpiredSweeper interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Janitor periodically removes pending identities older than Retention. Verification never
// depends on it; expired rows are already unusable.
type Janitor struct {
	Store     ExpiredSweeper
	Interval  time.Duration
	Retention time.Duration
	nowF      func() time.Time
}

// Run sweeps every Interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if j.Interval <= 0 {
		return
	}
	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) int64 {
	now := time.Now
	if j.nowF != nil {
		now = j.nowF
	}
	n, err := j.Store.DeleteExpired(ctx, now().UTC().Add(-j.Retention))
	if err != nil {
		log.Printf("janitor: delete expired pending identities: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("janitor: removed %d expired pending identities", n)
	}
	return n
}
