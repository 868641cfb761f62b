package exam

import (
	"context"
	"log"
	"time"
)

const sweepBatch = 500

// Sweeper periodically expires overdue attempts and certifies passing
// submissions whose certificate was not issued at submit time. Lazy checks on
// the request path stay authoritative; the sweeper only bounds staleness.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

type SweepStats struct {
	Expired   int
	Certified int
	Failed    int
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	log.Printf("sweeper started interval=%s", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("sweeper stopped")
			return
		case <-ticker.C:
			stats := w.SweepOnce(ctx)
			if stats.Expired > 0 || stats.Certified > 0 || stats.Failed > 0 {
				log.Printf("sweep expired=%d certified=%d failed=%d", stats.Expired, stats.Certified, stats.Failed)
			}
		}
	}
}

func (w *Sweeper) SweepOnce(ctx context.Context) SweepStats {
	var stats SweepStats

	overdue, err := w.svc.store.ListOverdueAttempts(ctx, w.svc.now(), sweepBatch)
	if err != nil {
		log.Printf("sweep list overdue: %v", err)
		stats.Failed++
	}
	for _, a := range overdue {
		got, err := w.svc.ExpireIfOverdue(ctx, a.ID)
		if err != nil {
			log.Printf("sweep expire attempt=%s: %v", a.ID, err)
			stats.Failed++
			continue
		}
		if got.Status == StatusExpired {
			stats.Expired++
		}
	}

	pending, err := w.svc.store.ListUncertifiedPasses(ctx, sweepBatch)
	if err != nil {
		log.Printf("sweep list uncertified: %v", err)
		stats.Failed++
		return stats
	}
	for _, a := range pending {
		if _, err := w.svc.IssueCertificate(ctx, a.ID); err != nil {
			log.Printf("sweep certify attempt=%s: %v", a.ID, err)
			stats.Failed++
			continue
		}
		stats.Certified++
	}
	return stats
}
