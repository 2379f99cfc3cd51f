package api

import (
	"context"
	"time"
)

// journalRetention is how long finished jobs stay in the journal.
const journalRetention = 7 * 24 * time.Hour

func sweepInterval(retention time.Duration) time.Duration {
	return max(retention/4, time.Second)
}

// runJanitor periodically releases uncollected results and prunes the journal
// until ctx is cancelled.
func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval(s.retention))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(ctx, now)
		}
	}
}

func (s *Server) sweep(ctx context.Context, now time.Time) {
	expired := s.jobs.sweep(now, s.retention)
	for _, id := range expired {
		s.broker.Forget(id)
	}
	if len(expired) > 0 {
		s.logger.Debug("released uncollected results", "count", len(expired))
	}

	n, err := s.store.PruneFinished(ctx, now.Add(-journalRetention))
	if err != nil {
		s.logger.Error("prune journal", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned journal", "deleted", n)
	}
}
