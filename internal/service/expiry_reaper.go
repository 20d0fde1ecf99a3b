package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"approvals/internal/metrics"
	"approvals/internal/model"
)

const (
	DefaultReapInterval = 5 * time.Minute
	reapBatchSize       = 100
)

// ExpiryReaper moves pending requests past their deadline to expired. Each
// transition uses the same version guard as voting, so a request approved or
// rejected during the sweep is left alone.
type ExpiryReaper struct {
	Workflow
	interval time.Duration
}

func NewExpiryReaper(w Workflow, interval time.Duration) *ExpiryReaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &ExpiryReaper{Workflow: w.withDefaults(), interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (r *ExpiryReaper) Run(ctx context.Context) {
	r.Logger.InfoContext(ctx, "expiry reaper started", "interval", r.interval.String())
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if n, err := r.SweepOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.Alerter.Alert(ctx, "expiry sweep failed", err, map[string]interface{}{"expired": n})
		} else if n > 0 {
			r.Logger.InfoContext(ctx, "expiry sweep finished", "expired", n)
		}

		select {
		case <-ctx.Done():
			r.Logger.InfoContext(ctx, "expiry reaper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce expires every overdue pending request and returns how many it
// transitioned.
func (r *ExpiryReaper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds()) }()

	expired := 0
	for {
		batch, err := r.Requests.FindExpiredPending(ctx, r.Clock(), reapBatchSize)
		if err != nil {
			return expired, fmt.Errorf("failed to scan expired requests: %w", err)
		}
		if len(batch) == 0 {
			return expired, nil
		}

		progressed := 0
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			ok, err := r.expire(ctx, &batch[i])
			if err != nil {
				r.Logger.WarnContext(ctx, "failed to expire request",
					"request_id", batch[i].ID.String(), "error", err)
				continue
			}
			if ok {
				expired++
				progressed++
			}
		}

		// Whatever is left keeps failing or is not really expirable; leave it
		// for the next tick.
		if progressed == 0 || len(batch) < reapBatchSize {
			return expired, nil
		}
	}
}

func (r *ExpiryReaper) expire(ctx context.Context, candidate *model.ApprovalRequest) (bool, error) {
	updated, err := r.mutate(ctx, model.ActionExpire, candidate.ID, func(req *model.ApprovalRequest, now time.Time) error {
		if !req.IsExpiredAt(now) {
			return errSkip
		}
		req.Status = model.StatusExpired
		req.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errSkip) || errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.committed(ctx, model.SystemActor, model.ActionExpire, updated, map[string]interface{}{
		"expires_at": formatTime(updated.ExpiresAt),
		"approvals":  len(updated.ApprovedBy),
	})
	return true, nil
}
