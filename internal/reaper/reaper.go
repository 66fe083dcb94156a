// Package reaper fails report drafts that have been generating for too long,
// so a crashed generation never blocks the lifecycle of its project.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eeelify/Z-inspection-sub003/internal/store"
)

const TimeoutReason = "generation timed out"

// Reports is the slice of the report service the reaper drives.
type Reports interface {
	StaleDrafts(ctx context.Context, cutoff time.Time) ([]*store.ReportArtifact, error)
	Fail(ctx context.Context, reportID uuid.UUID, reason string) (*store.ReportArtifact, error)
}

type Reaper struct {
	reports  Reports
	timeout  time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(r Reports, timeout, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		reports:  r,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep fails every draft created before now minus the timeout and returns
// how many it failed. A draft that finished in the meantime is skipped.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.timeout)
	drafts, err := r.reports.StaleDrafts(ctx, cutoff)
	if err != nil {
		r.logger.Error("failed to list stale drafts", "error", err)
		return 0
	}

	failed := 0
	for _, d := range drafts {
		_, err := r.reports.Fail(ctx, d.ID, TimeoutReason)
		switch {
		case err == nil:
			failed++
			r.logger.Warn("draft timed out", "report_id", d.ID, "project_id", d.ProjectID, "version", d.Version,
				"age", r.now().Sub(d.CreatedAt).Round(time.Second))
		case errors.Is(err, store.ErrInvalidTransition):
		default:
			r.logger.Error("failed to fail stale draft", "report_id", d.ID, "error", err)
		}
	}
	return failed
}
