package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/classboard/internal/logging"
)

// Resyncer periodically reloads every loaded board so that notifications lost
// in transit do not leave a board stale for long.
type Resyncer struct {
	hub     *Hub
	cron    *cron.Cron
	timeout time.Duration
	logger  *slog.Logger
}

// NewResyncer schedules hub.Resync on the cron spec, for example "@every 5m".
func NewResyncer(hub *Hub, spec string, timeout time.Duration, logger *slog.Logger) (*Resyncer, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	r := &Resyncer{
		hub:     hub,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		timeout: timeout,
		logger:  logging.Component(logger, "resyncer"),
	}
	if _, err := r.cron.AddFunc(spec, r.run); err != nil {
		return nil, fmt.Errorf("realtime: invalid resync schedule %q: %w", spec, err)
	}
	return r, nil
}

func (r *Resyncer) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	started := time.Now()
	if err := r.hub.Resync(ctx); err != nil {
		r.logger.ErrorContext(ctx, "resync failed", "error", err)
		return
	}
	r.logger.DebugContext(ctx, "resync completed", "duration_ms", time.Since(started).Milliseconds())
}

// Start runs the schedule in the background.
func (r *Resyncer) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running resync to finish or ctx to end.
func (r *Resyncer) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
