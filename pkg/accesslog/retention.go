package accesslog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler prunes the access log on a cron schedule, keeping only
// records younger than the retention window.
type Scheduler struct {
	store     *Store
	schedule  string
	retention time.Duration

	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler pruning store on the given cron
// expression. Records older than retention are removed on each run.
func NewScheduler(store *Store, schedule string, retention time.Duration) *Scheduler {
	return &Scheduler{
		store:     store,
		schedule:  schedule,
		retention: retention,
		cron:      cron.New(),
		logger:    slog.Default().With("component", "accesslog.retention"),
	}
}

// Start validates the schedule and begins pruning. An empty schedule
// disables the scheduler. Stop is called when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("prune schedule not configured, retention disabled")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.runPrune(ctx) }); err != nil {
		return fmt.Errorf("schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started",
		"schedule", s.schedule,
		"retention", s.retention,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runPrune(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error("scheduled prune failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("access log pruned", "deleted", deleted, "cutoff", cutoff)
	}
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("retention scheduler stopped")
}
