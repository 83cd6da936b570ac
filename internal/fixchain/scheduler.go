package fixchain

import (
	"context"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// SchedulerConfig sizes the worker pool
type SchedulerConfig struct {
	Workers     int
	EventBuffer int
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:     runtime.NumCPU(),
		EventBuffer: 256,
	}
}

// Scheduler runs a fixed pool of workers over a shared work queue. Root
// tasks are seeded one per subject; workers push follow-up tasks instead
// of recursing, so traversal depth never grows a goroutine stack.
type Scheduler struct {
	resolver    *Resolver
	logger      *slog.Logger
	workerCount int
	eventBuffer int

	processed atomic.Int64
}

// NewScheduler creates a scheduler driving resolver
func NewScheduler(resolver *Resolver, logger *slog.Logger, config SchedulerConfig) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}
	return &Scheduler{
		resolver:    resolver,
		logger:      logger,
		workerCount: config.Workers,
		eventBuffer: config.EventBuffer,
	}
}

// Run traverses every subject and streams events to reporter in the order
// they are produced. It returns once all reachable work is done, ctx is
// cancelled, or the reporter fails. Branch failures are reported as
// events and never fail the run.
func (s *Scheduler) Run(ctx context.Context, subjects []string, reporter Reporter) (*Summary, error) {
	start := time.Now()
	summary := &Summary{Subjects: len(subjects)}
	if len(subjects) == 0 {
		return summary, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := newWorkQueue()
	stop := context.AfterFunc(ctx, queue.close)
	defer stop()

	// Seed in reverse so the LIFO hands out subjects in input order
	for i := len(subjects) - 1; i >= 0; i-- {
		queue.push(task{phase: phaseSearch, subject: subjects[i]})
	}

	s.logger.Info("starting traversal",
		"subjects", len(subjects),
		"workers", s.workerCount,
		"recursive", s.resolver.recursive,
	)

	events := make(chan Event, s.eventBuffer)
	var reportErr error
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for ev := range events {
			summary.record(ev)
			if reportErr != nil {
				continue
			}
			if err := reporter.Report(ev); err != nil {
				reportErr = err
				s.logger.Error("reporter failed, stopping run", "error", err)
				cancel()
			}
		}
	}()

	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	spawn := func(t task) {
		queue.push(t)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workerCount; i++ {
		g.Go(func() error {
			for {
				t, ok := queue.pop()
				if !ok {
					return nil
				}
				s.resolver.step(gctx, t, emit, spawn)
				s.processed.Add(1)
				queue.done()
			}
		})
	}
	waitErr := g.Wait()

	close(events)
	<-consumerDone

	summary.Duplicates = s.resolver.Duplicates()
	summary.Elapsed = time.Since(start)

	s.logger.Info("traversal finished",
		"tasks", s.processed.Load(),
		"found", summary.Found,
		"fixers", summary.Fixers,
		"notFound", summary.NotFound,
		"branchErrors", summary.BranchErrors,
		"elapsed", summary.Elapsed.String(),
	)

	if reportErr != nil {
		return summary, reportErr
	}
	if waitErr != nil {
		return summary, waitErr
	}
	if err := ctx.Err(); err != nil {
		summary.Cancelled = true
		return summary, err
	}
	return summary, nil
}
