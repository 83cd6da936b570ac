package backends

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// QueryObserver is notified once per completed history query
type QueryObserver interface {
	ObserveQuery(backend BackendID, kind QueryKind, err error, elapsed time.Duration, commits int)
}

// LimitConfig bounds how hard a run may hit the backend
type LimitConfig struct {
	// MaxInFlight caps concurrent queries; 0 means unlimited
	MaxInFlight int
	// QueriesPerSecond caps the query start rate; 0 means unlimited
	QueriesPerSecond float64
}

// Limiter wraps a Backend with a concurrency cap, a start-rate cap and
// per-query observation. It is itself a Backend.
type Limiter struct {
	next     Backend
	sem      *semaphore
	rate     *rate.Limiter
	observer QueryObserver
}

// semaphore implements a counting semaphore for rate limiting
type semaphore struct {
	permits chan struct{}
}

// newSemaphore creates a semaphore with the given number of permits
func newSemaphore(permits int) *semaphore {
	s := &semaphore{
		permits: make(chan struct{}, permits),
	}
	for i := 0; i < permits; i++ {
		s.permits <- struct{}{}
	}
	return s
}

// Acquire acquires a permit, blocking if none available
func (s *semaphore) Acquire(ctx context.Context) error {
	select {
	case <-s.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release releases a permit back to the semaphore
func (s *semaphore) Release() {
	select {
	case s.permits <- struct{}{}:
	default:
		// Should never happen unless Release called more than Acquire
	}
}

// NewLimiter wraps next. A nil observer is allowed.
func NewLimiter(next Backend, cfg LimitConfig, observer QueryObserver) *Limiter {
	l := &Limiter{
		next:     next,
		observer: observer,
	}
	if cfg.MaxInFlight > 0 {
		l.sem = newSemaphore(cfg.MaxInFlight)
	}
	if cfg.QueriesPerSecond > 0 {
		burst := int(math.Ceil(cfg.QueriesPerSecond))
		l.rate = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), burst)
	}
	return l
}

// ID returns the wrapped backend's identifier
func (l *Limiter) ID() BackendID {
	return l.next.ID()
}

// Ping is passed through without limiting
func (l *Limiter) Ping(ctx context.Context) error {
	return l.next.Ping(ctx)
}

// Log waits for a rate token and a permit, then runs the query
func (l *Limiter) Log(ctx context.Context, q Query, visit func(Commit) error) error {
	release, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	commits := 0
	err = l.next.Log(ctx, q, func(c Commit) error {
		commits++
		return visit(c)
	})

	l.observe(q.Kind, err, start, commits)
	return err
}

// ResolvePrefix is limited and observed like any other query
func (l *Limiter) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	release, err := l.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	start := time.Now()
	hash, err := l.next.ResolvePrefix(ctx, prefix)

	commits := 0
	if hash != "" {
		commits = 1
	}
	l.observe(ResolveQuery, err, start, commits)
	return hash, err
}

// acquire waits for a rate token and a permit; release returns the permit
func (l *Limiter) acquire(ctx context.Context) (release func(), err error) {
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if l.sem == nil {
		return func() {}, nil
	}
	if err := l.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	return l.sem.Release, nil
}

func (l *Limiter) observe(kind QueryKind, err error, start time.Time, commits int) {
	if l.observer != nil {
		l.observer.ObserveQuery(l.next.ID(), kind, err, time.Since(start), commits)
	}
}
