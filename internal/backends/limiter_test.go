package backends

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// slowBackend records the peak number of concurrent Log calls
type slowBackend struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	commits  []Commit
	err      error
}

func (b *slowBackend) ID() BackendID                  { return "slow" }
func (b *slowBackend) Ping(ctx context.Context) error { return nil }

func (b *slowBackend) Log(ctx context.Context, q Query, visit func(Commit) error) error {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-time.After(b.delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, c := range b.commits {
		if err := visit(c); err != nil {
			return err
		}
	}
	return b.err
}

func (b *slowBackend) ResolvePrefix(ctx context.Context, prefix string) (string, error) {
	for _, c := range b.commits {
		if strings.HasPrefix(c.Hash, prefix) {
			return c.Hash, b.err
		}
	}
	return "", b.err
}

type observation struct {
	backend BackendID
	kind    QueryKind
	err     error
	commits int
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingObserver) ObserveQuery(backend BackendID, kind QueryKind, err error, elapsed time.Duration, commits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{backend, kind, err, commits})
}

func TestLimiter_CapsInFlight(t *testing.T) {
	inner := &slowBackend{delay: 20 * time.Millisecond}
	limiter := NewLimiter(inner, LimitConfig{MaxInFlight: 2}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Log(context.Background(), NewSubjectQuery("x", Scope{}), func(Commit) error { return nil }); err != nil {
				t.Errorf("Log() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := inner.peak.Load(); peak > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	inner := &slowBackend{delay: 20 * time.Millisecond}
	limiter := NewLimiter(inner, LimitConfig{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Log(context.Background(), NewSubjectQuery("x", Scope{}), func(Commit) error { return nil })
		}()
	}
	wg.Wait()

	if peak := inner.peak.Load(); peak < 2 {
		t.Errorf("peak in-flight = %d, queries should overlap without a cap", peak)
	}
}

func TestLimiter_AcquireRespectsContext(t *testing.T) {
	inner := &slowBackend{delay: time.Second}
	limiter := NewLimiter(inner, LimitConfig{MaxInFlight: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		close(started)
		_ = limiter.Log(ctx, NewSubjectQuery("a", Scope{}), func(Commit) error { return nil })
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	err := limiter.Log(waitCtx, NewSubjectQuery("b", Scope{}), func(Commit) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Log() error = %v, want deadline exceeded while waiting for a permit", err)
	}
	cancel()
}

func TestLimiter_RateLimit(t *testing.T) {
	inner := &slowBackend{}
	limiter := NewLimiter(inner, LimitConfig{QueriesPerSecond: 20}, nil)

	start := time.Now()
	for i := 0; i < 30; i++ {
		if err := limiter.Log(context.Background(), NewFixesQuery("b5bf0f5b16b9", Scope{}), func(Commit) error { return nil }); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}
	// 20 burst tokens, the remaining 10 at 20/s
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("30 queries at 20/s took %v, expected rate limiting", elapsed)
	}
}

func TestLimiter_ObservesQueries(t *testing.T) {
	inner := &slowBackend{
		commits: []Commit{{Hash: "a"}, {Hash: "b"}, {Hash: "c"}},
	}
	obs := &recordingObserver{}
	limiter := NewLimiter(inner, LimitConfig{MaxInFlight: 1}, obs)

	var seen int
	err := limiter.Log(context.Background(), NewFixesQuery("abc1234", Scope{}), func(Commit) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if seen != 3 {
		t.Errorf("visited %d commits, want 3", seen)
	}

	inner.err = errors.New("git exploded")
	if err := limiter.Log(context.Background(), NewSubjectQuery("x", Scope{}), func(Commit) error { return nil }); err == nil {
		t.Fatal("expected backend error to pass through")
	}

	if len(obs.obs) != 2 {
		t.Fatalf("observed %d queries, want 2", len(obs.obs))
	}
	first := obs.obs[0]
	if first.backend != "slow" || first.kind != FixesQuery || first.commits != 3 || first.err != nil {
		t.Errorf("first observation = %+v", first)
	}
	if obs.obs[1].err == nil {
		t.Error("second observation should carry the backend error")
	}
}

func TestLimiter_ResolvePrefixSharesPermits(t *testing.T) {
	inner := &slowBackend{commits: []Commit{{Hash: "abcdef1a00"}}}
	obs := &recordingObserver{}
	limiter := NewLimiter(inner, LimitConfig{MaxInFlight: 1}, obs)

	got, err := limiter.ResolvePrefix(context.Background(), "abcdef1")
	if err != nil {
		t.Fatalf("ResolvePrefix() error = %v", err)
	}
	if got != "abcdef1a00" {
		t.Errorf("ResolvePrefix() = %q, want abcdef1a00", got)
	}

	// a second call must get the permit back
	if _, err := limiter.ResolvePrefix(context.Background(), "0000000"); err != nil {
		t.Fatalf("ResolvePrefix() error = %v", err)
	}

	if len(obs.obs) != 2 {
		t.Fatalf("observed %d queries, want 2", len(obs.obs))
	}
	if obs.obs[0].kind != ResolveQuery || obs.obs[0].commits != 1 {
		t.Errorf("first observation = %+v", obs.obs[0])
	}
	if obs.obs[1].commits != 0 {
		t.Errorf("unresolved prefix observed %d commits, want 0", obs.obs[1].commits)
	}
}

func TestIsHex(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"abcdef0123", true},
		{"ABCDEF", true},
		{" ", false},
		{"abc%", false},
		{"b5bf_f5", false},
		{"g123", false},
	}
	for _, tt := range tests {
		if got := IsHex(tt.in); got != tt.want {
			t.Errorf("IsHex(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLimiter_VisitErrorStops(t *testing.T) {
	inner := &slowBackend{
		commits: []Commit{{Hash: "a"}, {Hash: "b"}},
	}
	limiter := NewLimiter(inner, LimitConfig{}, nil)
	stop := errors.New("stop")

	var seen int
	err := limiter.Log(context.Background(), NewSubjectQuery("x", Scope{}), func(Commit) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Log() error = %v, want visit error", err)
	}
	if seen != 1 {
		t.Errorf("visited %d commits after stop, want 1", seen)
	}
}

func TestLimiter_ID(t *testing.T) {
	limiter := NewLimiter(&slowBackend{}, LimitConfig{}, nil)
	if limiter.ID() != "slow" {
		t.Errorf("ID() = %q, want wrapped backend id", limiter.ID())
	}
	if err := limiter.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
