package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"fixhunt/internal/backends"
	"fixhunt/internal/errors"
	"fixhunt/internal/fixchain"
)

func TestObserveQuery(t *testing.T) {
	m := New()

	m.ObserveQuery(backends.BackendGit, backends.FixesQuery, nil, 20*time.Millisecond, 3)
	m.ObserveQuery(backends.BackendGit, backends.FixesQuery, nil, 30*time.Millisecond, 2)
	m.ObserveQuery(backends.BackendGit, backends.SubjectQuery,
		errors.New(errors.Timeout, "git command timed out", nil, nil), time.Second, 0)
	m.ObserveQuery(backends.BackendGoGit, backends.SubjectQuery, context.Canceled, time.Millisecond, 0)

	tests := []struct {
		labels []string
		want   float64
	}{
		{[]string{"git", "fixes", "ok"}, 2},
		{[]string{"git", "subject", "TIMEOUT"}, 1},
		{[]string{"gogit", "subject", "cancelled"}, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.QueriesTotal.WithLabelValues(tt.labels...)); got != tt.want {
			t.Errorf("queries%v = %v, want %v", tt.labels, got, tt.want)
		}
	}

	if got := testutil.ToFloat64(m.CommitsScanned.WithLabelValues("git", "fixes")); got != 5 {
		t.Errorf("commits scanned = %v, want 5", got)
	}
	if got := testutil.CollectAndCount(m.QueryDuration); got != 3 {
		t.Errorf("duration series = %d, want 3", got)
	}
}

func TestReport(t *testing.T) {
	m := New()

	events := []fixchain.Event{
		{Kind: fixchain.Found},
		{Kind: fixchain.FixedBy, Depth: 1},
		{Kind: fixchain.FixedBy, Depth: 2},
		{Kind: fixchain.NotFound},
	}
	for _, ev := range events {
		if err := m.Report(ev); err != nil {
			t.Fatalf("Report() error = %v", err)
		}
	}

	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("fixed_by")); got != 2 {
		t.Errorf("fixed_by events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EventsTotal.WithLabelValues("not_found")); got != 1 {
		t.Errorf("not_found events = %v, want 1", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveQuery(backends.BackendGit, backends.SubjectQuery, nil, time.Millisecond, 1)
	_ = m.Report(fixchain.Event{Kind: fixchain.Found})
	m.Finish(&fixchain.Summary{Elapsed: 2 * time.Second}, time.Unix(1700000000, 0))

	if got := testutil.ToFloat64(m.RunDuration); got != 2 {
		t.Errorf("run duration = %v, want 2", got)
	}

	path := filepath.Join(t.TempDir(), "fixhunt.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`fixhunt_backend_queries_total{backend="git",kind="subject",status="ok"} 1`,
		`fixhunt_events_total{kind="found"} 1`,
		`fixhunt_run_last_finished_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
