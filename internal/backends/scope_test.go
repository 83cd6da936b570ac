package backends

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value   string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2015-01-31", time.Date(2015, 1, 31, 0, 0, 0, 0, time.UTC), false},
		{"2015-01-31 08:30:00", time.Date(2015, 1, 31, 8, 30, 0, 0, time.UTC), false},
		{"2020-02-01T10:00:00Z", time.Date(2020, 2, 1, 10, 0, 0, 0, time.UTC), false},
		{"10 years ago", time.Date(2014, 6, 15, 12, 0, 0, 0, time.UTC), false},
		{"1 year ago", time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC), false},
		{"3 months ago", time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC), false},
		{"2 Weeks Ago", time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), false},
		{"36 hours ago", time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), false},
		{"yesterday", time.Time{}, true},
		{"ten years ago", time.Time{}, true},
		{"5 fortnights ago", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseSince(tt.value, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSince(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseSince(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestNewScope(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	scope, err := NewScope([]string{" master ", "", "linux-6.1.y"}, "1 year ago", true, now)
	if err != nil {
		t.Fatalf("NewScope() error = %v", err)
	}
	if diff := cmp.Diff([]string{"master", "linux-6.1.y"}, scope.Refs); diff != "" {
		t.Errorf("Refs mismatch (-want +got):\n%s", diff)
	}
	if !scope.Since.Equal(now.AddDate(-1, 0, 0)) {
		t.Errorf("Since = %v", scope.Since)
	}
	if !scope.IgnoreCase {
		t.Error("IgnoreCase not carried over")
	}

	if _, err := NewScope(nil, "whenever", false, now); err == nil {
		t.Error("expected error for unparseable since")
	}
}
