package backends

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var relativeUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseSince resolves a --since value against now. It accepts the forms
// people actually pass to git: "2015-01-31", RFC 3339 timestamps and
// relative "N <unit>[s] ago" phrases. An empty value means unbounded.
func ParseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", value, now.Location()); err == nil {
		return t, nil
	}

	fields := strings.Fields(strings.ToLower(value))
	if len(fields) == 3 && fields[2] == "ago" {
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("invalid since value %q: bad count", value)
		}
		unit := strings.TrimSuffix(fields[1], "s")
		switch unit {
		case "month":
			return now.AddDate(0, -n, 0), nil
		case "year":
			return now.AddDate(-n, 0, 0), nil
		}
		if d, ok := relativeUnits[unit]; ok {
			return now.Add(-time.Duration(n) * d), nil
		}
		return time.Time{}, fmt.Errorf("invalid since value %q: unknown unit %q", value, fields[1])
	}

	return time.Time{}, fmt.Errorf("invalid since value %q", value)
}

// NewScope builds the run scope from user-facing settings
func NewScope(refs []string, since string, ignoreCase bool, now time.Time) (Scope, error) {
	sinceTime, err := ParseSince(since, now)
	if err != nil {
		return Scope{}, err
	}

	var cleaned []string
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			cleaned = append(cleaned, ref)
		}
	}

	return Scope{
		Refs:       cleaned,
		Since:      sinceTime,
		IgnoreCase: ignoreCase,
	}, nil
}
