package model

import (
	"fmt"
	"strings"
	"time"
)

// Resolution is a bucket length. Native keeps every event as its own bar.
type Resolution int

const (
	Native Resolution = iota
	Second
	Minute
	Hour
	Daily
)

// DefaultResolutions is native first, then coarsening.
var DefaultResolutions = []Resolution{Native, Second, Minute, Hour, Daily}

// Duration returns the bucket length; zero for Native.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Second:
		return time.Second
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// BucketStart maps t to the start of its bucket. Buckets are UTC-aligned and
// half-open, so BucketStart(t) <= t < BucketStart(t)+Duration().
func (r Resolution) BucketStart(t time.Time) time.Time {
	d := r.Duration()
	if d == 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(d)
}

func (r Resolution) String() string {
	switch r {
	case Native:
		return "tick"
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Daily:
		return "daily"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

// ParseResolution accepts tick|native, second, minute, hour, daily|day.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tick", "native":
		return Native, nil
	case "second":
		return Second, nil
	case "minute":
		return Minute, nil
	case "hour":
		return Hour, nil
	case "daily", "day":
		return Daily, nil
	default:
		return 0, fmt.Errorf("unknown resolution %q", s)
	}
}

// ParseResolutions parses a comma separated list.
func ParseResolutions(s string) ([]Resolution, error) {
	var out []Resolution
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := ParseResolution(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
