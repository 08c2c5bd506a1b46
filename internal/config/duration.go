package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout asks the notification service to apply its own expiry.
const DefaultTimeout int32 = -1

// ParseTimeout parses a notification expire timeout in milliseconds.
//
// Accepted forms: an integer ("5000", "-1", "0") or a Go duration ("5s",
// "1m30s"). 0 means "never expire" and -1 means "service default".
// An empty value reports ok=false.
func ParseTimeout(raw string) (ms int32, ok bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < -1 || n > math.MaxInt32 {
			return 0, false, fmt.Errorf("timeout %q out of range", raw)
		}
		return int32(n), true, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("timeout %q must be >= 0", raw)
	}
	n := d.Milliseconds()
	if n > math.MaxInt32 {
		return 0, false, fmt.Errorf("timeout %q out of range", raw)
	}
	return int32(n), true, nil
}

// ParseDurationField parses a Go duration option; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
