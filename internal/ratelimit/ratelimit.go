// Package ratelimit implements the admission guard in front of token
// issuance: a fixed-window counter per caller key.
package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Rate is a request budget per period.
type Rate struct {
	Count  int
	Period time.Duration
}

func (r Rate) String() string {
	switch r.Period {
	case time.Second:
		return fmt.Sprintf("%d/second", r.Count)
	case time.Minute:
		return fmt.Sprintf("%d/minute", r.Count)
	case time.Hour:
		return fmt.Sprintf("%d/hour", r.Count)
	}
	return fmt.Sprintf("%d/%s", r.Count, r.Period)
}

// PerSecond converts r to an average events-per-second figure.
func (r Rate) PerSecond() float64 {
	if r.Period <= 0 {
		return 0
	}
	return float64(r.Count) / r.Period.Seconds()
}

// ParseRate parses strings like "10/minute", "5/second" or "100/hour".
func ParseRate(s string) (Rate, error) {
	count, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: want <count>/<unit>", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q: count must be a positive integer", s)
	}
	var period time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "second":
		period = time.Second
	case "m", "min", "minute":
		period = time.Minute
	case "h", "hour":
		period = time.Hour
	default:
		return Rate{}, fmt.Errorf("invalid rate %q: unknown unit %q", s, unit)
	}
	return Rate{Count: n, Period: period}, nil
}

type window struct {
	start time.Time
	count int
}

// FixedWindow counts requests per key in windows aligned to the first request
// seen for that key.
type FixedWindow struct {
	rate     Rate
	now      func() time.Time
	isolated bool

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *FixedWindow) {
		if now != nil {
			f.now = now
		}
	}
}

// WithIsolatedKeys replaces every caller key with a fresh random key, so no
// two requests share a window. Used in test environments.
func WithIsolatedKeys() Option {
	return func(f *FixedWindow) {
		f.isolated = true
	}
}

func NewFixedWindow(rate Rate, opts ...Option) (*FixedWindow, error) {
	if rate.Count <= 0 || rate.Period <= 0 {
		return nil, errors.New("ratelimit: rate must be positive")
	}
	f := &FixedWindow{
		rate:    rate,
		now:     time.Now,
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *FixedWindow) Rate() Rate { return f.rate }

// Allow records a request for key. When the window is exhausted it returns
// false and the time until the window resets.
func (f *FixedWindow) Allow(key string) (bool, time.Duration) {
	if f.isolated {
		key = uuid.NewString()
	}
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.lastSweep) >= f.rate.Period {
		f.sweepLocked(now)
	}

	w, ok := f.windows[key]
	if !ok || now.Sub(w.start) >= f.rate.Period {
		w = &window{start: now}
		f.windows[key] = w
	}
	if w.count >= f.rate.Count {
		return false, w.start.Add(f.rate.Period).Sub(now)
	}
	w.count++
	return true, 0
}

// Len returns the number of tracked windows.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

// Sweep drops expired windows.
func (f *FixedWindow) Sweep() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepLocked(f.now())
}

func (f *FixedWindow) sweepLocked(now time.Time) {
	for key, w := range f.windows {
		if now.Sub(w.start) >= f.rate.Period {
			delete(f.windows, key)
		}
	}
	f.lastSweep = now
}

// RetryAfterSeconds rounds d up to whole seconds, with a minimum of one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
