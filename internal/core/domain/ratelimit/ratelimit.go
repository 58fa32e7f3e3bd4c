package ratelimit

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Algorithm identifies a rate limiting algorithm.
type Algorithm string

const (
	// AlgorithmFixedWindow counts requests in epoch-aligned windows. Up to 2x the limit
	// can pass across a window boundary.
	AlgorithmFixedWindow Algorithm = "fixed"
	// AlgorithmSlidingWindow weights the previous window by how much of it still overlaps.
	AlgorithmSlidingWindow Algorithm = "sliding"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case AlgorithmFixedWindow, "fixed_window", "":
		return AlgorithmFixedWindow, nil
	case AlgorithmSlidingWindow, "sliding_window":
		return AlgorithmSlidingWindow, nil
	default:
		return "", fmt.Errorf("unknown rate limit algorithm %q", s)
	}
}

// Policy is the process-wide per-source limit.
type Policy struct {
	Limit     int64
	Window    time.Duration
	Algorithm Algorithm
	KeyPrefix string
}

// Window is the counter of one source in one window.
type Window struct {
	Key   string    `json:"key"`
	Start time.Time `json:"start"`
	Count int64     `json:"count"`
}

// Status is the result of a rate limit check.
type Status struct {
	Throttled   bool          `json:"throttled"`
	Count       int64         `json:"count"`
	Limit       int64         `json:"limit"`
	WindowStart time.Time     `json:"window_start"`
	Reset       time.Time     `json:"reset"`
	RetryAfter  time.Duration `json:"-"`
}

func (s Status) Remaining() int64 {
	if s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}

// WindowStart floors now to a multiple of window since the Unix epoch.
func WindowStart(now time.Time, window time.Duration) time.Time {
	w := window.Nanoseconds()
	if w <= 0 {
		return now.UTC()
	}
	n := now.UnixNano()
	r := n % w
	if r < 0 {
		r += w
	}
	return time.Unix(0, n-r).UTC()
}

// SourceKey normalises a source identifier and hashes it to a fixed-length token, so
// raw addresses or API keys never appear in the cache namespace.
func SourceKey(source string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(strings.TrimSpace(source))))
	return hex.EncodeToString(sum[:16])
}

// WindowKey builds the cache key of a source's counter for the window starting at start.
func WindowKey(prefix, source string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%d", prefix, SourceKey(source), start.Unix())
}
