package admission

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStoreUnavailable is returned when the counter cache cannot be reached or times out.
	ErrStoreUnavailable = errors.New("counter store unavailable")
	// ErrOracleUnavailable is returned when the durable hit log cannot be queried during population.
	ErrOracleUnavailable = errors.New("hit oracle unavailable")
	// ErrInvalidIdentity marks a missing or malformed timezone; callers fall back to UTC.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrProfileNotFound is returned by profile lookups for unknown identities.
	ErrProfileNotFound = errors.New("profile not found")
)

// Reason is the machine-readable outcome of an admission decision.
type Reason string

const (
	ReasonOK                 Reason = "ok"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonOverQuota          Reason = "over_quota"
	ReasonServiceUnavailable Reason = "service_unavailable"
	ReasonBlocked            Reason = "blocked"
)

// Message returns the human readable error text used in deny responses.
func (r Reason) Message() string {
	switch r {
	case ReasonRateLimited:
		return "rate limit exceeded"
	case ReasonOverQuota:
		return "over quota"
	case ReasonServiceUnavailable:
		return "service unavailable"
	case ReasonBlocked:
		return "source blocked"
	default:
		return "ok"
	}
}

// FailurePolicy controls what a decision does when the store or oracle is unavailable.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "fail-open"
	FailClosed FailurePolicy = "fail-closed"
)

// ParseFailurePolicy accepts "fail-open"/"fail-closed" (also with underscores).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case string(FailOpen), "open":
		return FailOpen, nil
	case string(FailClosed), "closed":
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// SourceClass is the result of the optional source pre-filter.
type SourceClass int

const (
	SourceUnlisted SourceClass = iota
	SourceSafelisted
	SourceBlocked
)

// Usage describes one constraint at decision time.
type Usage struct {
	Limit int64     `json:"limit"`
	Used  int64     `json:"used"`
	Reset time.Time `json:"reset"`
}

// Remaining never goes below zero.
func (u Usage) Remaining() int64 {
	if u.Used >= u.Limit {
		return 0
	}
	return u.Limit - u.Used
}

// Decision is the structured result of an admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     Reason        `json:"reason"`
	RetryAfter time.Duration `json:"-"`
	// Degraded is set when a fail-open policy admitted the request without a full check.
	Degraded bool   `json:"degraded,omitempty"`
	Rate     *Usage `json:"rate,omitempty"`
	Quota    *Usage `json:"quota,omitempty"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for Retry-After headers.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int64(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

func Allow() Decision { return Decision{Allowed: true, Reason: ReasonOK} }

func Deny(reason Reason, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}
