package quota

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
)

// MaxOffsetMinutes bounds real-world UTC offsets (UTC-12:00 .. UTC+14:00, with slack on the west side).
const MaxOffsetMinutes = 14 * 60

// PeriodKind names the accounting period used for quotas.
type PeriodKind string

const PeriodCalendarMonth PeriodKind = "calendar_month"

// Identity is the caller being metered, resolved once per request.
type Identity struct {
	ID uuid.UUID `json:"id"`
	// TimezoneOffset is minutes east of UTC at evaluation time.
	TimezoneOffset int `json:"timezone_offset"`
}

// NewIdentity validates the offset; an invalid offset yields a UTC identity and ErrInvalidIdentity.
func NewIdentity(id uuid.UUID, offsetMinutes int) (Identity, error) {
	off, err := NormalizeOffset(offsetMinutes)
	return Identity{ID: id, TimezoneOffset: off}, err
}

// NormalizeOffset returns 0 and ErrInvalidIdentity for offsets outside ±14h.
func NormalizeOffset(offsetMinutes int) (int, error) {
	if offsetMinutes > MaxOffsetMinutes || offsetMinutes < -MaxOffsetMinutes {
		return 0, fmt.Errorf("%w: timezone offset %d minutes out of range", admission.ErrInvalidIdentity, offsetMinutes)
	}
	return offsetMinutes, nil
}

// Period is the [Start, End) accounting window, expressed as UTC instants.
type Period struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	TimezoneOffset int       `json:"timezone_offset"`
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Remaining is the time left until End, never negative.
func (p Period) Remaining(now time.Time) time.Duration {
	d := p.End.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// BoundaryFor returns the local calendar month containing now for the given offset.
// Start is 00:00 local on the 1st, End is 00:00 local on the 1st of the next month.
func BoundaryFor(now time.Time, offsetMinutes int) Period {
	loc := time.FixedZone(zoneName(offsetMinutes), offsetMinutes*60)
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)
	return Period{Start: start.UTC(), End: end.UTC(), TimezoneOffset: offsetMinutes}
}

func zoneName(offsetMinutes int) string {
	sign := '+'
	if offsetMinutes < 0 {
		sign = '-'
		offsetMinutes = -offsetMinutes
	}
	return fmt.Sprintf("UTC%c%02d:%02d", sign, offsetMinutes/60, offsetMinutes%60)
}

// CounterKey builds the cache key of an identity's counter for one period.
// Period start is part of the key, so counters never carry over between periods.
func CounterKey(prefix string, id uuid.UUID, p Period) string {
	return fmt.Sprintf("%s:%s:%d", prefix, id.String(), p.Start.Unix())
}

// CounterRecord is the cached hit count of one identity for one period.
type CounterRecord struct {
	Key         string    `json:"key"`
	PeriodStart time.Time `json:"period_start"`
	Count       int64     `json:"count"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Policy is the process-wide quota configuration.
type Policy struct {
	Limit           int64
	Kind            PeriodKind
	FreshnessWindow time.Duration
	KeyPrefix       string
}

// Status is the result of a quota check.
type Status struct {
	Count   int64  `json:"count"`
	Limit   int64  `json:"limit"`
	Allowed bool   `json:"allowed"`
	Period  Period `json:"period"`
}

func (s Status) Remaining() int64 {
	if s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}
