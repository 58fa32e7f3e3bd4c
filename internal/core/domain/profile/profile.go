package profile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avatarctic/quota-admission/internal/core/domain/admission"
)

// Profile is the externally owned user record the engine reads timezones from.
type Profile struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	DisplayName string    `json:"display_name" db:"display_name"`
	// Timezone is an IANA zone name; it wins over TimezoneOffset when set.
	Timezone       string    `json:"timezone" db:"timezone"`
	TimezoneOffset *int      `json:"timezone_offset,omitempty" db:"timezone_offset"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// OffsetAt resolves the UTC offset in minutes at the given instant, so daylight-saving
// changes are picked up on every evaluation.
func (p *Profile) OffsetAt(now time.Time) (int, error) {
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			return 0, fmt.Errorf("%w: unknown timezone %q", admission.ErrInvalidIdentity, p.Timezone)
		}
		_, secs := now.In(loc).Zone()
		return secs / 60, nil
	}
	if p.TimezoneOffset != nil {
		return *p.TimezoneOffset, nil
	}
	return 0, nil
}
