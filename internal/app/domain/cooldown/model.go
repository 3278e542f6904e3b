// Package cooldown defines the per-applicant reapplication block that follows
// a denial.
package cooldown

import "time"

// Record is one cooldown window. Override is one-shot: it clears the current
// block only and does not exempt the applicant from a future denial.
type Record struct {
	ID           string    `json:"id"`
	ApplicantID  string    `json:"applicant_id"`
	DeniedAt     time.Time `json:"denied_at"`
	CooldownEnd  time.Time `json:"cooldown_end"`
	Overridden   bool      `json:"overridden"`
	OverrideBy   string    `json:"override_by,omitempty"`
	OverriddenAt time.Time `json:"overridden_at,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
}

// Active reports whether the record blocks reapplication at the given time.
func (r Record) Active(now time.Time) bool {
	return !r.Overridden && now.Before(r.CooldownEnd)
}
