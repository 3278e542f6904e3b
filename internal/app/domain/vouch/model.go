// Package vouch defines reviewer endorsements and objections on applications.
package vouch

import "time"

// Polarity marks a vouch as an endorsement or an objection.
type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
)

// Known reports whether p is a recognised polarity.
func (p Polarity) Known() bool {
	return p == PolarityPositive || p == PolarityNegative
}

// Vouch is an append-only reviewer statement about an application. A reviewer
// may record multiple vouches on the same application; aggregation counts
// every one.
type Vouch struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	ReviewerID    string    `json:"reviewer_id"`
	Polarity      Polarity  `json:"polarity"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Tally is the read-time aggregation of an application's vouches.
type Tally struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}
