// Package application defines the membership application aggregate and its
// status lifecycle.
package application

import "time"

// Status is the lifecycle state of an application.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInterviewing Status = "interviewing"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusWithdrawn    Status = "withdrawn"
)

// allowedEdges is the complete transition set. No edge leaves a terminal
// state.
var allowedEdges = map[Status][]Status{
	StatusPending:      {StatusInterviewing, StatusRejected, StatusWithdrawn},
	StatusInterviewing: {StatusApproved, StatusRejected, StatusWithdrawn},
}

// Known reports whether s is a recognised status value.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusInterviewing, StatusApproved, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// Terminal reports whether s absorbs all further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// CanTransition reports whether the from→to edge is in the allowed set.
func CanTransition(from, to Status) bool {
	for _, next := range allowedEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Applicant identifies a prospective member by their stable chat-platform id.
type Applicant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// Application is the durable record of one membership application. Version
// implements optimistic concurrency: every successful mutation increments it,
// and writers must present the version they read.
type Application struct {
	ID            string    `json:"id"`
	Applicant     Applicant `json:"applicant"`
	FormPayload   []byte    `json:"form_payload,omitempty"`
	Status        Status    `json:"status"`
	SubmittedAt   time.Time `json:"submitted_at"`
	DecidedAt     time.Time `json:"decided_at,omitempty"`
	DecisionNotes string    `json:"decision_notes,omitempty"`
	ChannelRef    string    `json:"channel_ref,omitempty"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Query filters application listings.
type Query struct {
	Status      Status
	ApplicantID string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}
