// Package audit defines the immutable audit trail entry.
package audit

import "time"

// Action identifies the kind of state change an entry records.
type Action string

const (
	ActionSubmit           Action = "application.submit"
	ActionRequestInterview Action = "application.request_interview"
	ActionDecide           Action = "application.decide"
	ActionWithdraw         Action = "application.withdraw"
	ActionChannelAttach    Action = "application.channel_attach"
	ActionVouch            Action = "vouch.add"
	ActionCooldownRecord   Action = "cooldown.record"
	ActionCooldownOverride Action = "cooldown.override"
	ActionErasure          Action = "applicant.erase"
)

// Entry is one append-only audit record. Entries are never updated or
// deleted; a data-erasure request rewrites only the PII fields of entries
// referencing the erased subject.
type Entry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    Action    `json:"action"`
	TargetRef string    `json:"target_ref"`
	Before    []byte    `json:"before,omitempty"`
	After     []byte    `json:"after,omitempty"`
	Context   Context   `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// Context captures request-level metadata attached to an entry.
type Context struct {
	RemoteAddr string `json:"remote_addr,omitempty"`
	Notes      string `json:"notes,omitempty"`
	SubjectID  string `json:"subject_id,omitempty"`
}

// Query filters audit listings and exports.
type Query struct {
	ActorID   string
	TargetRef string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}
