// Package outbox defines the side-effect events the decision engine emits for
// asynchronous execution by the interview channel orchestrator.
package outbox

import (
	"encoding/json"
	"time"
)

// Kind identifies the side effect an event requests.
type Kind string

const (
	KindInterviewRequested      Kind = "interview.requested"
	KindCleanupInterviewChannel Kind = "interview.cleanup"
	KindMemberWelcomed          Kind = "member.welcomed"
)

// State tracks delivery progress. Events are enqueued only after the
// triggering state transition durably commits and are delivered at least
// once; consumers must be idempotent.
type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	StateDead      State = "dead"
)

// Event is one queued side effect.
type Event struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	ApplicationID string          `json:"application_id"`
	Payload       json.RawMessage `json:"payload"`
	State         State           `json:"state"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	DeliveredAt   time.Time       `json:"delivered_at,omitempty"`
}

// InterviewRequestedPayload accompanies KindInterviewRequested.
type InterviewRequestedPayload struct {
	ApplicantUserID string `json:"applicant_user_id"`
	DisplayName     string `json:"display_name"`
}

// CleanupPayload accompanies KindCleanupInterviewChannel.
type CleanupPayload struct {
	ChannelRef string `json:"channel_ref"`
}

// WelcomePayload accompanies KindMemberWelcomed.
type WelcomePayload struct {
	ApplicantUserID string `json:"applicant_user_id"`
	DisplayName     string `json:"display_name"`
}
