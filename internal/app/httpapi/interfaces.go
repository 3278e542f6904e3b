package httpapi

import (
	"context"
	"io"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/cooldown"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/outbox"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/vouch"
	"github.com/corsairs-gg/quartermaster/internal/app/services/erasure"
)

// ApplicationService is the intake and read surface.
type ApplicationService interface {
	Submit(ctx context.Context, applicant application.Applicant, formPayload []byte) (application.Application, error)
	Get(ctx context.Context, id string) (application.Application, error)
	List(ctx context.Context, q application.Query) ([]application.Application, error)
}

// VouchService records and lists reviewer vouches.
type VouchService interface {
	Add(ctx context.Context, applicationID, reviewerID string, polarity vouch.Polarity, comment string) (vouch.Vouch, error)
	List(ctx context.Context, applicationID string) ([]vouch.Vouch, error)
	Tally(ctx context.Context, applicationID string) (vouch.Tally, error)
}

// CooldownService exposes ledger reads and the admin override.
type CooldownService interface {
	Status(ctx context.Context, applicantID string) (cooldown.Record, bool, error)
	Override(ctx context.Context, applicantID, actorID string) (cooldown.Record, error)
}

// DecisionService drives application state transitions.
type DecisionService interface {
	RequestInterview(ctx context.Context, applicationID, actorID string, expectedVersion int64) (application.Application, error)
	Approve(ctx context.Context, applicationID, actorID, notes string, expectedVersion int64) (application.Application, error)
	Deny(ctx context.Context, applicationID, actorID, notes string, cooldownDays int, expectedVersion int64) (application.Application, error)
	Withdraw(ctx context.Context, applicationID, actorID string, expectedVersion int64) (application.Application, error)
}

// AuditService lists and exports the trail.
type AuditService interface {
	List(ctx context.Context, q audit.Query) ([]audit.Entry, error)
	ExportCSV(ctx context.Context, q audit.Query, w io.Writer) error
}

// OutboxService exposes dead-letter inspection and retry.
type OutboxService interface {
	DeadLetters(ctx context.Context, limit int) ([]outbox.Event, error)
	Retry(ctx context.Context, eventID string) (outbox.Event, error)
}

// ErasureService handles data-erasure requests.
type ErasureService interface {
	Erase(ctx context.Context, applicantID, actorID string) (erasure.Result, error)
}
