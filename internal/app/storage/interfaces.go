// Package storage declares the persistence interfaces for the recruitment
// workflow. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/cooldown"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/outbox"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/vouch"
)

// Sentinel errors shared by all implementations. Services translate these
// into the API error taxonomy.
var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrDuplicateOpen   = errors.New("open application already exists")
)

// ApplicationStore persists application records. UpdateApplication is the
// single write path for existing records and enforces optimistic
// concurrency: it fails with ErrVersionMismatch unless expectedVersion
// matches the stored version, and increments the version on success.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app application.Application) (application.Application, error)
	UpdateApplication(ctx context.Context, app application.Application, expectedVersion int64) (application.Application, error)
	GetApplication(ctx context.Context, id string) (application.Application, error)
	GetOpenApplication(ctx context.Context, applicantID string) (application.Application, error)
	ListApplications(ctx context.Context, q application.Query) ([]application.Application, error)
	DeleteApplicationsByApplicant(ctx context.Context, applicantID string) ([]string, error)
}

// VouchStore persists append-only reviewer vouches.
type VouchStore interface {
	CreateVouch(ctx context.Context, v vouch.Vouch) (vouch.Vouch, error)
	ListVouches(ctx context.Context, applicationID string) ([]vouch.Vouch, error)
	DeleteVouchesByApplication(ctx context.Context, applicationID string) error
}

// CooldownStore persists cooldown records. UpdateCooldown uses the same
// optimistic-version discipline as the application store.
type CooldownStore interface {
	CreateCooldown(ctx context.Context, rec cooldown.Record) (cooldown.Record, error)
	UpdateCooldown(ctx context.Context, rec cooldown.Record, expectedVersion int64) (cooldown.Record, error)
	GetLatestCooldown(ctx context.Context, applicantID string) (cooldown.Record, error)
	DeleteCooldownsByApplicant(ctx context.Context, applicantID string) error
}

// AuditStore persists the append-only audit trail. Entries are write-once;
// RedactSubject rewrites only PII fields of entries referencing the subject.
type AuditStore interface {
	AppendAudit(ctx context.Context, e audit.Entry) (audit.Entry, error)
	ListAudit(ctx context.Context, q audit.Query) ([]audit.Entry, error)
	RedactSubject(ctx context.Context, subjectID string) (int, error)
}

// OutboxStore persists side-effect events for at-least-once dispatch.
type OutboxStore interface {
	EnqueueEvent(ctx context.Context, ev outbox.Event) (outbox.Event, error)
	GetEvent(ctx context.Context, id string) (outbox.Event, error)
	ListDueEvents(ctx context.Context, now time.Time, limit int) ([]outbox.Event, error)
	ListDeadEvents(ctx context.Context, limit int) ([]outbox.Event, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastErr string, dead bool) error
	RequeueEvent(ctx context.Context, id string) (outbox.Event, error)
}
