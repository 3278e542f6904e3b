// Package decisions implements the decision engine: the only component that
// moves an application between states. Every transition is a version-guarded
// write followed by exactly one audit entry, and side effects are queued
// through the outbox only after the state change durably commits.
package decisions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/cooldown"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/outbox"
	"github.com/corsairs-gg/quartermaster/internal/app/metrics"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// CooldownRecorder opens a cooldown window after a denial.
type CooldownRecorder interface {
	RecordDenial(ctx context.Context, applicantID string, days int) (cooldown.Record, error)
}

// Auditor records audit entries.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Service is the decision engine.
type Service struct {
	apps      storage.ApplicationStore
	outbox    storage.OutboxStore
	cooldowns CooldownRecorder
	auditor   Auditor
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the decision engine.
func New(apps storage.ApplicationStore, ob storage.OutboxStore, cooldowns CooldownRecorder, auditor Auditor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("decisions")
	}
	return &Service{
		apps:      apps,
		outbox:    ob,
		cooldowns: cooldowns,
		auditor:   auditor,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// RequestInterview moves a pending application to interviewing and queues
// channel creation. Requesting an interview for an application that is
// already interviewing is a no-op returning the current record.
func (s *Service) RequestInterview(ctx context.Context, applicationID, actorID string, expectedVersion int64) (application.Application, error) {
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return application.Application{}, err
	}
	if app.Status == application.StatusInterviewing {
		return app, nil
	}

	updated, before, err := s.transition(ctx, app, application.StatusInterviewing, expectedVersion, func(a *application.Application) {})
	if err != nil {
		return application.Application{}, err
	}

	if err := s.audit(ctx, actorID, audit.ActionRequestInterview, updated, before); err != nil {
		return application.Application{}, err
	}

	s.enqueue(ctx, outbox.KindInterviewRequested, updated.ID, outbox.InterviewRequestedPayload{
		ApplicantUserID: updated.Applicant.UserID,
		DisplayName:     updated.Applicant.DisplayName,
	})

	s.log.WithField("application_id", updated.ID).
		WithField("actor_id", actorID).
		Info("interview requested")
	return updated, nil
}

// Approve moves an interviewing application to approved, queues channel
// cleanup and a member welcome.
func (s *Service) Approve(ctx context.Context, applicationID, actorID, notes string, expectedVersion int64) (application.Application, error) {
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return application.Application{}, err
	}

	updated, before, err := s.transition(ctx, app, application.StatusApproved, expectedVersion, func(a *application.Application) {
		a.DecidedAt = s.now()
		a.DecisionNotes = notes
	})
	if err != nil {
		return application.Application{}, err
	}

	// The status change has committed; a failed audit append must not hold
	// back the queued effects or the interview channel leaks with no retry.
	auditErr := s.audit(ctx, actorID, audit.ActionDecide, updated, before)

	if before.ChannelRef != "" {
		s.enqueue(ctx, outbox.KindCleanupInterviewChannel, updated.ID, outbox.CleanupPayload{ChannelRef: before.ChannelRef})
	}
	s.enqueue(ctx, outbox.KindMemberWelcomed, updated.ID, outbox.WelcomePayload{
		ApplicantUserID: updated.Applicant.UserID,
		DisplayName:     updated.Applicant.DisplayName,
	})
	if auditErr != nil {
		return application.Application{}, auditErr
	}

	s.log.WithField("application_id", updated.ID).
		WithField("actor_id", actorID).
		Info("application approved")
	return updated, nil
}

// Deny moves an application to rejected and opens a cooldown window.
// cooldownDays <= 0 uses the ledger's configured default. The cooldown record
// and the denial share a single audit entry, the decision's.
func (s *Service) Deny(ctx context.Context, applicationID, actorID, notes string, cooldownDays int, expectedVersion int64) (application.Application, error) {
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return application.Application{}, err
	}

	updated, before, err := s.transition(ctx, app, application.StatusRejected, expectedVersion, func(a *application.Application) {
		a.DecidedAt = s.now()
		a.DecisionNotes = notes
	})
	if err != nil {
		return application.Application{}, err
	}

	if s.cooldowns != nil {
		if _, err := s.cooldowns.RecordDenial(ctx, updated.Applicant.UserID, cooldownDays); err != nil {
			// The denial stands; a missing cooldown only fails open for the
			// applicant, which beats blocking the decision.
			s.log.WithError(err).
				WithField("applicant_id", updated.Applicant.UserID).
				Error("cooldown record failed after denial")
		}
	}

	auditErr := s.audit(ctx, actorID, audit.ActionDecide, updated, before)

	if before.ChannelRef != "" {
		s.enqueue(ctx, outbox.KindCleanupInterviewChannel, updated.ID, outbox.CleanupPayload{ChannelRef: before.ChannelRef})
	}
	if auditErr != nil {
		return application.Application{}, auditErr
	}

	s.log.WithField("application_id", updated.ID).
		WithField("actor_id", actorID).
		Info("application denied")
	return updated, nil
}

// Withdraw moves a pending or interviewing application to withdrawn at the
// applicant's request. No cooldown is recorded.
func (s *Service) Withdraw(ctx context.Context, applicationID, actorID string, expectedVersion int64) (application.Application, error) {
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return application.Application{}, err
	}

	updated, before, err := s.transition(ctx, app, application.StatusWithdrawn, expectedVersion, func(a *application.Application) {
		a.DecidedAt = s.now()
	})
	if err != nil {
		return application.Application{}, err
	}

	auditErr := s.audit(ctx, actorID, audit.ActionWithdraw, updated, before)

	if before.ChannelRef != "" {
		s.enqueue(ctx, outbox.KindCleanupInterviewChannel, updated.ID, outbox.CleanupPayload{ChannelRef: before.ChannelRef})
	}
	if auditErr != nil {
		return application.Application{}, auditErr
	}

	s.log.WithField("application_id", updated.ID).
		WithField("actor_id", actorID).
		Info("application withdrawn")
	return updated, nil
}

func (s *Service) load(ctx context.Context, id string) (application.Application, error) {
	app, err := s.apps.GetApplication(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return application.Application{}, apperrors.NotFound("application")
	}
	if err != nil {
		return application.Application{}, apperrors.Internal("load application", err)
	}
	return app, nil
}

// transition applies a single guarded status change. The caller's mutate
// callback runs after the status is set so decision metadata rides the same
// write. The pre-image is returned for audit.
func (s *Service) transition(ctx context.Context, app application.Application, to application.Status, expectedVersion int64, mutate func(*application.Application)) (application.Application, application.Application, error) {
	if !application.CanTransition(app.Status, to) {
		return application.Application{}, application.Application{}, apperrors.InvalidTransition(string(app.Status), string(to)).
			WithDetails("current_version", app.Version)
	}

	before := app
	app.Status = to
	// The channel reference only belongs to an interviewing application;
	// cleanup events read it from the pre-image.
	if to != application.StatusInterviewing {
		app.ChannelRef = ""
	}
	mutate(&app)

	updated, err := s.apps.UpdateApplication(ctx, app, expectedVersion)
	if errors.Is(err, storage.ErrVersionMismatch) {
		current, getErr := s.apps.GetApplication(ctx, app.ID)
		conflict := apperrors.Conflict("application changed since it was read")
		if getErr == nil {
			conflict = conflict.WithDetails("current_version", current.Version).
				WithDetails("current_status", string(current.Status))
		}
		return application.Application{}, application.Application{}, conflict
	}
	if err != nil {
		return application.Application{}, application.Application{}, apperrors.Internal("update application", err)
	}
	metrics.RecordDecision(string(updated.Status))
	return updated, before, nil
}

func (s *Service) audit(ctx context.Context, actorID string, action audit.Action, after, before application.Application) error {
	if s.auditor == nil {
		return nil
	}
	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(after)
	if _, err := s.auditor.Append(ctx, audit.Entry{
		ActorID:   actorID,
		Action:    action,
		TargetRef: "application:" + after.ID,
		Before:    beforeJSON,
		After:     afterJSON,
		Context:   audit.Context{SubjectID: after.Applicant.UserID},
	}); err != nil {
		return apperrors.Internal("audit transition", err)
	}
	return nil
}

// enqueue queues a side effect. Enqueue failures are logged, not surfaced:
// the state change has already committed and the trail records it. The sweep
// job re-emits effects for interviewing applications without a channel.
func (s *Service) enqueue(ctx context.Context, kind outbox.Kind, applicationID string, payload interface{}) {
	if s.outbox == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).WithField("kind", string(kind)).Error("marshal outbox payload")
		return
	}
	if _, err := s.outbox.EnqueueEvent(ctx, outbox.Event{
		Kind:          kind,
		ApplicationID: applicationID,
		Payload:       raw,
	}); err != nil {
		s.log.WithError(err).
			WithField("kind", string(kind)).
			WithField("application_id", applicationID).
			Error("enqueue outbox event")
	}
}
