// Package applications implements the application store service: intake,
// version-guarded reads and the channel-reference write path used by the
// orchestrator.
package applications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/cooldown"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// requiredFormFields must be present and non-empty in the intake payload.
var requiredFormFields = []string{"ingame_name", "hours_played", "region"}

// CooldownChecker reports whether an applicant is blocked from reapplying.
type CooldownChecker interface {
	IsBlocked(ctx context.Context, applicantID string) (bool, cooldown.Record, error)
}

// Auditor records audit entries.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Service provides intake and read access to applications.
type Service struct {
	store     storage.ApplicationStore
	cooldowns CooldownChecker
	auditor   Auditor
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the application service.
func New(store storage.ApplicationStore, cooldowns CooldownChecker, auditor Auditor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("applications")
	}
	return &Service{
		store:     store,
		cooldowns: cooldowns,
		auditor:   auditor,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// Submit validates the intake form and creates a pending application. It
// fails with Conflict if the applicant already has an open application or is
// blocked by an active cooldown.
func (s *Service) Submit(ctx context.Context, applicant application.Applicant, formPayload []byte) (application.Application, error) {
	if strings.TrimSpace(applicant.UserID) == "" {
		return application.Application{}, apperrors.Validation("applicant user id is required")
	}
	if strings.TrimSpace(applicant.DisplayName) == "" {
		return application.Application{}, apperrors.Validation("applicant display name is required")
	}
	if err := validateForm(formPayload); err != nil {
		return application.Application{}, err
	}

	if _, err := s.store.GetOpenApplication(ctx, applicant.UserID); err == nil {
		return application.Application{}, apperrors.Conflict("an open application already exists for this applicant")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return application.Application{}, apperrors.Internal("check open application", err)
	}

	if s.cooldowns != nil {
		blocked, rec, err := s.cooldowns.IsBlocked(ctx, applicant.UserID)
		if err != nil {
			return application.Application{}, err
		}
		if blocked {
			return application.Application{}, apperrors.Conflict("applicant is in a reapplication cooldown").
				WithDetails("cooldown_end", rec.CooldownEnd)
		}
	}

	created, err := s.store.CreateApplication(ctx, application.Application{
		Applicant:   applicant,
		FormPayload: formPayload,
		Status:      application.StatusPending,
		SubmittedAt: s.now(),
	})
	if errors.Is(err, storage.ErrDuplicateOpen) {
		return application.Application{}, apperrors.Conflict("an open application already exists for this applicant")
	}
	if err != nil {
		return application.Application{}, apperrors.Internal("create application", err)
	}

	after, _ := json.Marshal(created)
	if s.auditor != nil {
		if _, err := s.auditor.Append(ctx, audit.Entry{
			ActorID:   applicant.UserID,
			Action:    audit.ActionSubmit,
			TargetRef: "application:" + created.ID,
			After:     after,
			Context:   audit.Context{SubjectID: applicant.UserID},
		}); err != nil {
			return application.Application{}, apperrors.Internal("audit submission", err)
		}
	}

	s.log.WithField("application_id", created.ID).
		WithField("applicant_id", applicant.UserID).
		Info("application submitted")
	return created, nil
}

func validateForm(payload []byte) error {
	if len(payload) == 0 {
		return apperrors.Validation("form payload is required")
	}
	if !gjson.ValidBytes(payload) {
		return apperrors.Validation("form payload is not valid JSON")
	}
	var missing []string
	for _, field := range requiredFormFields {
		if !gjson.GetBytes(payload, field).Exists() || gjson.GetBytes(payload, field).String() == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return apperrors.Validation(fmt.Sprintf("missing required form fields: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// Get returns a single application.
func (s *Service) Get(ctx context.Context, id string) (application.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return application.Application{}, apperrors.NotFound("application")
	}
	if err != nil {
		return application.Application{}, apperrors.Internal("load application", err)
	}
	return app, nil
}

// List returns applications matching the query.
func (s *Service) List(ctx context.Context, q application.Query) ([]application.Application, error) {
	if q.Status != "" && !q.Status.Known() {
		return nil, apperrors.Validation("unknown status filter")
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	apps, err := s.store.ListApplications(ctx, q)
	if err != nil {
		return nil, apperrors.Internal("list applications", err)
	}
	return apps, nil
}

// AttachChannel persists the interview channel reference created by the
// orchestrator. The write is version-guarded; a bounded number of re-reads
// absorbs benign races with reviewers editing the same application. The
// reference is only valid while the application is interviewing.
func (s *Service) AttachChannel(ctx context.Context, applicationID, channelRef string) (application.Application, error) {
	if channelRef == "" {
		return application.Application{}, apperrors.Validation("channel ref is required")
	}

	for attempt := 0; attempt < 3; attempt++ {
		app, err := s.Get(ctx, applicationID)
		if err != nil {
			return application.Application{}, err
		}
		if app.Status != application.StatusInterviewing {
			return application.Application{}, apperrors.Conflict("application is no longer interviewing").
				WithDetails("status", string(app.Status))
		}
		if app.ChannelRef == channelRef {
			return app, nil
		}

		before, _ := json.Marshal(app)
		app.ChannelRef = channelRef
		updated, err := s.store.UpdateApplication(ctx, app, app.Version)
		if errors.Is(err, storage.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return application.Application{}, apperrors.Internal("attach channel", err)
		}

		after, _ := json.Marshal(updated)
		if s.auditor != nil {
			if _, err := s.auditor.Append(ctx, audit.Entry{
				ActorID:   "orchestrator",
				Action:    audit.ActionChannelAttach,
				TargetRef: "application:" + updated.ID,
				Before:    before,
				After:     after,
				Context:   audit.Context{SubjectID: updated.Applicant.UserID},
			}); err != nil {
				return application.Application{}, apperrors.Internal("audit channel attach", err)
			}
		}
		return updated, nil
	}

	return application.Application{}, apperrors.Conflict("application is being modified concurrently, retry")
}
