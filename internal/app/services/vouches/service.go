// Package vouches implements reviewer endorsements and objections attached to
// an application.
package vouches

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/vouch"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// Auditor records audit entries.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Service manages vouches. Multiple vouches per reviewer per application are
// preserved; the tally is computed at read time so history is never rewritten.
type Service struct {
	store   storage.VouchStore
	apps    storage.ApplicationStore
	auditor Auditor
	log     *logger.Logger
	now     func() time.Time
}

// New constructs the vouch service.
func New(store storage.VouchStore, apps storage.ApplicationStore, auditor Auditor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("vouches")
	}
	return &Service{
		store:   store,
		apps:    apps,
		auditor: auditor,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// Add records a vouch against an open application. Vouching on a terminal
// application is a Conflict.
func (s *Service) Add(ctx context.Context, applicationID, reviewerID string, polarity vouch.Polarity, comment string) (vouch.Vouch, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return vouch.Vouch{}, apperrors.Validation("reviewer id is required")
	}
	if !polarity.Known() {
		return vouch.Vouch{}, apperrors.Validation("polarity must be positive or negative")
	}

	app, err := s.apps.GetApplication(ctx, applicationID)
	if errors.Is(err, storage.ErrNotFound) {
		return vouch.Vouch{}, apperrors.NotFound("application")
	}
	if err != nil {
		return vouch.Vouch{}, apperrors.Internal("load application", err)
	}
	if app.Status.Terminal() {
		return vouch.Vouch{}, apperrors.Conflict("application already decided").
			WithDetails("status", string(app.Status))
	}

	created, err := s.store.CreateVouch(ctx, vouch.Vouch{
		ApplicationID: applicationID,
		ReviewerID:    reviewerID,
		Polarity:      polarity,
		Comment:       comment,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return vouch.Vouch{}, apperrors.Internal("create vouch", err)
	}

	after, _ := json.Marshal(created)
	if s.auditor != nil {
		if _, err := s.auditor.Append(ctx, audit.Entry{
			ActorID:   reviewerID,
			Action:    audit.ActionVouch,
			TargetRef: "application:" + applicationID,
			After:     after,
			Context:   audit.Context{SubjectID: app.Applicant.UserID},
		}); err != nil {
			return vouch.Vouch{}, apperrors.Internal("audit vouch", err)
		}
	}

	s.log.WithField("application_id", applicationID).
		WithField("reviewer_id", reviewerID).
		WithField("polarity", string(polarity)).
		Info("vouch recorded")
	return created, nil
}

// List returns all vouches for an application in creation order.
func (s *Service) List(ctx context.Context, applicationID string) ([]vouch.Vouch, error) {
	if _, err := s.apps.GetApplication(ctx, applicationID); errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NotFound("application")
	} else if err != nil {
		return nil, apperrors.Internal("load application", err)
	}

	list, err := s.store.ListVouches(ctx, applicationID)
	if err != nil {
		return nil, apperrors.Internal("list vouches", err)
	}
	return list, nil
}

// Tally aggregates vouch counts for an application at read time.
func (s *Service) Tally(ctx context.Context, applicationID string) (vouch.Tally, error) {
	list, err := s.List(ctx, applicationID)
	if err != nil {
		return vouch.Tally{}, err
	}
	var t vouch.Tally
	for _, v := range list {
		switch v.Polarity {
		case vouch.PolarityPositive:
			t.Positive++
		case vouch.PolarityNegative:
			t.Negative++
		}
	}
	return t, nil
}
