// Package cooldowns implements the cooldown ledger: per-applicant
// reapplication blocks following denial, with one-shot override.
package cooldowns

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/cooldown"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// Auditor records audit entries for ledger mutations performed outside a
// decision (override). Denials recorded as part of a decision are covered by
// the decision's own audit entry.
type Auditor interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Service is the cooldown ledger.
type Service struct {
	store       storage.CooldownStore
	auditor     Auditor
	log         *logger.Logger
	defaultDays int
	now         func() time.Time
}

// New constructs the ledger. defaultDays applies when a denial does not carry
// an explicit cooldown length.
func New(store storage.CooldownStore, auditor Auditor, defaultDays int, log *logger.Logger) *Service {
	if defaultDays <= 0 {
		defaultDays = 30
	}
	if log == nil {
		log = logger.NewDefault("cooldowns")
	}
	return &Service{
		store:       store,
		auditor:     auditor,
		log:         log,
		defaultDays: defaultDays,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// DefaultDays returns the configured default cooldown length.
func (s *Service) DefaultDays() int { return s.defaultDays }

// RecordDenial opens a new cooldown window for the applicant. days <= 0 uses
// the configured default.
func (s *Service) RecordDenial(ctx context.Context, applicantID string, days int) (cooldown.Record, error) {
	if applicantID == "" {
		return cooldown.Record{}, apperrors.Validation("applicant id is required")
	}
	if days <= 0 {
		days = s.defaultDays
	}

	now := s.now()
	rec, err := s.store.CreateCooldown(ctx, cooldown.Record{
		ApplicantID: applicantID,
		DeniedAt:    now,
		CooldownEnd: now.Add(time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		return cooldown.Record{}, apperrors.Internal("record denial", err)
	}

	s.log.WithField("applicant_id", applicantID).
		WithField("cooldown_end", rec.CooldownEnd).
		Info("cooldown recorded")
	return rec, nil
}

// IsBlocked reports whether the applicant is blocked by an active,
// non-overridden, unexpired cooldown, returning the governing record when one
// exists.
func (s *Service) IsBlocked(ctx context.Context, applicantID string) (bool, cooldown.Record, error) {
	rec, err := s.store.GetLatestCooldown(ctx, applicantID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, cooldown.Record{}, nil
	}
	if err != nil {
		return false, cooldown.Record{}, apperrors.Internal("check cooldown", err)
	}
	return rec.Active(s.now()), rec, nil
}

// Override clears the applicant's current cooldown block. Overriding an
// already-overridden record is a no-op returning the existing record. The
// override is one-shot: a later denial opens a fresh, unoverridden window.
func (s *Service) Override(ctx context.Context, applicantID, actorID string) (cooldown.Record, error) {
	rec, err := s.store.GetLatestCooldown(ctx, applicantID)
	if errors.Is(err, storage.ErrNotFound) {
		return cooldown.Record{}, apperrors.NotFound("cooldown record")
	}
	if err != nil {
		return cooldown.Record{}, apperrors.Internal("load cooldown", err)
	}

	if rec.Overridden {
		return rec, nil
	}

	before, _ := json.Marshal(rec)

	rec.Overridden = true
	rec.OverrideBy = actorID
	rec.OverriddenAt = s.now()

	updated, err := s.store.UpdateCooldown(ctx, rec, rec.Version)
	if errors.Is(err, storage.ErrVersionMismatch) {
		// Lost a race; the other writer's override stands.
		current, getErr := s.store.GetLatestCooldown(ctx, applicantID)
		if getErr == nil && current.Overridden {
			return current, nil
		}
		return cooldown.Record{}, apperrors.Conflict("cooldown record changed, retry")
	}
	if err != nil {
		return cooldown.Record{}, apperrors.Internal("override cooldown", err)
	}

	after, _ := json.Marshal(updated)
	if s.auditor != nil {
		if _, err := s.auditor.Append(ctx, audit.Entry{
			ActorID:   actorID,
			Action:    audit.ActionCooldownOverride,
			TargetRef: "cooldown:" + updated.ID,
			Before:    before,
			After:     after,
			Context:   audit.Context{SubjectID: applicantID},
		}); err != nil {
			return cooldown.Record{}, apperrors.Internal("audit cooldown override", err)
		}
	}

	s.log.WithField("applicant_id", applicantID).
		WithField("actor_id", actorID).
		Info("cooldown overridden")
	return updated, nil
}

// Status returns the latest cooldown record for an applicant, if any.
func (s *Service) Status(ctx context.Context, applicantID string) (cooldown.Record, bool, error) {
	rec, err := s.store.GetLatestCooldown(ctx, applicantID)
	if errors.Is(err, storage.ErrNotFound) {
		return cooldown.Record{}, false, nil
	}
	if err != nil {
		return cooldown.Record{}, false, apperrors.Internal("load cooldown", err)
	}
	return rec, true, nil
}
