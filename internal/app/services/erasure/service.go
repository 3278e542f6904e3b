// Package erasure handles data-erasure requests: it removes an applicant's
// applications, vouches and cooldown records, then redacts PII from the audit
// trail while keeping the trail's structure intact.
package erasure

import (
	"context"

	"github.com/corsairs-gg/quartermaster/internal/app/storage"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// AuditRedactor rewrites PII in trail entries for a subject and records the
// erasure itself.
type AuditRedactor interface {
	RedactSubject(ctx context.Context, applicantID, actorID string) (int, error)
}

// Service coordinates the erasure cascade.
type Service struct {
	apps      storage.ApplicationStore
	vouches   storage.VouchStore
	cooldowns storage.CooldownStore
	redactor  AuditRedactor
	log       *logger.Logger
}

// New constructs the erasure service.
func New(apps storage.ApplicationStore, vouches storage.VouchStore, cooldowns storage.CooldownStore, redactor AuditRedactor, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("erasure")
	}
	return &Service{
		apps:      apps,
		vouches:   vouches,
		cooldowns: cooldowns,
		redactor:  redactor,
		log:       log,
	}
}

// Result summarises what an erasure removed.
type Result struct {
	ApplicationsDeleted  int `json:"applications_deleted"`
	AuditEntriesRedacted int `json:"audit_entries_redacted"`
}

// Erase removes every record tied to the applicant. Vouches are deleted per
// application before the applications themselves; audit entries are redacted,
// never removed.
func (s *Service) Erase(ctx context.Context, applicantID, actorID string) (Result, error) {
	if applicantID == "" {
		return Result{}, apperrors.Validation("applicant id is required")
	}

	ids, err := s.apps.DeleteApplicationsByApplicant(ctx, applicantID)
	if err != nil {
		return Result{}, apperrors.Internal("delete applications", err)
	}
	for _, id := range ids {
		if err := s.vouches.DeleteVouchesByApplication(ctx, id); err != nil {
			return Result{}, apperrors.Internal("delete vouches", err)
		}
	}
	if err := s.cooldowns.DeleteCooldownsByApplicant(ctx, applicantID); err != nil {
		return Result{}, apperrors.Internal("delete cooldowns", err)
	}

	redacted, err := s.redactor.RedactSubject(ctx, applicantID, actorID)
	if err != nil {
		return Result{}, err
	}

	s.log.WithField("applicant_id", applicantID).
		WithField("applications", len(ids)).
		WithField("audit_entries", redacted).
		Info("applicant data erased")
	return Result{ApplicationsDeleted: len(ids), AuditEntriesRedacted: redacted}, nil
}
