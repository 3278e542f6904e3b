// Package audittrail is the append-only record of who did what to which
// application, with export and subject redaction.
package audittrail

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// Sink receives a copy of every committed entry, typically a JSONL file for
// offline retention. Sink failures are logged, never surfaced: the store row
// is the entry of record.
type Sink interface {
	Write(e audit.Entry) error
}

// Service is the audit trail.
type Service struct {
	store storage.AuditStore
	sink  Sink
	log   *logger.Logger
	now   func() time.Time
}

// New constructs the audit trail service. sink may be nil.
func New(store storage.AuditStore, sink Sink, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("audittrail")
	}
	return &Service{
		store: store,
		sink:  sink,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) { s.now = now }

// Append commits an audit entry. Failing to persist is a hard error for the
// caller: state changes without an audit record are not acceptable.
func (s *Service) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.ActorID == "" {
		return audit.Entry{}, apperrors.Validation("actor id is required")
	}
	if e.Action == "" {
		return audit.Entry{}, apperrors.Validation("action is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	stored, err := s.store.AppendAudit(ctx, e)
	if err != nil {
		return audit.Entry{}, apperrors.Internal("append audit entry", err)
	}

	if s.sink != nil {
		if err := s.sink.Write(stored); err != nil {
			s.log.WithError(err).Warn("audit sink write failed")
		}
	}
	return stored, nil
}

// List returns entries matching the query, newest first.
func (s *Service) List(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	entries, err := s.store.ListAudit(ctx, q)
	if err != nil {
		return nil, apperrors.Internal("list audit entries", err)
	}
	return entries, nil
}

// ExportJSON streams matching entries as a JSON array.
func (s *Service) ExportJSON(ctx context.Context, q audit.Query, w io.Writer) error {
	entries, err := s.List(ctx, q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(entries); err != nil {
		return apperrors.Internal("encode audit export", err)
	}
	return nil
}

// ExportCSV streams matching entries as CSV with snapshots inlined as JSON
// strings.
func (s *Service) ExportCSV(ctx context.Context, q audit.Query, w io.Writer) error {
	entries, err := s.List(ctx, q)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"id", "created_at", "actor_id", "action", "target_ref", "subject_id", "remote_addr", "notes", "before", "after"}
	if err := cw.Write(header); err != nil {
		return apperrors.Internal("write csv header", err)
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.CreatedAt.Format(time.RFC3339),
			e.ActorID,
			string(e.Action),
			e.TargetRef,
			e.Context.SubjectID,
			e.Context.RemoteAddr,
			e.Context.Notes,
			string(e.Before),
			string(e.After),
		}
		if err := cw.Write(row); err != nil {
			return apperrors.Internal("write csv row", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperrors.Internal("flush csv export", err)
	}
	return nil
}

// RedactSubject rewrites PII-bearing snapshot fields in every entry whose
// subject matches applicantID and records the erasure itself, so the trail
// shows that the trail was changed.
func (s *Service) RedactSubject(ctx context.Context, applicantID, actorID string) (int, error) {
	if applicantID == "" {
		return 0, apperrors.Validation("applicant id is required")
	}

	n, err := s.store.RedactSubject(ctx, applicantID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, apperrors.Internal("redact audit entries", err)
	}

	if _, err := s.Append(ctx, audit.Entry{
		ActorID:   actorID,
		Action:    audit.ActionErasure,
		TargetRef: "applicant:" + applicantID,
		Context:   audit.Context{Notes: "redacted " + strconv.Itoa(n) + " entries"},
	}); err != nil {
		return n, err
	}

	s.log.WithField("applicant_id", applicantID).
		WithField("entries", n).
		Info("audit trail redacted")
	return n, nil
}
