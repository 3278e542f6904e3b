package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/cooldown"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/outbox"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/vouch"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu           sync.RWMutex
	applications map[string]application.Application
	vouches      map[string][]vouch.Vouch
	cooldowns    map[string][]cooldown.Record
	auditEntries []audit.Entry
	events       map[string]outbox.Event
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.VouchStore = (*Store)(nil)
var _ storage.CooldownStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.OutboxStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		applications: make(map[string]application.Application),
		vouches:      make(map[string][]vouch.Vouch),
		cooldowns:    make(map[string][]cooldown.Record),
		events:       make(map[string]outbox.Event),
	}
}

// ApplicationStore implementation ---------------------------------------------

func (s *Store) CreateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.applications {
		if existing.Applicant.UserID == app.Applicant.UserID && !existing.Status.Terminal() {
			return application.Application{}, storage.ErrDuplicateOpen
		}
	}

	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	app.Version = 1
	app.CreatedAt = now
	app.UpdatedAt = now
	s.applications[app.ID] = app
	return app, nil
}

func (s *Store) UpdateApplication(_ context.Context, app application.Application, expectedVersion int64) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.applications[app.ID]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}
	if existing.Version != expectedVersion {
		return application.Application{}, storage.ErrVersionMismatch
	}

	app.Version = existing.Version + 1
	app.CreatedAt = existing.CreatedAt
	app.UpdatedAt = time.Now().UTC()
	s.applications[app.ID] = app
	return app, nil
}

func (s *Store) GetApplication(_ context.Context, id string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return application.Application{}, storage.ErrNotFound
	}
	return app, nil
}

func (s *Store) GetOpenApplication(_ context.Context, applicantID string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, app := range s.applications {
		if app.Applicant.UserID == applicantID && !app.Status.Terminal() {
			return app, nil
		}
	}
	return application.Application{}, storage.ErrNotFound
}

func (s *Store) ListApplications(_ context.Context, q application.Query) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []application.Application
	for _, app := range s.applications {
		if q.Status != "" && app.Status != q.Status {
			continue
		}
		if q.ApplicantID != "" && app.Applicant.UserID != q.ApplicantID {
			continue
		}
		if !q.From.IsZero() && app.SubmittedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && app.SubmittedAt.After(q.To) {
			continue
		}
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return paginate(out, q.Limit, q.Offset), nil
}

func (s *Store) DeleteApplicationsByApplicant(_ context.Context, applicantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, app := range s.applications {
		if app.Applicant.UserID == applicantID {
			removed = append(removed, id)
			delete(s.applications, id)
		}
	}
	return removed, nil
}

// VouchStore implementation ----------------------------------------------------

func (s *Store) CreateVouch(_ context.Context, v vouch.Vouch) (vouch.Vouch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = time.Now().UTC()
	s.vouches[v.ApplicationID] = append(s.vouches[v.ApplicationID], v)
	return v, nil
}

func (s *Store) ListVouches(_ context.Context, applicationID string) ([]vouch.Vouch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.vouches[applicationID]
	out := make([]vouch.Vouch, len(src))
	copy(out, src)
	return out, nil
}

func (s *Store) DeleteVouchesByApplication(_ context.Context, applicationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.vouches, applicationID)
	return nil
}

// CooldownStore implementation -------------------------------------------------

func (s *Store) CreateCooldown(_ context.Context, rec cooldown.Record) (cooldown.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Version = 1
	rec.CreatedAt = time.Now().UTC()
	s.cooldowns[rec.ApplicantID] = append(s.cooldowns[rec.ApplicantID], rec)
	return rec, nil
}

func (s *Store) UpdateCooldown(_ context.Context, rec cooldown.Record, expectedVersion int64) (cooldown.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.cooldowns[rec.ApplicantID]
	for i, existing := range records {
		if existing.ID != rec.ID {
			continue
		}
		if existing.Version != expectedVersion {
			return cooldown.Record{}, storage.ErrVersionMismatch
		}
		rec.Version = existing.Version + 1
		rec.CreatedAt = existing.CreatedAt
		records[i] = rec
		return rec, nil
	}
	return cooldown.Record{}, storage.ErrNotFound
}

func (s *Store) GetLatestCooldown(_ context.Context, applicantID string) (cooldown.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.cooldowns[applicantID]
	if len(records) == 0 {
		return cooldown.Record{}, storage.ErrNotFound
	}
	latest := records[0]
	for _, rec := range records[1:] {
		if rec.DeniedAt.After(latest.DeniedAt) {
			latest = rec
		}
	}
	return latest, nil
}

func (s *Store) DeleteCooldownsByApplicant(_ context.Context, applicantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cooldowns, applicantID)
	return nil
}

// AuditStore implementation ----------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.auditEntries = append(s.auditEntries, e)
	return e, nil
}

func (s *Store) ListAudit(_ context.Context, q audit.Query) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, e := range s.auditEntries {
		if q.ActorID != "" && e.ActorID != q.ActorID {
			continue
		}
		if q.TargetRef != "" && e.TargetRef != q.TargetRef {
			continue
		}
		if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.CreatedAt.After(q.To) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, q.Limit, q.Offset), nil
}

func (s *Store) RedactSubject(_ context.Context, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	redacted := 0
	for i, e := range s.auditEntries {
		if e.Context.SubjectID != subjectID {
			continue
		}
		e.Before = audit.RedactSnapshot(e.Before)
		e.After = audit.RedactSnapshot(e.After)
		e.Context.Notes = ""
		e.Context.RemoteAddr = ""
		s.auditEntries[i] = e
		redacted++
	}
	return redacted, nil
}

// OutboxStore implementation ---------------------------------------------------

func (s *Store) EnqueueEvent(_ context.Context, ev outbox.Event) (outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ev.State = outbox.StatePending
	ev.CreatedAt = now
	if ev.NextAttemptAt.IsZero() {
		ev.NextAttemptAt = now
	}
	s.events[ev.ID] = ev
	return ev, nil
}

func (s *Store) GetEvent(_ context.Context, id string) (outbox.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return outbox.Event{}, storage.ErrNotFound
	}
	return ev, nil
}

func (s *Store) ListDueEvents(_ context.Context, now time.Time, limit int) ([]outbox.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []outbox.Event
	for _, ev := range s.events {
		if ev.State == outbox.StatePending && !ev.NextAttemptAt.After(now) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListDeadEvents(_ context.Context, limit int) ([]outbox.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []outbox.Event
	for _, ev := range s.events {
		if ev.State == outbox.StateDead {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkDelivered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return storage.ErrNotFound
	}
	ev.State = outbox.StateDelivered
	ev.DeliveredAt = at
	s.events[id] = ev
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id string, attempts int, nextAttempt time.Time, lastErr string, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return storage.ErrNotFound
	}
	ev.Attempts = attempts
	ev.NextAttemptAt = nextAttempt
	ev.LastError = lastErr
	if dead {
		ev.State = outbox.StateDead
	}
	s.events[id] = ev
	return nil
}

func (s *Store) RequeueEvent(_ context.Context, id string) (outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return outbox.Event{}, storage.ErrNotFound
	}
	ev.State = outbox.StatePending
	ev.Attempts = 0
	ev.LastError = ""
	ev.NextAttemptAt = time.Now().UTC()
	s.events[id] = ev
	return ev, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
