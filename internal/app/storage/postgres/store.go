// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/cooldown"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/outbox"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/vouch"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.VouchStore = (*Store)(nil)
var _ storage.CooldownStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)
var _ storage.OutboxStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// --- ApplicationStore --------------------------------------------------------

type applicationRow struct {
	ID            string         `db:"id"`
	ApplicantID   string         `db:"applicant_user_id"`
	DisplayName   string         `db:"applicant_display_name"`
	Email         string         `db:"applicant_email"`
	FormPayload   []byte         `db:"form_payload"`
	Status        string         `db:"status"`
	SubmittedAt   time.Time      `db:"submitted_at"`
	DecidedAt     sql.NullTime   `db:"decided_at"`
	DecisionNotes string         `db:"decision_notes"`
	ChannelRef    string         `db:"channel_ref"`
	Version       int64          `db:"version"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r applicationRow) toDomain() application.Application {
	app := application.Application{
		ID: r.ID,
		Applicant: application.Applicant{
			UserID:      r.ApplicantID,
			DisplayName: r.DisplayName,
			Email:       r.Email,
		},
		FormPayload:   r.FormPayload,
		Status:        application.Status(r.Status),
		SubmittedAt:   r.SubmittedAt,
		DecisionNotes: r.DecisionNotes,
		ChannelRef:    r.ChannelRef,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.DecidedAt.Valid {
		app.DecidedAt = r.DecidedAt.Time
	}
	return app
}

const applicationColumns = `id, applicant_user_id, applicant_display_name, applicant_email,
	form_payload, status, submitted_at, decided_at, decision_notes, channel_ref,
	version, created_at, updated_at`

func (s *Store) CreateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	app.Version = 1
	app.CreatedAt = now
	app.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (id, applicant_user_id, applicant_display_name,
			applicant_email, form_payload, status, submitted_at, decision_notes,
			channel_ref, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, app.ID, app.Applicant.UserID, app.Applicant.DisplayName, app.Applicant.Email,
		nullableJSON(app.FormPayload), string(app.Status), app.SubmittedAt,
		app.DecisionNotes, app.ChannelRef, app.Version, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return application.Application{}, storage.ErrDuplicateOpen
		}
		return application.Application{}, err
	}
	return app, nil
}

func (s *Store) UpdateApplication(ctx context.Context, app application.Application, expectedVersion int64) (application.Application, error) {
	app.UpdatedAt = time.Now().UTC()

	var decidedAt sql.NullTime
	if !app.DecidedAt.IsZero() {
		decidedAt = sql.NullTime{Time: app.DecidedAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE applications
		SET status = $3, decided_at = $4, decision_notes = $5, channel_ref = $6,
			version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2
	`, app.ID, expectedVersion, string(app.Status), decidedAt, app.DecisionNotes,
		app.ChannelRef, app.UpdatedAt)
	if err != nil {
		return application.Application{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetApplication(ctx, app.ID); getErr != nil {
			return application.Application{}, getErr
		}
		return application.Application{}, storage.ErrVersionMismatch
	}
	app.Version = expectedVersion + 1
	return app, nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (application.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+applicationColumns+` FROM applications WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Application{}, storage.ErrNotFound
	}
	if err != nil {
		return application.Application{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetOpenApplication(ctx context.Context, applicantID string) (application.Application, error) {
	var row applicationRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+applicationColumns+` FROM applications
		WHERE applicant_user_id = $1 AND status IN ('pending', 'interviewing')
	`, applicantID)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Application{}, storage.ErrNotFound
	}
	if err != nil {
		return application.Application{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListApplications(ctx context.Context, q application.Query) ([]application.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE 1=1`
	var args []interface{}

	if q.Status != "" {
		args = append(args, string(q.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	if q.ApplicantID != "" {
		args = append(args, q.ApplicantID)
		query += ` AND applicant_user_id = $` + itoa(len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		query += ` AND submitted_at >= $` + itoa(len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		query += ` AND submitted_at <= $` + itoa(len(args))
	}
	query += ` ORDER BY submitted_at`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	var rows []applicationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]application.Application, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteApplicationsByApplicant(ctx context.Context, applicantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM applications WHERE applicant_user_id = $1 RETURNING id
	`, applicantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- VouchStore --------------------------------------------------------------

type vouchRow struct {
	ID            string    `db:"id"`
	ApplicationID string    `db:"application_id"`
	ReviewerID    string    `db:"reviewer_id"`
	Polarity      string    `db:"polarity"`
	Comment       string    `db:"comment"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s *Store) CreateVouch(ctx context.Context, v vouch.Vouch) (vouch.Vouch, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vouches (id, application_id, reviewer_id, polarity, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.ApplicationID, v.ReviewerID, string(v.Polarity), v.Comment, v.CreatedAt)
	if err != nil {
		return vouch.Vouch{}, err
	}
	return v, nil
}

func (s *Store) ListVouches(ctx context.Context, applicationID string) ([]vouch.Vouch, error) {
	var rows []vouchRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, application_id, reviewer_id, polarity, comment, created_at
		FROM vouches WHERE application_id = $1 ORDER BY created_at
	`, applicationID)
	if err != nil {
		return nil, err
	}
	out := make([]vouch.Vouch, 0, len(rows))
	for _, r := range rows {
		out = append(out, vouch.Vouch{
			ID:            r.ID,
			ApplicationID: r.ApplicationID,
			ReviewerID:    r.ReviewerID,
			Polarity:      vouch.Polarity(r.Polarity),
			Comment:       r.Comment,
			CreatedAt:     r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) DeleteVouchesByApplication(ctx context.Context, applicationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vouches WHERE application_id = $1`, applicationID)
	return err
}

// --- CooldownStore -----------------------------------------------------------

type cooldownRow struct {
	ID           string       `db:"id"`
	ApplicantID  string       `db:"applicant_id"`
	DeniedAt     time.Time    `db:"denied_at"`
	CooldownEnd  time.Time    `db:"cooldown_end"`
	Overridden   bool         `db:"overridden"`
	OverrideBy   string       `db:"override_by"`
	OverriddenAt sql.NullTime `db:"overridden_at"`
	Version      int64        `db:"version"`
	CreatedAt    time.Time    `db:"created_at"`
}

func (r cooldownRow) toDomain() cooldown.Record {
	rec := cooldown.Record{
		ID:          r.ID,
		ApplicantID: r.ApplicantID,
		DeniedAt:    r.DeniedAt,
		CooldownEnd: r.CooldownEnd,
		Overridden:  r.Overridden,
		OverrideBy:  r.OverrideBy,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
	}
	if r.OverriddenAt.Valid {
		rec.OverriddenAt = r.OverriddenAt.Time
	}
	return rec
}

func (s *Store) CreateCooldown(ctx context.Context, rec cooldown.Record) (cooldown.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Version = 1
	rec.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cooldowns (id, applicant_id, denied_at, cooldown_end,
			overridden, override_by, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.ApplicantID, rec.DeniedAt, rec.CooldownEnd,
		rec.Overridden, rec.OverrideBy, rec.Version, rec.CreatedAt)
	if err != nil {
		return cooldown.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateCooldown(ctx context.Context, rec cooldown.Record, expectedVersion int64) (cooldown.Record, error) {
	var overriddenAt sql.NullTime
	if !rec.OverriddenAt.IsZero() {
		overriddenAt = sql.NullTime{Time: rec.OverriddenAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE cooldowns
		SET overridden = $3, override_by = $4, overridden_at = $5, version = version + 1
		WHERE id = $1 AND version = $2
	`, rec.ID, expectedVersion, rec.Overridden, rec.OverrideBy, overriddenAt)
	if err != nil {
		return cooldown.Record{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return cooldown.Record{}, storage.ErrVersionMismatch
	}
	rec.Version = expectedVersion + 1
	return rec, nil
}

func (s *Store) GetLatestCooldown(ctx context.Context, applicantID string) (cooldown.Record, error) {
	var row cooldownRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, applicant_id, denied_at, cooldown_end, overridden, override_by,
			overridden_at, version, created_at
		FROM cooldowns WHERE applicant_id = $1
		ORDER BY denied_at DESC LIMIT 1
	`, applicantID)
	if errors.Is(err, sql.ErrNoRows) {
		return cooldown.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return cooldown.Record{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) DeleteCooldownsByApplicant(ctx context.Context, applicantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cooldowns WHERE applicant_id = $1`, applicantID)
	return err
}

// --- AuditStore --------------------------------------------------------------

type auditRow struct {
	ID         string    `db:"id"`
	ActorID    string    `db:"actor_id"`
	Action     string    `db:"action"`
	TargetRef  string    `db:"target_ref"`
	Before     []byte    `db:"before_snapshot"`
	After      []byte    `db:"after_snapshot"`
	RemoteAddr string    `db:"remote_addr"`
	Notes      string    `db:"notes"`
	SubjectID  string    `db:"subject_id"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r auditRow) toDomain() audit.Entry {
	return audit.Entry{
		ID:        r.ID,
		ActorID:   r.ActorID,
		Action:    audit.Action(r.Action),
		TargetRef: r.TargetRef,
		Before:    r.Before,
		After:     r.After,
		Context: audit.Context{
			RemoteAddr: r.RemoteAddr,
			Notes:      r.Notes,
			SubjectID:  r.SubjectID,
		},
		CreatedAt: r.CreatedAt,
	}
}

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, actor_id, action, target_ref,
			before_snapshot, after_snapshot, remote_addr, notes, subject_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.ActorID, string(e.Action), e.TargetRef,
		nullableJSON(e.Before), nullableJSON(e.After),
		e.Context.RemoteAddr, e.Context.Notes, e.Context.SubjectID, e.CreatedAt)
	if err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

func (s *Store) ListAudit(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	query := `SELECT id, actor_id, action, target_ref, before_snapshot, after_snapshot,
		remote_addr, notes, subject_id, created_at FROM audit_entries WHERE 1=1`
	var args []interface{}

	if q.ActorID != "" {
		args = append(args, q.ActorID)
		query += ` AND actor_id = $` + itoa(len(args))
	}
	if q.TargetRef != "" {
		args = append(args, q.TargetRef)
		query += ` AND target_ref = $` + itoa(len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		query += ` AND created_at >= $` + itoa(len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		query += ` AND created_at <= $` + itoa(len(args))
	}
	query += ` ORDER BY created_at`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]audit.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) RedactSubject(ctx context.Context, subjectID string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, before_snapshot, after_snapshot FROM audit_entries WHERE subject_id = $1
	`, subjectID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	type pending struct {
		id            string
		before, after []byte
	}
	var updates []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.before, &p.after); err != nil {
			return 0, err
		}
		p.before = audit.RedactSnapshot(p.before)
		p.after = audit.RedactSnapshot(p.after)
		updates = append(updates, p)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range updates {
		_, err := s.db.ExecContext(ctx, `
			UPDATE audit_entries
			SET before_snapshot = $2, after_snapshot = $3, remote_addr = '', notes = ''
			WHERE id = $1
		`, p.id, nullableJSON(p.before), nullableJSON(p.after))
		if err != nil {
			return 0, err
		}
	}
	return len(updates), nil
}

// --- OutboxStore -------------------------------------------------------------

type eventRow struct {
	ID            string       `db:"id"`
	Kind          string       `db:"kind"`
	ApplicationID string       `db:"application_id"`
	Payload       []byte       `db:"payload"`
	State         string       `db:"state"`
	Attempts      int          `db:"attempts"`
	NextAttemptAt time.Time    `db:"next_attempt_at"`
	LastError     string       `db:"last_error"`
	CreatedAt     time.Time    `db:"created_at"`
	DeliveredAt   sql.NullTime `db:"delivered_at"`
}

func (r eventRow) toDomain() outbox.Event {
	ev := outbox.Event{
		ID:            r.ID,
		Kind:          outbox.Kind(r.Kind),
		ApplicationID: r.ApplicationID,
		Payload:       r.Payload,
		State:         outbox.State(r.State),
		Attempts:      r.Attempts,
		NextAttemptAt: r.NextAttemptAt,
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt,
	}
	if r.DeliveredAt.Valid {
		ev.DeliveredAt = r.DeliveredAt.Time
	}
	return ev
}

const eventColumns = `id, kind, application_id, payload, state, attempts,
	next_attempt_at, last_error, created_at, delivered_at`

func (s *Store) EnqueueEvent(ctx context.Context, ev outbox.Event) (outbox.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ev.State = outbox.StatePending
	ev.CreatedAt = now
	if ev.NextAttemptAt.IsZero() {
		ev.NextAttemptAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox_events (id, kind, application_id, payload, state,
			attempts, next_attempt_at, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, string(ev.Kind), ev.ApplicationID, []byte(ev.Payload),
		string(ev.State), ev.Attempts, ev.NextAttemptAt, ev.LastError, ev.CreatedAt)
	if err != nil {
		return outbox.Event{}, err
	}
	return ev, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (outbox.Event, error) {
	var row eventRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+eventColumns+` FROM outbox_events WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Event{}, storage.ErrNotFound
	}
	if err != nil {
		return outbox.Event{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListDueEvents(ctx context.Context, now time.Time, limit int) ([]outbox.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+eventColumns+` FROM outbox_events
		WHERE state = 'pending' AND next_attempt_at <= $1
		ORDER BY created_at LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	out := make([]outbox.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ListDeadEvents(ctx context.Context, limit int) ([]outbox.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+eventColumns+` FROM outbox_events
		WHERE state = 'dead' ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]outbox.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET state = 'delivered', delivered_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastErr string, dead bool) error {
	state := string(outbox.StatePending)
	if dead {
		state = string(outbox.StateDead)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET attempts = $2, next_attempt_at = $3, last_error = $4, state = $5
		WHERE id = $1
	`, id, attempts, nextAttempt, lastErr, state)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) RequeueEvent(ctx context.Context, id string) (outbox.Event, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET state = 'pending', attempts = 0, last_error = '', next_attempt_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return outbox.Event{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return outbox.Event{}, storage.ErrNotFound
	}
	return s.GetEvent(ctx, id)
}

// --- helpers -----------------------------------------------------------------

func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return data
}

func itoa(n int) string { return strconv.Itoa(n) }
