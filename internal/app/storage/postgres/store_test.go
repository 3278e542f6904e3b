package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/cooldown"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/outbox"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/vouch"
	"github.com/corsairs-gg/quartermaster/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := New(db)
	ctx := context.Background()

	app, err := store.CreateApplication(ctx, application.Application{
		Applicant:   application.Applicant{UserID: "itest-u1", DisplayName: "Anne Bonny", Email: "anne@example.com"},
		FormPayload: []byte(`{"ingame_name":"bonny","hours_played":"800","region":"eu"}`),
		Status:      application.StatusPending,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	t.Cleanup(func() {
		store.DeleteApplicationsByApplicant(ctx, "itest-u1")
		store.DeleteCooldownsByApplicant(ctx, "itest-u1")
	})

	// The partial unique index keeps one open application per applicant.
	if _, err := store.CreateApplication(ctx, application.Application{
		Applicant: application.Applicant{UserID: "itest-u1", DisplayName: "Anne Bonny"},
		Status:    application.StatusPending,
	}); !errors.Is(err, storage.ErrDuplicateOpen) {
		t.Fatalf("expected ErrDuplicateOpen, got %v", err)
	}

	open, err := store.GetOpenApplication(ctx, "itest-u1")
	if err != nil {
		t.Fatalf("get open application: %v", err)
	}
	if open.ID != app.ID {
		t.Fatalf("expected open application %s, got %s", app.ID, open.ID)
	}

	app.Status = application.StatusInterviewing
	updated, err := store.UpdateApplication(ctx, app, app.Version)
	if err != nil {
		t.Fatalf("update application: %v", err)
	}
	if updated.Version != app.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", app.Version+1, updated.Version)
	}

	// The losing writer of a concurrent update sees a version mismatch.
	if _, err := store.UpdateApplication(ctx, app, app.Version); !errors.Is(err, storage.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	if _, err := store.CreateVouch(ctx, vouch.Vouch{
		ApplicationID: app.ID,
		ReviewerID:    "itest-rev1",
		Polarity:      vouch.PolarityPositive,
		Comment:       "good fit",
	}); err != nil {
		t.Fatalf("create vouch: %v", err)
	}
	vs, err := store.ListVouches(ctx, app.ID)
	if err != nil {
		t.Fatalf("list vouches: %v", err)
	}
	if len(vs) != 1 {
		t.Fatalf("expected 1 vouch, got %d", len(vs))
	}

	now := time.Now().UTC()
	rec, err := store.CreateCooldown(ctx, cooldown.Record{
		ApplicantID: "itest-u1",
		DeniedAt:    now,
		CooldownEnd: now.Add(30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create cooldown: %v", err)
	}
	latest, err := store.GetLatestCooldown(ctx, "itest-u1")
	if err != nil {
		t.Fatalf("get latest cooldown: %v", err)
	}
	if latest.ID != rec.ID {
		t.Fatalf("expected cooldown %s, got %s", rec.ID, latest.ID)
	}

	entry, err := store.AppendAudit(ctx, audit.Entry{
		ActorID:   "itest-rev1",
		Action:    audit.ActionDecide,
		TargetRef: "application:" + app.ID,
		After:     []byte(`{"status":"interviewing","applicant":{"email":"anne@example.com"}}`),
		Context:   audit.Context{SubjectID: "itest-u1"},
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}
	redacted, err := store.RedactSubject(ctx, "itest-u1")
	if err != nil {
		t.Fatalf("redact subject: %v", err)
	}
	if redacted != 1 {
		t.Fatalf("expected 1 redacted entry, got %d", redacted)
	}
	entries, err := store.ListAudit(ctx, audit.Query{TargetRef: "application:" + app.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != entry.ID {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}

	ev, err := store.EnqueueEvent(ctx, outbox.Event{
		Kind:          outbox.KindInterviewRequested,
		ApplicationID: app.ID,
		Payload:       []byte(`{"applicant_user_id":"itest-u1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue event: %v", err)
	}
	due, err := store.ListDueEvents(ctx, time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list due events: %v", err)
	}
	var seen bool
	for _, d := range due {
		if d.ID == ev.ID {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("enqueued event %s not listed as due", ev.ID)
	}
	if err := store.MarkDelivered(ctx, ev.ID, time.Now().UTC()); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	got, err := store.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if got.State != outbox.StateDelivered {
		t.Fatalf("expected delivered, got %s", got.State)
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestUpdateApplicationVersionMismatch(t *testing.T) {
	store, mock := newMockStore(t)

	app := application.Application{ID: "a1", Status: application.StatusInterviewing, Version: 2}

	mock.ExpectExec("UPDATE applications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	cols := []string{"id", "applicant_user_id", "applicant_display_name", "applicant_email",
		"form_payload", "status", "submitted_at", "decided_at", "decision_notes",
		"channel_ref", "version", "created_at", "updated_at"}
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM applications WHERE id").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("a1", "u1", "Anne Bonny", "", []byte(`{}`), "interviewing", now, nil, "", "", 3, now, now))

	if _, err := store.UpdateApplication(context.Background(), app, 2); !errors.Is(err, storage.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateApplicationMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE applications").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM applications WHERE id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	app := application.Application{ID: "ghost", Status: application.StatusApproved}
	if _, err := store.UpdateApplication(context.Background(), app, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateCooldownVersionMismatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE cooldowns").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := cooldown.Record{ID: "c1", Overridden: true, OverrideBy: "admin-1", OverriddenAt: time.Now().UTC()}
	if _, err := store.UpdateCooldown(context.Background(), rec, 1); !errors.Is(err, storage.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
