package applications

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/services/audittrail"
	"github.com/corsairs-gg/quartermaster/internal/app/services/cooldowns"
	"github.com/corsairs-gg/quartermaster/internal/app/storage/memory"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
)

const validForm = `{"ingame_name":"anne","hours_played":"800","region":"na"}`

func newService(t *testing.T) (*Service, *cooldowns.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	auditSvc := audittrail.New(store, nil, nil)
	cooldownSvc := cooldowns.New(store, auditSvc, 30, nil)
	return New(store, cooldownSvc, auditSvc, nil), cooldownSvc, store
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	applicant := application.Applicant{UserID: "u1", DisplayName: "Anne Bonny"}

	tests := []struct {
		name      string
		applicant application.Applicant
		form      string
		wantErr   string
	}{
		{"missing user id", application.Applicant{DisplayName: "x"}, validForm, "user id"},
		{"missing display name", application.Applicant{UserID: "u1"}, validForm, "display name"},
		{"empty form", applicant, "", "form payload is required"},
		{"invalid json", applicant, "{not json", "not valid JSON"},
		{"missing fields", applicant, `{"ingame_name":"anne"}`, "hours_played"},
		{"empty field value", applicant, `{"ingame_name":"","hours_played":"1","region":"na"}`, "ingame_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tt.applicant, []byte(tt.form))
			if !apperrors.IsCode(err, apperrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSubmitRejectsSecondOpenApplication(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	applicant := application.Applicant{UserID: "u2", DisplayName: "Anne Bonny"}

	if _, err := svc.Submit(ctx, applicant, []byte(validForm)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.Submit(ctx, applicant, []byte(validForm))
	if !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSubmitBlockedByCooldown(t *testing.T) {
	svc, cooldownSvc, _ := newService(t)
	ctx := context.Background()

	if _, err := cooldownSvc.RecordDenial(ctx, "u3", 30); err != nil {
		t.Fatalf("record denial: %v", err)
	}

	_, err := svc.Submit(ctx, application.Applicant{UserID: "u3", DisplayName: "Anne Bonny"}, []byte(validForm))
	if !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	se := apperrors.GetServiceError(err)
	if _, ok := se.Details["cooldown_end"]; !ok {
		t.Fatalf("expected cooldown_end detail, got %v", se.Details)
	}
}

func TestSubmitAllowedAfterCooldownExpires(t *testing.T) {
	svc, cooldownSvc, _ := newService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-40 * 24 * time.Hour)
	cooldownSvc.WithClock(func() time.Time { return past })
	if _, err := cooldownSvc.RecordDenial(ctx, "u4", 30); err != nil {
		t.Fatalf("record denial: %v", err)
	}
	cooldownSvc.WithClock(func() time.Time { return time.Now().UTC() })

	if _, err := svc.Submit(ctx, application.Applicant{UserID: "u4", DisplayName: "Anne Bonny"}, []byte(validForm)); err != nil {
		t.Fatalf("submit after expiry: %v", err)
	}
}

func TestAttachChannel(t *testing.T) {
	svc, _, store := newService(t)
	ctx := context.Background()

	app, err := svc.Submit(ctx, application.Applicant{UserID: "u5", DisplayName: "Anne Bonny"}, []byte(validForm))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Attaching to a pending application is a conflict.
	if _, err := svc.AttachChannel(ctx, app.ID, "chan-1"); !apperrors.IsCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict for pending application, got %v", err)
	}

	app.Status = application.StatusInterviewing
	app, err = store.UpdateApplication(ctx, app, app.Version)
	if err != nil {
		t.Fatalf("force interviewing: %v", err)
	}

	updated, err := svc.AttachChannel(ctx, app.ID, "chan-1")
	if err != nil {
		t.Fatalf("attach channel: %v", err)
	}
	if updated.ChannelRef != "chan-1" {
		t.Fatalf("expected channel ref chan-1, got %q", updated.ChannelRef)
	}

	// Re-attaching the same ref is a no-op.
	again, err := svc.AttachChannel(ctx, app.ID, "chan-1")
	if err != nil {
		t.Fatalf("re-attach: %v", err)
	}
	if again.Version != updated.Version {
		t.Fatalf("re-attach must not bump version: %d != %d", again.Version, updated.Version)
	}
}

func TestListValidatesStatus(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.List(context.Background(), application.Query{Status: "bogus"}); !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
