package cooldowns

import (
	"context"
	"testing"
	"time"

	"github.com/corsairs-gg/quartermaster/internal/app/services/audittrail"
	"github.com/corsairs-gg/quartermaster/internal/app/storage/memory"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
)

func newLedger(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, audittrail.New(store, nil, nil), 30, nil), store
}

func TestRecordDenialDefaultsDays(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return base })

	rec, err := svc.RecordDenial(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("record denial: %v", err)
	}
	if want := base.Add(30 * 24 * time.Hour); !rec.CooldownEnd.Equal(want) {
		t.Fatalf("expected cooldown end %v, got %v", want, rec.CooldownEnd)
	}

	rec, err = svc.RecordDenial(ctx, "u2", 7)
	if err != nil {
		t.Fatalf("record denial: %v", err)
	}
	if want := base.Add(7 * 24 * time.Hour); !rec.CooldownEnd.Equal(want) {
		t.Fatalf("expected cooldown end %v, got %v", want, rec.CooldownEnd)
	}
}

func TestIsBlocked(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	// No record at all means not blocked.
	blocked, _, err := svc.IsBlocked(ctx, "nobody")
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if blocked {
		t.Fatal("expected no block without a record")
	}

	if _, err := svc.RecordDenial(ctx, "u1", 30); err != nil {
		t.Fatalf("record denial: %v", err)
	}
	blocked, _, err = svc.IsBlocked(ctx, "u1")
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if !blocked {
		t.Fatal("expected active cooldown to block")
	}

	// Past the window the block lifts on its own.
	svc.WithClock(func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) })
	blocked, _, err = svc.IsBlocked(ctx, "u1")
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if blocked {
		t.Fatal("expected expired cooldown not to block")
	}
}

func TestOverride(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	// Nothing to override yet.
	if _, err := svc.Override(ctx, "u1", "admin"); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := svc.RecordDenial(ctx, "u1", 30); err != nil {
		t.Fatalf("record denial: %v", err)
	}

	rec, err := svc.Override(ctx, "u1", "admin")
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if !rec.Overridden || rec.OverrideBy != "admin" {
		t.Fatalf("expected overridden record, got %+v", rec)
	}

	blocked, _, err := svc.IsBlocked(ctx, "u1")
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if blocked {
		t.Fatal("override must lift the block")
	}

	// Overriding again is a quiet no-op.
	again, err := svc.Override(ctx, "u1", "admin-2")
	if err != nil {
		t.Fatalf("repeat override: %v", err)
	}
	if again.OverrideBy != "admin" {
		t.Fatalf("repeat override must not change the actor, got %q", again.OverrideBy)
	}
}

func TestOverrideIsOneShot(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	if _, err := svc.RecordDenial(ctx, "u1", 30); err != nil {
		t.Fatalf("record denial: %v", err)
	}
	if _, err := svc.Override(ctx, "u1", "admin"); err != nil {
		t.Fatalf("override: %v", err)
	}

	// A later denial opens a fresh, unoverridden window.
	svc.WithClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })
	if _, err := svc.RecordDenial(ctx, "u1", 30); err != nil {
		t.Fatalf("second denial: %v", err)
	}

	blocked, rec, err := svc.IsBlocked(ctx, "u1")
	if err != nil {
		t.Fatalf("is blocked: %v", err)
	}
	if !blocked {
		t.Fatal("new denial must block despite the earlier override")
	}
	if rec.Overridden {
		t.Fatal("new record must not inherit the override")
	}
}
