package audittrail

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/storage/memory"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
)

func TestAppendValidation(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	if _, err := svc.Append(ctx, audit.Entry{Action: audit.ActionSubmit}); !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error for missing actor, got %v", err)
	}
	if _, err := svc.Append(ctx, audit.Entry{ActorID: "u1"}); !apperrors.IsCode(err, apperrors.CodeValidation) {
		t.Fatalf("expected validation error for missing action, got %v", err)
	}

	entry, err := svc.Append(ctx, audit.Entry{ActorID: "u1", Action: audit.ActionSubmit, TargetRef: "application:a1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp to be assigned, got %+v", entry)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer sink.Close()

	svc := New(memory.New(), sink, nil)
	if _, err := svc.Append(context.Background(), audit.Entry{ActorID: "u1", Action: audit.ActionSubmit}); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 JSONL line, got %d", len(lines))
	}
	var entry audit.Entry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("parse sink line: %v", err)
	}
	if entry.ActorID != "u1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestExportCSV(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	for _, actor := range []string{"rev-1", "rev-2"} {
		if _, err := svc.Append(ctx, audit.Entry{
			ActorID:   actor,
			Action:    audit.ActionVouch,
			TargetRef: "application:a1",
			After:     []byte(`{"polarity":"positive"}`),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := svc.ExportCSV(ctx, audit.Query{}, &buf); err != nil {
		t.Fatalf("export csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[0][0] != "id" || records[0][3] != "action" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][3] != string(audit.ActionVouch) {
		t.Fatalf("unexpected action column: %v", records[1])
	}
}

func TestRedactSubject(t *testing.T) {
	store := memory.New()
	svc := New(store, nil, nil)
	ctx := context.Background()

	if _, err := svc.Append(ctx, audit.Entry{
		ActorID:   "u1",
		Action:    audit.ActionSubmit,
		TargetRef: "application:a1",
		After:     []byte(`{"applicant":{"display_name":"Sam","email":"sam@example.com"},"status":"pending"}`),
		Context:   audit.Context{SubjectID: "u1"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := svc.Append(ctx, audit.Entry{
		ActorID:   "other",
		Action:    audit.ActionSubmit,
		TargetRef: "application:a2",
		After:     []byte(`{"applicant":{"display_name":"Kept"}}`),
		Context:   audit.Context{SubjectID: "other"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	n, err := svc.RedactSubject(ctx, "u1", "admin")
	if err != nil {
		t.Fatalf("redact: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 entry redacted, got %d", n)
	}

	entries, err := svc.List(ctx, audit.Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var erasureSeen bool
	for _, e := range entries {
		switch {
		case e.Action == audit.ActionErasure:
			erasureSeen = true
		case e.Context.SubjectID == "u1":
			if strings.Contains(string(e.After), "sam@example.com") {
				t.Fatalf("PII survived redaction: %s", e.After)
			}
			if !strings.Contains(string(e.After), `"status":"pending"`) {
				t.Fatalf("structural fields must survive redaction: %s", e.After)
			}
		case e.Context.SubjectID == "other":
			if !strings.Contains(string(e.After), "Kept") {
				t.Fatalf("other subjects must be untouched: %s", e.After)
			}
		}
	}
	if !erasureSeen {
		t.Fatal("erasure must itself be recorded in the trail")
	}
}
