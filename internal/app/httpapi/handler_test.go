package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/services/applications"
	"github.com/corsairs-gg/quartermaster/internal/app/services/audittrail"
	"github.com/corsairs-gg/quartermaster/internal/app/services/cooldowns"
	"github.com/corsairs-gg/quartermaster/internal/app/services/decisions"
	"github.com/corsairs-gg/quartermaster/internal/app/services/erasure"
	"github.com/corsairs-gg/quartermaster/internal/app/services/orchestrator"
	"github.com/corsairs-gg/quartermaster/internal/app/services/vouches"
	"github.com/corsairs-gg/quartermaster/internal/app/storage/memory"
	"github.com/corsairs-gg/quartermaster/internal/middleware"
)

const validForm = `{"ingame_name":"calico","hours_played":"900","region":"eu"}`

func newAPI(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	auditSvc := audittrail.New(store, nil, nil)
	cooldownSvc := cooldowns.New(store, auditSvc, 30, nil)
	appSvc := applications.New(store, cooldownSvc, auditSvc, nil)
	vouchSvc := vouches.New(store, store, auditSvc, nil)
	decisionSvc := decisions.New(store, store, cooldownSvc, auditSvc, nil)
	erasureSvc := erasure.New(store, store, store, auditSvc, nil)
	orch := orchestrator.New(store, store, nil, appSvc, nil, orchestrator.Config{}, nil)

	return NewHandler(Services{
		Applications: appSvc,
		Vouches:      vouchSvc,
		Cooldowns:    cooldownSvc,
		Decisions:    decisionSvc,
		Audit:        auditSvc,
		Outbox:       orch,
		Erasure:      erasureSvc,
	}), store
}

func doRequest(t *testing.T, h http.Handler, method, path, userID, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req = req.WithContext(middleware.WithIdentity(context.Background(), userID, role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func submit(t *testing.T, h http.Handler, userID string) application.Application {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/applications", userID, middleware.RoleApplicant, map[string]interface{}{
		"display_name": "Calico Jack",
		"form":         json.RawMessage(validForm),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var app application.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &app))
	return app
}

func TestSubmitEndpoint(t *testing.T) {
	h, _ := newAPI(t)

	app := submit(t, h, "u1")
	assert.Equal(t, application.StatusPending, app.Status)
	assert.Equal(t, "u1", app.Applicant.UserID)
	assert.EqualValues(t, 1, app.Version)

	// Unauthenticated intake is rejected.
	rec := doRequest(t, h, http.MethodPost, "/applications", "", "", map[string]interface{}{
		"display_name": "Nobody",
		"form":         json.RawMessage(validForm),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Duplicate open application surfaces as 409 with the error envelope.
	rec = doRequest(t, h, http.MethodPost, "/applications", "u1", middleware.RoleApplicant, map[string]interface{}{
		"display_name": "Calico Jack",
		"form":         json.RawMessage(validForm),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errBody struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "CONFLICT", errBody.Code)
}

func TestRoleEnforcement(t *testing.T) {
	h, _ := newAPI(t)
	app := submit(t, h, "u1")

	// Applicants cannot list applications or drive decisions.
	rec := doRequest(t, h, http.MethodGet, "/applications", "u1", middleware.RoleApplicant, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/interview", app.ID), "u1", middleware.RoleApplicant,
		map[string]interface{}{"expected_version": app.Version})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Cooldown override is admin-only.
	rec = doRequest(t, h, http.MethodPost, "/applicants/u1/cooldown/override", "rev-1", middleware.RoleReviewer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDecisionFlowOverHTTP(t *testing.T) {
	h, _ := newAPI(t)
	app := submit(t, h, "u1")

	rec := doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/interview", app.ID), "rev-1", middleware.RoleReviewer,
		map[string]interface{}{"expected_version": app.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var interviewing application.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &interviewing))
	assert.Equal(t, application.StatusInterviewing, interviewing.Status)

	// Stale version loses with a 409.
	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/deny", app.ID), "rev-2", middleware.RoleReviewer,
		map[string]interface{}{"expected_version": app.Version})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/approve", app.ID), "rev-1", middleware.RoleReviewer,
		map[string]interface{}{"expected_version": interviewing.Version, "notes": "welcome"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Invalid transitions map to 422.
	var approved application.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &approved))
	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/deny", app.ID), "rev-1", middleware.RoleReviewer,
		map[string]interface{}{"expected_version": approved.Version})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestApplicationVisibility(t *testing.T) {
	h, _ := newAPI(t)
	app := submit(t, h, "u1")

	// The owner sees their application.
	rec := doRequest(t, h, http.MethodGet, "/applications/"+app.ID, "u1", middleware.RoleApplicant, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A different applicant does not.
	rec = doRequest(t, h, http.MethodGet, "/applications/"+app.ID, "u2", middleware.RoleApplicant, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Reviewers do.
	rec = doRequest(t, h, http.MethodGet, "/applications/"+app.ID, "rev-1", middleware.RoleReviewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unknown IDs are 404.
	rec = doRequest(t, h, http.MethodGet, "/applications/nope", "rev-1", middleware.RoleReviewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithdrawOwnership(t *testing.T) {
	h, _ := newAPI(t)
	app := submit(t, h, "u1")

	rec := doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/withdraw", app.ID), "u2", middleware.RoleApplicant,
		map[string]interface{}{"expected_version": app.Version})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/withdraw", app.ID), "u1", middleware.RoleApplicant,
		map[string]interface{}{"expected_version": app.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var withdrawn application.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &withdrawn))
	assert.Equal(t, application.StatusWithdrawn, withdrawn.Status)
}

func TestVouchEndpoints(t *testing.T) {
	h, _ := newAPI(t)
	app := submit(t, h, "u1")

	rec := doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/vouches", app.ID), "rev-1", middleware.RoleReviewer,
		map[string]interface{}{"polarity": "positive", "comment": "knows the game"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, h, http.MethodPost, fmt.Sprintf("/applications/%s/vouches", app.ID), "rev-2", middleware.RoleReviewer,
		map[string]interface{}{"polarity": "negative"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, http.MethodGet, fmt.Sprintf("/applications/%s/vouches", app.ID), "rev-1", middleware.RoleReviewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Tally struct {
			Positive int `json:"positive"`
			Negative int `json:"negative"`
		} `json:"tally"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 1, payload.Tally.Positive)
	assert.Equal(t, 1, payload.Tally.Negative)
}

func TestErasureEndpoint(t *testing.T) {
	h, store := newAPI(t)
	app := submit(t, h, "u1")

	rec := doRequest(t, h, http.MethodDelete, "/applicants/u1", "admin-1", middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result struct {
		ApplicationsDeleted int `json:"applications_deleted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.ApplicationsDeleted)

	_, err := store.GetApplication(context.Background(), app.ID)
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	h, _ := newAPI(t)
	rec := doRequest(t, h, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
