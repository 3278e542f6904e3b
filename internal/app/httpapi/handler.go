// Package httpapi exposes the recruitment workflow over REST.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/audit"
	"github.com/corsairs-gg/quartermaster/internal/app/domain/vouch"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
	"github.com/corsairs-gg/quartermaster/internal/httputil"
	"github.com/corsairs-gg/quartermaster/internal/middleware"
)

const maxBodyBytes = 64 << 10

// Services bundles everything the API surfaces.
type Services struct {
	Applications ApplicationService
	Vouches      VouchService
	Cooldowns    CooldownService
	Decisions    DecisionService
	Audit        AuditService
	Outbox       OutboxService
	Erasure      ErasureService
}

type handler struct {
	svc Services
}

// NewHandler returns a router exposing the recruitment REST API. Role gates
// assume the auth middleware has already populated the request context.
func NewHandler(svc Services) http.Handler {
	h := &handler{svc: svc}
	r := mux.NewRouter()

	reviewer := middleware.RequireRole(middleware.RoleReviewer, middleware.RoleAdmin)
	admin := middleware.RequireRole(middleware.RoleAdmin)

	r.HandleFunc("/applications", h.submitApplication).Methods(http.MethodPost)
	r.Handle("/applications", reviewer(http.HandlerFunc(h.listApplications))).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}", h.getApplication).Methods(http.MethodGet)
	r.Handle("/applications/{id}/interview", reviewer(http.HandlerFunc(h.requestInterview))).Methods(http.MethodPost)
	r.Handle("/applications/{id}/approve", reviewer(http.HandlerFunc(h.approve))).Methods(http.MethodPost)
	r.Handle("/applications/{id}/deny", reviewer(http.HandlerFunc(h.deny))).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/withdraw", h.withdraw).Methods(http.MethodPost)
	r.Handle("/applications/{id}/vouches", reviewer(http.HandlerFunc(h.addVouch))).Methods(http.MethodPost)
	r.Handle("/applications/{id}/vouches", reviewer(http.HandlerFunc(h.listVouches))).Methods(http.MethodGet)

	r.Handle("/applicants/{id}/cooldown", reviewer(http.HandlerFunc(h.cooldownStatus))).Methods(http.MethodGet)
	r.Handle("/applicants/{id}/cooldown/override", admin(http.HandlerFunc(h.overrideCooldown))).Methods(http.MethodPost)
	r.Handle("/applicants/{id}", admin(http.HandlerFunc(h.eraseApplicant))).Methods(http.MethodDelete)

	r.Handle("/audit", admin(http.HandlerFunc(h.listAudit))).Methods(http.MethodGet)
	r.Handle("/outbox/dead", admin(http.HandlerFunc(h.listDeadEvents))).Methods(http.MethodGet)
	r.Handle("/outbox/{id}/retry", admin(http.HandlerFunc(h.retryEvent))).Methods(http.MethodPost)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	return r
}

func (h *handler) submitApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string          `json:"display_name"`
		Email       string          `json:"email"`
		Form        json.RawMessage `json:"form"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	app, err := h.svc.Applications.Submit(r.Context(), application.Applicant{
		UserID:      userID,
		DisplayName: payload.DisplayName,
		Email:       payload.Email,
	}, payload.Form)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, app)
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	q := application.Query{
		Status:      application.Status(r.URL.Query().Get("status")),
		ApplicantID: r.URL.Query().Get("applicant_id"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Offset = n
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.To = t
		}
	}

	apps, err := h.svc.Applications.List(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, apps)
}

func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	app, err := h.svc.Applications.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Applicants may only see their own application.
	role := middleware.GetUserRole(r.Context())
	if role != middleware.RoleReviewer && role != middleware.RoleAdmin {
		if middleware.GetUserID(r.Context()) != app.Applicant.UserID {
			httputil.WriteError(w, apperrors.Forbidden("not your application"))
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

type transitionPayload struct {
	ExpectedVersion int64  `json:"expected_version"`
	Notes           string `json:"notes"`
	CooldownDays    int    `json:"cooldown_days"`
}

func (h *handler) requestInterview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var payload transitionPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.svc.Decisions.RequestInterview(r.Context(), id, middleware.GetUserID(r.Context()), payload.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var payload transitionPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.svc.Decisions.Approve(r.Context(), id, middleware.GetUserID(r.Context()), payload.Notes, payload.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *handler) deny(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var payload transitionPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	app, err := h.svc.Decisions.Deny(r.Context(), id, middleware.GetUserID(r.Context()), payload.Notes, payload.CooldownDays, payload.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, app)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var payload transitionPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	actorID := middleware.GetUserID(r.Context())
	if actorID == "" {
		httputil.WriteError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	app, err := h.svc.Applications.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	role := middleware.GetUserRole(r.Context())
	if actorID != app.Applicant.UserID && role != middleware.RoleAdmin {
		httputil.WriteError(w, apperrors.Forbidden("only the applicant may withdraw"))
		return
	}

	updated, err := h.svc.Decisions.Withdraw(r.Context(), id, actorID, payload.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *handler) addVouch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var payload struct {
		Polarity string `json:"polarity"`
		Comment  string `json:"comment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := h.svc.Vouches.Add(r.Context(), id, middleware.GetUserID(r.Context()), vouch.Polarity(payload.Polarity), payload.Comment)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, v)
}

func (h *handler) listVouches(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	list, err := h.svc.Vouches.List(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tally, err := h.svc.Vouches.Tally(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"vouches": list,
		"tally":   tally,
	})
}

func (h *handler) cooldownStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, found, err := h.svc.Cooldowns.Status(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"active": rec.Active(time.Now().UTC()),
		"record": rec,
	})
}

func (h *handler) overrideCooldown(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.svc.Cooldowns.Override(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *handler) eraseApplicant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := h.svc.Erasure.Erase(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q := audit.Query{
		ActorID:   r.URL.Query().Get("actor_id"),
		TargetRef: r.URL.Query().Get("target_ref"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.Limit = n
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.To = t
		}
	}

	switch r.URL.Query().Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
		if err := h.svc.Audit.ExportCSV(r.Context(), q, w); err != nil {
			httputil.WriteError(w, err)
		}
	case "", "json":
		entries, err := h.svc.Audit.List(r.Context(), q)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, entries)
	default:
		httputil.WriteError(w, apperrors.Validation("format must be json or csv"))
	}
}

func (h *handler) listDeadEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	events, err := h.svc.Outbox.DeadLetters(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

func (h *handler) retryEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ev, err := h.svc.Outbox.Retry(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ev)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(body io.Reader, target interface{}) error {
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return apperrors.Validation("read request body")
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return apperrors.Validation(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
