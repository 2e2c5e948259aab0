// Package handlers exposes the complaint service over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"civic-complaint-system/pkg/middleware"
	"civic-complaint-system/pkg/response"
	"civic-complaint-system/services/complaint-service/admission"
	"civic-complaint-system/services/complaint-service/complaint"
	"civic-complaint-system/services/complaint-service/escalation"
	"civic-complaint-system/services/complaint-service/models"
	"civic-complaint-system/services/complaint-service/store"
	"civic-complaint-system/services/complaint-service/watchdog"
)

const (
	RoleCitizen  = "citizen"
	RoleOfficial = "official"

	AccessRoleAdmin = "admin"

	maxSubmissionBytes = 10 << 20
)

type Handler struct {
	gate       *admission.Gate
	complaints *complaint.Service
	watchdog   *watchdog.Scheduler
}

func New(gate *admission.Gate, complaints *complaint.Service, wd *watchdog.Scheduler) *Handler {
	return &Handler{gate: gate, complaints: complaints, watchdog: wd}
}

// Routes registers every endpoint and wraps the mux in the shared
// trace, metrics and request-log middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	auth := middleware.AuthMiddleware
	official := middleware.RequireRole(RoleOfficial)
	scoped := middleware.ScopeDepartment(crossDepartment)

	mux.Handle("POST /api/complaints", auth(http.HandlerFunc(h.submit)))
	mux.Handle("GET /api/complaints", auth(official(scoped(http.HandlerFunc(h.list)))))
	mux.Handle("GET /api/complaints/mine", auth(http.HandlerFunc(h.mine)))
	mux.Handle("GET /api/complaints/{id}", auth(http.HandlerFunc(h.get)))
	mux.Handle("PUT /api/complaints/{id}/status", auth(official(http.HandlerFunc(h.updateStatus))))
	mux.HandleFunc("POST /internal/sla/tick", h.tick)
	mux.HandleFunc("GET /internal/sla/stats", h.stats)
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", middleware.GetMetricsHandler())

	return middleware.TraceMiddleware(middleware.MetricsMiddleware(middleware.LoggerMiddleware(mux)))
}

type submitRequest struct {
	Description   string `json:"description"`
	Location      string `json:"location"`
	Image         []byte `json:"image,omitempty"` // base64
	ImageMIMEType string `json:"image_mime_type,omitempty"`
	IsAnonymous   bool   `json:"is_anonymous"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var input submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	out, err := h.gate.Submit(r.Context(), admission.Submission{
		ReporterID:    claims.UserID,
		Anonymous:     input.IsAnonymous,
		Description:   input.Description,
		Location:      input.Location,
		Image:         input.Image,
		ImageMIMEType: input.ImageMIMEType,
	})
	if errors.Is(err, admission.ErrInvalidSubmission) {
		response.Error(w, http.StatusBadRequest, "Description is required", err.Error())
		return
	}
	if err != nil {
		middleware.LogError(middleware.GetTraceID(r), "submit failed", err)
		response.Error(w, http.StatusInternalServerError, "Failed to save complaint", "")
		return
	}

	if !out.Accepted() {
		response.Rejected(w, http.StatusUnprocessableEntity, out.Rejection.Reason, out.Rejection)
		return
	}
	middleware.LogInfoFields(middleware.GetTraceID(r), "complaint accepted", map[string]interface{}{
		"complaint_id": out.Complaint.ID.Hex(),
		"category":     out.Complaint.Category,
		"source":       out.Complaint.AgentDecision.Source(),
	})
	response.Success(w, http.StatusCreated, "Complaint accepted", out.Complaint)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.complaints.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "", c)
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	list, err := h.complaints.ListByReporter(r.Context(), claims.UserID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "", list)
}

// crossDepartment reports whether an official may list any department.
func crossDepartment(c *middleware.UserClaims) bool {
	return c.AccessRole == AccessRoleAdmin || c.Department == models.DepartmentCentral
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	department, _ := middleware.DepartmentFromContext(r.Context())
	q := r.URL.Query()
	list, err := h.complaints.ListForDepartment(r.Context(), department, q.Get("status"), q.Get("category"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "", list)
}

type statusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var input statusRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}

	updated, err := h.complaints.UpdateStatus(r.Context(), r.PathValue("id"), actorFor(claims.Role), models.Status(input.Status), input.Notes)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "Status updated", updated)
}

func actorFor(role string) models.Actor {
	if role == RoleOfficial {
		return models.ActorOfficial
	}
	return models.ActorCitizen
}

func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	middleware.LogInfo(middleware.GetTraceID(r), "manual SLA tick requested")
	res := h.watchdog.Tick(r.Context())
	response.Success(w, http.StatusOK, "", res)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, "", h.watchdog.Stats())
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "complaint-service"})
}

func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, complaint.ErrInvalidID), errors.Is(err, complaint.ErrUnknownStatus):
		response.Error(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, complaint.ErrForbidden):
		response.Error(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "Complaint not found", "")
	case errors.Is(err, escalation.ErrInvalidTransition), errors.Is(err, escalation.ErrTerminal), errors.Is(err, store.ErrConflict):
		response.Error(w, http.StatusConflict, "Status change not allowed", err.Error())
	default:
		middleware.LogError(middleware.GetTraceID(r), "complaint request failed", err)
		response.Error(w, http.StatusInternalServerError, "Internal server error", "")
	}
}
