package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"civic-complaint-system/pkg/middleware"
	"civic-complaint-system/services/complaint-service/admission"
	"civic-complaint-system/services/complaint-service/classifier"
	"civic-complaint-system/services/complaint-service/complaint"
	"civic-complaint-system/services/complaint-service/decision"
	"civic-complaint-system/services/complaint-service/models"
	"civic-complaint-system/services/complaint-service/store"
	"civic-complaint-system/services/complaint-service/watchdog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayFunc func() (*decision.Classification, error)

func (f gatewayFunc) Classify(context.Context, classifier.Payload) (*decision.Classification, error) {
	return f()
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setup(t *testing.T, confidence float64) (http.Handler, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	gw := gatewayFunc(func() (*decision.Classification, error) {
		return &decision.Classification{
			Category:           "garbage",
			Severity:           "medium",
			Priority:           "low",
			ConfidenceScore:    confidence,
			AuthenticityStatus: "real",
			Reasoning:          "photo matches description",
		}, nil
	})
	gate := admission.NewGate(st, gw, nil, admission.Options{
		SLADuration:     72 * time.Hour,
		MinConfidence:   admission.DefaultMinConfidence,
		ClassifyTimeout: time.Second,
	})
	wd := watchdog.NewScheduler(st, nil, nil, nil, watchdog.Options{SLADuration: 72 * time.Hour, BatchSize: 10})
	t.Cleanup(wd.Stop)
	return New(gate, complaint.NewService(st, nil), wd).Routes(), st
}

func token(t *testing.T, role string) string {
	t.Helper()
	return sign(t, middleware.UserClaims{
		UserID: "user-" + role,
		Email:  role + "@city.example",
		Role:   role,
	})
}

func sign(t *testing.T, claims middleware.UserClaims) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(middleware.JWTSecret())
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, role string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestSubmitAccepted(t *testing.T) {
	h, _ := setup(t, 0.9)

	rec, env := do(t, h, http.MethodPost, "/api/complaints", RoleCitizen, submitRequest{Description: "Trash piling up", IsAnonymous: true})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", env.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))

	var c models.Complaint
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, models.StatusAnalyzed, c.Status)
	assert.Equal(t, "sanitation", c.Department)
	assert.Empty(t, c.ReporterID)
	assert.NotContains(t, string(env.Data), "reporter_id_enc")
}

func TestSubmitRejected(t *testing.T) {
	h, _ := setup(t, 0.1)

	rec, env := do(t, h, http.MethodPost, "/api/complaints", RoleCitizen, submitRequest{Description: "asdf"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "rejected", env.Status)

	var rej admission.Rejection
	require.NoError(t, json.Unmarshal(env.Data, &rej))
	assert.Equal(t, 0.1, rej.ConfidenceScore)
	assert.NotEmpty(t, rej.Reason)
}

func TestSubmitRequiresAuth(t *testing.T) {
	h, _ := setup(t, 0.9)
	rec, _ := do(t, h, http.MethodPost, "/api/complaints", "", submitRequest{Description: "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetComplaint(t *testing.T) {
	h, _ := setup(t, 0.9)
	_, env := do(t, h, http.MethodPost, "/api/complaints", RoleCitizen, submitRequest{Description: "Trash"})
	var c models.Complaint
	require.NoError(t, json.Unmarshal(env.Data, &c))

	rec, _ := do(t, h, http.MethodGet, "/api/complaints/"+c.ID.Hex(), RoleCitizen, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/complaints/nope", RoleCitizen, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/complaints/65f000000000000000000000", RoleCitizen, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMine(t *testing.T) {
	h, _ := setup(t, 0.9)
	do(t, h, http.MethodPost, "/api/complaints", RoleCitizen, submitRequest{Description: "Mine"})
	do(t, h, http.MethodPost, "/api/complaints", RoleCitizen, submitRequest{Description: "Hidden", IsAnonymous: true})
	do(t, h, http.MethodPost, "/api/complaints", RoleOfficial, submitRequest{Description: "Not mine"})

	rec, env := do(t, h, http.MethodGet, "/api/complaints/mine", RoleCitizen, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Complaint
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Mine", list[0].Description)
}

func TestListForDepartment(t *testing.T) {
	h, st := setup(t, 0.9)
	do(t, h, http.MethodPost, "/api/complaints", RoleCitizen, submitRequest{Description: "Trash on Elm St"})
	do(t, h, http.MethodPost, "/api/complaints", RoleCitizen, submitRequest{Description: "Overflowing bins"})
	require.NoError(t, st.Insert(context.Background(), &models.Complaint{
		Category: "pothole", Department: "public_works", Status: models.StatusAnalyzed, CreatedAt: time.Now(),
	}))

	list := func(claims middleware.UserClaims, query string) (int, []models.Complaint) {
		req := httptest.NewRequest(http.MethodGet, "/api/complaints"+query, nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, claims))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		var out []models.Complaint
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(env.Data, &out))
		}
		return rec.Code, out
	}

	sanitation := middleware.UserClaims{UserID: "o1", Role: RoleOfficial, Department: "sanitation"}
	code, got := list(sanitation, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, "sanitation", c.Department)
		assert.Empty(t, c.AuditLog)
	}

	code, got = list(sanitation, "?status=analyzed&category=garbage")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, got, 2)

	code, got = list(sanitation, "?status=resolved")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, got)

	code, _ = list(sanitation, "?status=bogus")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = list(sanitation, "?department=public_works")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = list(middleware.UserClaims{UserID: "c1", Role: RoleCitizen, Department: "sanitation"}, "")
	assert.Equal(t, http.StatusForbidden, code)

	admin := middleware.UserClaims{UserID: "a1", Role: RoleOfficial, Department: "general", AccessRole: AccessRoleAdmin}
	code, got = list(admin, "?department=public_works")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, got, 1)
	assert.Equal(t, "pothole", got[0].Category)

	central := middleware.UserClaims{UserID: "o2", Role: RoleOfficial, Department: models.DepartmentCentral}
	code, got = list(central, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, got, 3)
}

func TestUpdateStatus(t *testing.T) {
	h, _ := setup(t, 0.9)
	_, env := do(t, h, http.MethodPost, "/api/complaints", RoleCitizen, submitRequest{Description: "Trash"})
	var c models.Complaint
	require.NoError(t, json.Unmarshal(env.Data, &c))
	path := "/api/complaints/" + c.ID.Hex() + "/status"

	rec, _ := do(t, h, http.MethodPut, path, RoleCitizen, statusRequest{Status: "resolved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = do(t, h, http.MethodPut, path, RoleOfficial, statusRequest{Status: "resolved", Notes: "collected"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.Complaint
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, models.StatusResolved, updated.Status)
	assert.Nil(t, updated.NextEscalationAt)

	rec, _ = do(t, h, http.MethodPut, path, RoleOfficial, statusRequest{Status: "in_progress"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, h, http.MethodPut, path, RoleOfficial, statusRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTickEndpoint(t *testing.T) {
	h, st := setup(t, 0.9)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, st.Insert(context.Background(), &models.Complaint{
		Description:      "Overdue",
		Status:           models.StatusAnalyzed,
		NextEscalationAt: &past,
	}))

	rec, env := do(t, h, http.MethodPost, "/internal/sla/tick", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res watchdog.TickResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Escalated)
}

func TestHealth(t *testing.T) {
	h, _ := setup(t, 0.9)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "complaint-service")
}
