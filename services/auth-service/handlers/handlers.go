// Package handlers serves registration, login and official provisioning.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"civic-complaint-system/pkg/middleware"
	"civic-complaint-system/pkg/response"
	"civic-complaint-system/services/auth-service/models"
	"civic-complaint-system/services/auth-service/repository"
	"civic-complaint-system/services/auth-service/utils"
)

type Handler struct {
	users repository.Users
	now   func() time.Time
}

func New(users repository.Users) *Handler {
	return &Handler{users: users, now: time.Now}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", h.register)
	mux.HandleFunc("POST /api/auth/login", h.login)
	mux.Handle("GET /api/auth/me", middleware.AuthMiddleware(http.HandlerFunc(h.me)))
	mux.Handle("POST /api/auth/officials", middleware.AuthMiddleware(
		middleware.RequireAccessRole(models.AccessRoleAdmin)(http.HandlerFunc(h.createOfficial)),
	))
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", middleware.GetMetricsHandler())

	return middleware.TraceMiddleware(middleware.MetricsMiddleware(middleware.LoggerMiddleware(mux)))
}

type credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Department string `json:"department"`
}

func (c credentials) validate() string {
	if c.Email == "" || c.Password == "" || c.Name == "" {
		return "Email, Password, and Name are required"
	}
	if !utils.IsValidEmail(c.Email) {
		return "Invalid email format"
	}
	if ok, msg := utils.IsValidPassword(c.Password); !ok {
		return msg
	}
	if len(strings.TrimSpace(c.Name)) < 3 {
		return "Name must be at least 3 characters"
	}
	return ""
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var input credentials
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		log.Printf("[WARN] Invalid request format")
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if msg := input.validate(); msg != "" {
		response.Error(w, http.StatusBadRequest, msg, "")
		return
	}

	// Self-registration always yields a citizen.
	h.createUser(w, r, input, models.RoleCitizen, models.DepartmentGeneral)
}

func (h *Handler) createOfficial(w http.ResponseWriter, r *http.Request) {
	var input credentials
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if msg := input.validate(); msg != "" {
		response.Error(w, http.StatusBadRequest, msg, "")
		return
	}
	dept := strings.TrimSpace(input.Department)
	if dept == "" {
		response.Error(w, http.StatusBadRequest, "Department is required for officials", "")
		return
	}

	h.createUser(w, r, input, models.RoleOfficial, dept)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request, input credentials, role, department string) {
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		log.Printf("[ERROR] Failed to hash password: %v", err)
		response.Error(w, http.StatusInternalServerError, "Failed to process registration", "")
		return
	}

	u := &models.User{
		Email:      strings.ToLower(strings.TrimSpace(input.Email)),
		Password:   hashed,
		Name:       strings.TrimSpace(input.Name),
		Phone:      input.Phone,
		Role:       role,
		Department: department,
		AccessRole: models.AccessRoleOperational,
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			response.Error(w, http.StatusConflict, "Email already registered", "")
			return
		}
		log.Printf("[ERROR] Failed to save user: %v", err)
		response.Error(w, http.StatusInternalServerError, "Failed to save user", "")
		return
	}
	log.Printf("[OK] User registered - ID: %s, Role: %s", u.ID, u.Role)

	h.issue(w, http.StatusCreated, "User registered successfully", u)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", "")
		return
	}
	if input.Email == "" || input.Password == "" {
		response.Error(w, http.StatusBadRequest, "Email and Password are required", "")
		return
	}

	u, err := h.users.FindByEmail(r.Context(), strings.ToLower(strings.TrimSpace(input.Email)))
	if err != nil || !utils.CheckPasswordHash(input.Password, u.Password) {
		log.Printf("[WARN] Failed login attempt")
		response.Error(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}

	log.Printf("[OK] User logged in - ID: %s, Role: %s, Department: %s", u.ID, u.Role, u.Department)
	h.issue(w, http.StatusOK, "Login successful", u)
}

func (h *Handler) issue(w http.ResponseWriter, status int, message string, u *models.User) {
	token, err := utils.GenerateJWT(u, h.now())
	if err != nil {
		log.Printf("[ERROR] Failed to generate JWT for user id: %s", u.ID)
		response.Error(w, http.StatusInternalServerError, "Failed to generate token", "")
		return
	}
	response.Success(w, status, message, map[string]interface{}{
		"id":          u.ID,
		"token":       token,
		"name":        u.Name,
		"role":        u.Role,
		"access_role": u.AccessRole,
		"department":  u.Department,
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	u, err := h.users.FindByID(r.Context(), claims.UserID)
	if err != nil {
		response.Error(w, http.StatusNotFound, "User not found", "")
		return
	}
	response.Success(w, http.StatusOK, "User profile fetched", u)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":   "UP",
		"service":  "auth-service",
		"database": "connected",
	}
	status := http.StatusOK
	if err := h.users.Ping(ctx); err != nil {
		health["status"] = "DOWN"
		health["database"] = "disconnected"
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, health)
}
