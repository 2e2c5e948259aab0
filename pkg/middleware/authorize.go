package middleware

import (
	"context"
	"net/http"
	"strings"

	"civic-complaint-system/pkg/response"
)

const departmentContextKey contextKey = "department_scope"

// requireClaims writes 401 and reports false when the request carries no
// authenticated user.
func requireClaims(w http.ResponseWriter, r *http.Request) (*UserClaims, bool) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized", "")
	}
	return claims, ok
}

// RequireRole ensures the authenticated user has one of the allowed roles.
func RequireRole(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := requireClaims(w, r)
			if !ok {
				return
			}
			if !allowed[claims.Role] {
				response.Error(w, http.StatusForbidden, "Forbidden", "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccessRole ensures the authenticated user has the specified access role.
func RequireAccessRole(accessRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := requireClaims(w, r)
			if !ok {
				return
			}
			if claims.AccessRole != accessRole {
				response.Error(w, http.StatusForbidden, "Forbidden", "Insufficient access role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ScopeDepartment pins the request to a department. Users for which
// crossDepartment returns true may choose one with ?department= (empty means
// every department); everyone else is held to the department in their token
// and gets 403 when asking for another one or when they have none.
// The resolved scope is read back with DepartmentFromContext.
func ScopeDepartment(crossDepartment func(*UserClaims) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := requireClaims(w, r)
			if !ok {
				return
			}

			requested := strings.TrimSpace(r.URL.Query().Get("department"))
			scope := claims.Department
			switch {
			case crossDepartment != nil && crossDepartment(claims):
				scope = requested
			case claims.Department == "":
				response.Error(w, http.StatusForbidden, "Forbidden", "No department assigned")
				return
			case requested != "" && requested != claims.Department:
				response.Error(w, http.StatusForbidden, "Forbidden", "Outside your department")
				return
			}

			ctx := context.WithValue(r.Context(), departmentContextKey, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DepartmentFromContext returns the scope set by ScopeDepartment.
func DepartmentFromContext(ctx context.Context) (string, bool) {
	d, ok := ctx.Value(departmentContextKey).(string)
	return d, ok
}
