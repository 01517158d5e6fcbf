package auth

import (
	"net/http"
	"strings"

	"github.com/example/video-collab/internal/platform/api"
)

// IsModerator reports whether role may remove other users' comments.
func IsModerator(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin", "moderator":
		return true
	}
	return false
}

// RequireModerator allows the request only if RequireUser already injected
// an admin or moderator role into context.
func RequireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := RoleFromContext(r.Context())
		if !IsModerator(role) {
			api.Forbidden(w, "FORBIDDEN", "Moderator role required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
