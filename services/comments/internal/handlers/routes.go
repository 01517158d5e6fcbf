package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/video-collab/internal/platform/auth"
)

// Routes registers the comment API on r. Reads are public; writes require
// a user and pass through limit when it is set.
func Routes(r chi.Router, d Deps, verifier auth.JWTVerifier, limit func(http.Handler) http.Handler) {
	d = d.withDefaults()

	r.Get("/comments/{videoId}", ListComments(d))
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/comments/{videoId}", CreateComment(d))
		r.Put("/comments/{commentId}", UpdateComment(d))
		r.Delete("/comments/{commentId}", DeleteComment(d))
		r.Post("/comments/{commentId}/reaction", ToggleReaction(d))
		r.With(auth.RequireModerator).Delete("/moderation/comments/{commentId}", ModerateComment(d))
	})
}
