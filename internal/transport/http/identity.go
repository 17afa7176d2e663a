package http

import (
	"context"
	"net/http"
	"strings"

	"live-quiz-service/internal/domain"
)

type userKey struct{}

// requireUser rejects requests without an X-User-ID header and stores the
// caller in the request context.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorPayload{Error: "unauthenticated", Message: "missing " + HeaderUserID})
			return
		}
		user := domain.User{
			ID:       id,
			Username: strings.TrimSpace(r.Header.Get(HeaderUsername)),
			FullName: strings.TrimSpace(r.Header.Get(HeaderUserFullName)),
		}
		if user.Username == "" {
			user.Username = id
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func userFrom(r *http.Request) domain.User {
	user, _ := r.Context().Value(userKey{}).(domain.User)
	return user
}
