package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ensemblelung/internal/session"
)

type ctxKey int

const (
	userCtxKey ctxKey = iota
	requestIDCtxKey
)

type authState struct {
	user session.User
	ok   bool
}

// loadSession reads the session once per request and records the result in the context.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.sessions.Get(r)
		ctx := context.WithValue(r.Context(), userCtxKey, authState{user: user, ok: ok})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser returns the user loadSession found, if any.
func currentUser(r *http.Request) (session.User, bool) {
	st, _ := r.Context().Value(userCtxKey).(authState)
	return st.user, st.ok
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(r); !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) guestOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(r); ok {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDCtxKey, id)))

		level := s.log.Info
		if r.URL.Path == "/health" {
			level = s.log.Debug
		}
		level("request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDCtxKey).(string)
	return id
}
