package web

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter maps paths to pages. Protected pages redirect to /login without a
// session, /login redirects home with one, and unknown paths redirect home.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests, s.loadSession)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			s.log.Debug("health write failed", "error", err)
		}
	}).Methods(http.MethodGet)
	r.Handle("/login", s.guestOnly(http.HandlerFunc(s.loginPage))).Methods(http.MethodGet)
	r.Handle("/login", s.guestOnly(http.HandlerFunc(s.loginSubmit))).Methods(http.MethodPost)
	r.HandleFunc("/start", s.startPrediction).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.requireAuth)
	protected.HandleFunc("/", s.home).Methods(http.MethodGet)
	protected.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	protected.HandleFunc("/predict", s.predictPage).Methods(http.MethodGet)
	protected.HandleFunc("/predict", s.predictSubmit).Methods(http.MethodPost)
	protected.HandleFunc("/result", s.result).Methods(http.MethodGet)
	protected.HandleFunc("/patient-details", s.patientDetails).Methods(http.MethodGet)
	protected.HandleFunc("/preview/{id}", s.preview).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})
	return r
}
