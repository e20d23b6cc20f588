// Package web serves the Ensemble Lung AI pages: login, home, upload,
// result and patient details, gated on the session cookie.
package web

import (
	"context"
	"html/template"
	"log/slog"

	"ensemblelung/internal/handoff"
	"ensemblelung/internal/predictor"
	"ensemblelung/internal/session"
)

// Predictor is the remote prediction service.
type Predictor interface {
	Login(ctx context.Context, username, password string) (predictor.LoginResult, error)
	Predict(ctx context.Context, up predictor.Upload) (predictor.Prediction, error)
	Analyze(ctx context.Context, label string, confidence predictor.Confidence) (string, error)
	Metrics(ctx context.Context) (predictor.Metrics, error)
}

// StateStore keeps navigation state between pages.
type StateStore interface {
	Put(ctx context.Context, st handoff.State) (string, error)
	Get(ctx context.Context, id string) (handoff.State, error)
}

// Server holds what every page handler needs.
type Server struct {
	sessions  *session.Store
	states    StateStore
	predictor Predictor
	log       *slog.Logger
	pages     map[string]*template.Template
	maxUpload int64
}

// Options configures NewServer.
type Options struct {
	Sessions       *session.Store
	States         StateStore
	Predictor      Predictor
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// NewServer parses the page templates and returns a ready Server.
func NewServer(opts Options) (*Server, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Server{
		sessions:  opts.Sessions,
		states:    opts.States,
		predictor: opts.Predictor,
		log:       log,
		pages:     pages,
		maxUpload: maxUpload,
	}, nil
}
