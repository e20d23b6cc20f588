package web

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"ensemblelung/internal/apperr"
	"ensemblelung/internal/handoff"
	"ensemblelung/internal/predictor"
	"ensemblelung/internal/session"
)

// Form fields slack on top of the image size limit.
const formOverhead = 1 << 20

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "login", "Login", nil)
}

func (s *Server) loginSubmit(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if strings.TrimSpace(username) == "" || password == "" {
		s.notify(w, r, session.Warning, "Please fill both fields.", "/login")
		return
	}

	res, err := s.predictor.Login(r.Context(), username, password)
	if err != nil {
		if apperr.Is(err, apperr.Application) {
			s.notify(w, r, session.Failure, "Invalid credentials", "/login")
			return
		}
		s.log.Warn("login request failed", "id", requestID(r), "error", err)
		s.notify(w, r, session.Failure, "Server error, please try again.", "/login")
		return
	}

	if err := s.sessions.Set(w, r, session.User(res.User)); err != nil {
		s.log.Error("save session failed", "id", requestID(r), "error", err)
		s.notify(w, r, session.Failure, "Server error, please try again.", "/login")
		return
	}
	s.log.Info("user logged in", "id", requestID(r), "user", session.User(res.User).DisplayName())
	s.notify(w, r, session.Success, "Login successful!", "/")
}

type homeView struct {
	LastState string
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "home", "Home", homeView{LastState: s.sessions.LastState(r)})
}

// startPrediction re-reads the session rather than trusting the value loaded for this request.
func (s *Server) startPrediction(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Authenticated(r) {
		s.notify(w, r, session.Warning, "Please log in first to use the prediction feature.", "/login")
		return
	}
	http.Redirect(w, r, "/predict", http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Clear(w, r); err != nil {
		s.log.Error("clear session failed", "id", requestID(r), "error", err)
	}
	s.notify(w, r, session.Info, "You have been logged out.", "/login")
}

func (s *Server) predictPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "predict", "Predict", nil)
}

func (s *Server) predictSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+formOverhead)
	if err := r.ParseMultipartForm(s.maxUpload + formOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.notify(w, r, session.Warning, "The selected image is too large.", "/predict")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			s.log.Debug("parse upload failed", "id", requestID(r), "error", err)
		}
		s.notify(w, r, session.Warning, "Please upload an X-ray image first.", "/predict")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil || header.Size == 0 {
		if file != nil {
			file.Close()
		}
		s.notify(w, r, session.Warning, "Please upload an X-ray image first.", "/predict")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
	file.Close()
	if err != nil {
		s.log.Warn("read upload failed", "id", requestID(r), "error", err)
		s.notify(w, r, session.Failure, "Server error: "+err.Error(), "/predict")
		return
	}
	if int64(len(data)) > s.maxUpload {
		s.notify(w, r, session.Warning, "The selected image is too large.", "/predict")
		return
	}

	// The declared part type is ignored; the preview is served back from this origin.
	contentType := http.DetectContentType(data)
	if !isImage(contentType) {
		s.notify(w, r, session.Warning, "Please upload an X-ray image (PNG or JPG).", "/predict")
		return
	}

	pred, err := s.predictor.Predict(r.Context(), predictor.Upload{
		Filename:    header.Filename,
		ContentType: contentType,
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		s.predictFailed(w, r, err)
		return
	}

	st := handoff.State{
		Data:    &pred,
		Preview: &handoff.Preview{ContentType: contentType, Data: data},
	}
	if p := patientFromForm(r); !p.IsEmpty() {
		st.Patient = &p
	}
	id, err := s.states.Put(r.Context(), st)
	if err != nil {
		s.log.Error("store prediction failed", "id", requestID(r), "error", err)
		s.notify(w, r, session.Failure, "Server error: "+err.Error(), "/predict")
		return
	}
	if err := s.sessions.SetLastState(w, r, id); err != nil {
		s.log.Warn("remember last result failed", "id", requestID(r), "error", err)
	}
	s.log.Info("prediction stored", "id", requestID(r), "state", id, "label", pred.Label)
	http.Redirect(w, r, "/result?state="+url.QueryEscape(id), http.StatusSeeOther)
}

func (s *Server) predictFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch apperr.KindOf(err) {
	case apperr.Transport:
		s.log.Warn("predict request failed", "id", requestID(r), "error", err)
		s.notify(w, r, session.Failure, "Server error: "+apperr.Detail(err), "/predict")
	case apperr.Validation:
		s.notify(w, r, session.Warning, "Please upload an X-ray image first.", "/predict")
	default:
		msg := apperr.MessageOf(err)
		if msg == "" {
			msg = "Unexpected server response. Please try again."
		}
		s.notify(w, r, session.Failure, msg, "/predict")
	}
}

func patientFromForm(r *http.Request) handoff.PatientRecord {
	field := func(name string) string { return strings.TrimSpace(r.PostFormValue(name)) }
	return handoff.PatientRecord{
		Name:  field("name"),
		Age:   field("age"),
		Sex:   field("sex"),
		Date:  field("date"),
		Notes: field("notes"),
	}
}

// loadState returns the navigation state named by ?state=, falling back to an empty state.
func (s *Server) loadState(r *http.Request) handoff.State {
	id := r.URL.Query().Get("state")
	if id == "" {
		return handoff.State{}
	}
	st, err := s.states.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, handoff.ErrNotFound) {
			s.log.Warn("load navigation state failed", "id", requestID(r), "state", id, "error", err)
		}
		return handoff.State{}
	}
	return st
}

type resultView struct {
	StateID     string
	HasPreview  bool
	HasPatient  bool
	Label       string
	Confidence  string
	Alarming    bool
	Details     string
	Scores      []namedValue
	Metrics     predictor.Metrics
	MetricsNote string
	Features    []namedValue
	Analysis    string
}

func (s *Server) result(w http.ResponseWriter, r *http.Request) {
	st := s.loadState(r)

	label, confidence := predictor.Placeholder, predictor.Text(predictor.Placeholder)
	view := resultView{
		StateID:    st.ID,
		HasPreview: st.Preview != nil && len(st.Preview.Data) > 0 && isImage(st.Preview.ContentType),
		HasPatient: st.Patient != nil,
	}
	if st.Data != nil {
		label, confidence = st.Data.Label, st.Data.Confidence
		if label == "" {
			label = predictor.Placeholder
		}
		if confidence.IsZero() {
			confidence = predictor.Text(predictor.Placeholder)
		}
		view.Details = st.Data.Details
		view.Scores = sortedValues(st.Data.Scores)
	}
	view.Label = label
	view.Confidence = confidence.String()
	view.Alarming = isAlarming(label)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		view.Analysis = s.analyze(ctx, r, label, confidence)
		return nil
	})
	g.Go(func() error {
		view.Metrics, view.MetricsNote = s.metrics(ctx, r)
		return nil
	})
	_ = g.Wait()
	if r.Context().Err() != nil {
		s.log.Debug("client went away before result was ready", "id", requestID(r))
		return
	}
	view.Features = sortedValues(view.Metrics.Features)
	s.render(w, r, "result", "Result", view)
}

func (s *Server) analyze(ctx context.Context, r *http.Request, label string, confidence predictor.Confidence) string {
	if label == predictor.Placeholder {
		return "No valid prediction available to analyze."
	}
	msg, err := s.predictor.Analyze(ctx, label, confidence)
	if err == nil {
		return msg
	}
	if apperr.Is(err, apperr.Transport) {
		s.log.Warn("analyze request failed", "id", requestID(r), "error", err)
		return "Unable to connect to AI service."
	}
	return "Unable to generate AI explanation."
}

func (s *Server) metrics(ctx context.Context, r *http.Request) (predictor.Metrics, string) {
	m, err := s.predictor.Metrics(ctx)
	if err != nil {
		s.log.Warn("metrics request failed", "id", requestID(r), "error", err)
		return predictor.DefaultMetrics(), "Metrics unavailable."
	}
	return m, ""
}

func isAlarming(label string) bool {
	switch strings.ToLower(label) {
	case "normal", strings.ToLower(predictor.Placeholder), "unknown":
		return false
	}
	return true
}

type patientView struct {
	StateID string
	Patient *handoff.PatientRecord
}

func (s *Server) patientDetails(w http.ResponseWriter, r *http.Request) {
	st := s.loadState(r)
	s.render(w, r, "patient", "Patient Details", patientView{StateID: st.ID, Patient: st.Patient})
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	st, err := s.states.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil || st.Preview == nil || len(st.Preview.Data) == 0 || !isImage(st.Preview.ContentType) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", st.Preview.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(st.Preview.Data); err != nil {
		s.log.Debug("write preview failed", "id", requestID(r), "error", err)
	}
}

func isImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
