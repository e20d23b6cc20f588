package predictor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ensemblelung/internal/apperr"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, 2*time.Second), &calls
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestLoginSuccess(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Username != "doc" || req.Password != "1234" {
			t.Errorf("unexpected credentials %+v", req)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": "doc"})
	})

	res, err := c.Login(context.Background(), "doc", "1234")
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if string(res.User) != `"doc"` {
		t.Fatalf("user = %s", res.User)
	}
}

func TestLoginEmptyCredentialsNoRequest(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	for _, creds := range [][2]string{{"", "pw"}, {"user", ""}, {"", ""}} {
		_, err := c.Login(context.Background(), creds[0], creds[1])
		if !apperr.Is(err, apperr.Validation) {
			t.Fatalf("expected validation error for %v, got %v", creds, err)
		}
	}
	if *calls != 0 {
		t.Fatalf("expected no requests, got %d", *calls)
	}
}

func TestLoginFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid username or password"})
	})
	_, err := c.Login(context.Background(), "doc", "nope")
	if !apperr.Is(err, apperr.Application) {
		t.Fatalf("expected application error, got %v", err)
	}
	if apperr.MessageOf(err) != "Invalid username or password" {
		t.Fatalf("message = %q", apperr.MessageOf(err))
	}
}

func TestLoginMalformedResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"user": "doc"})
	})
	if _, err := c.Login(context.Background(), "doc", "1234"); !apperr.Is(err, apperr.Application) {
		t.Fatalf("missing success flag should be an application error, got %v", err)
	}
}

func TestLoginSuccessWithoutUser(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	_, err := c.Login(context.Background(), "doc", "1234")
	if !apperr.Is(err, apperr.Transport) || !errors.Is(err, ErrNoUser) {
		t.Fatalf("success without user should be a malformed response, got %v", err)
	}
}

func TestLoginTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second)
	if _, err := c.Login(context.Background(), "doc", "1234"); !apperr.Is(err, apperr.Transport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestPredictMultipartAndDefaults(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "pngbytes" || hdr.Filename != "chest.png" {
			t.Errorf("unexpected upload %q %q", hdr.Filename, data)
		}
		if hdr.Header.Get("Content-Type") != "image/png" {
			t.Errorf("content type = %q", hdr.Header.Get("Content-Type"))
		}
		writeJSON(w, http.StatusOK, map[string]any{"label": "Adenocarcinoma", "confidence": 0.92})
	})

	p, err := c.Predict(context.Background(), Upload{Filename: "chest.png", ContentType: "image/png", Body: strings.NewReader("pngbytes")})
	if err != nil {
		t.Fatalf("Predict() failed: %v", err)
	}
	if p.Label != "Adenocarcinoma" {
		t.Fatalf("label = %q", p.Label)
	}
	if f, ok := p.Confidence.Float64(); !ok || f != 0.92 {
		t.Fatalf("confidence = %v (numeric %v)", f, ok)
	}
	if p.Details != "" || p.Scores == nil || len(p.Scores) != 0 {
		t.Fatalf("defaults not applied: %+v", p)
	}
}

func TestPredictMissingLabel(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    any
		kind    apperr.Kind
		message string
	}{
		{"server error field", http.StatusBadRequest, map[string]any{"error": "Please upload a valid lung X-ray image."}, apperr.Application, "Please upload a valid lung X-ray image."},
		{"no label", http.StatusOK, map[string]any{"confidence": 0.5}, apperr.Application, ""},
		{"bare 500", http.StatusInternalServerError, map[string]any{}, apperr.Transport, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})
			_, err := c.Predict(context.Background(), Upload{Filename: "x.png", Body: strings.NewReader("x")})
			if !apperr.Is(err, tc.kind) {
				t.Fatalf("expected %v error, got %v", tc.kind, err)
			}
			if apperr.MessageOf(err) != tc.message {
				t.Fatalf("message = %q, want %q", apperr.MessageOf(err), tc.message)
			}
		})
	}
}

func TestPredictNoFile(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := c.Predict(context.Background(), Upload{}); !apperr.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if *calls != 0 {
		t.Fatalf("expected no requests, got %d", *calls)
	}
}

func TestAnalyze(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["label"] != "Normal" || req["confidence"] != 0.8 {
			t.Errorf("unexpected analyze body %v", req)
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Looks healthy."})
	})
	msg, err := c.Analyze(context.Background(), "Normal", Number(0.8))
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}
	if msg != "Looks healthy." {
		t.Fatalf("message = %q", msg)
	}
}

func TestAnalyzeMessageOnErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "AI explanation failed. Try again later."})
	})
	msg, err := c.Analyze(context.Background(), "Normal", Number(0.8))
	if err != nil || msg != "AI explanation failed. Try again later." {
		t.Fatalf("got %q, %v", msg, err)
	}
}

func TestAnalyzeNoMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})
	if _, err := c.Analyze(context.Background(), "Normal", Number(0.8)); !apperr.Is(err, apperr.Application) {
		t.Fatalf("expected application error, got %v", err)
	}
}

func TestMetrics(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		io.WriteString(w, `{
			"label": "Squamous_Cell_Carcinoma",
			"confidence": 0.8731,
			"accuracy": 87.31,
			"roc_auc": 1.0,
			"features": {"mean_intensity": 112.4, "brightness": 110.2},
			"tumor_segmentation": {"detected": true, "segmented_area": 5120.5, "mask_resolution": "512x512"}
		}`)
	})
	m, err := c.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics() failed: %v", err)
	}
	if m.Label != "Squamous_Cell_Carcinoma" || m.Accuracy != 87.31 || m.ROCAUC != 1.0 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.Features["brightness"] != 110.2 {
		t.Fatalf("features = %v", m.Features)
	}
	if m.TumorSegmentation == nil || !m.TumorSegmentation.Detected || m.TumorSegmentation.MaskResolution != "512x512" {
		t.Fatalf("segmentation = %+v", m.TumorSegmentation)
	}
}

func TestMetricsErrorField(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No uploaded image found."})
	})
	_, err := c.Metrics(context.Background())
	if !apperr.Is(err, apperr.Application) || apperr.MessageOf(err) != "No uploaded image found." {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMetricsNoLabel(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"accuracy": 90})
	})
	_, err := c.Metrics(context.Background())
	if !errors.Is(err, ErrNoLabel) {
		t.Fatalf("expected ErrNoLabel, got %v", err)
	}
}

func TestMetricsContextCancelled(t *testing.T) {
	block := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Metrics(ctx); !apperr.Is(err, apperr.Transport) {
		t.Fatalf("expected transport error on cancelled context, got %v", err)
	}
}
