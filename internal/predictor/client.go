// Package predictor is the typed HTTP client for the remote prediction service.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"ensemblelung/internal/apperr"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// ErrNoLabel is the cause when a response lacks the label that marks success.
var ErrNoLabel = errors.New("response has no label")

// ErrNoUser is the cause of a successful login response that carries no user record.
var ErrNoUser = errors.New("response has no user record")

// Client talks to /login, /predict, /analyze and /metrics on one base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client whose every call is bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

// NewWithHTTPClient returns a client using hc for transport.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// BaseURL returns the service root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Login exchanges credentials for the service's user record.
// Empty credentials fail with a validation error before any request is made.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	const op = "login"
	if username == "" || password == "" {
		return LoginResult{}, apperr.New(apperr.Validation, op, "username and password are required")
	}
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.Validation, op, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/login", bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.Transport, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp loginResponse
	if _, err := c.do(op, req, &resp); err != nil {
		return LoginResult{}, err
	}
	if resp.Success == nil {
		return LoginResult{}, apperr.New(apperr.Application, op, "response has no success flag")
	}
	if !*resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "invalid credentials"
		}
		return LoginResult{}, apperr.New(apperr.Application, op, msg)
	}
	if len(resp.User) == 0 || bytes.Equal(resp.User, []byte("null")) {
		return LoginResult{}, apperr.Wrap(apperr.Transport, op, ErrNoUser)
	}
	return LoginResult{User: resp.User}, nil
}

// Upload is one image file to classify.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Predict submits the image as multipart field "file".
// A response is successful only when it carries a non-empty label; the
// returned prediction has placeholders filled in for absent fields.
func (c *Client) Predict(ctx context.Context, up Upload) (Prediction, error) {
	const op = "predict"
	if up.Body == nil || up.Filename == "" {
		return Prediction{}, apperr.New(apperr.Validation, op, "no file selected")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(up.Filename)))
	ct := up.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return Prediction{}, apperr.Wrap(apperr.Validation, op, err)
	}
	if _, err := io.Copy(part, up.Body); err != nil {
		return Prediction{}, apperr.Wrap(apperr.Validation, op, fmt.Errorf("read upload: %w", err))
	}
	if err := mw.Close(); err != nil {
		return Prediction{}, apperr.Wrap(apperr.Validation, op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/predict", &buf)
	if err != nil {
		return Prediction{}, apperr.Wrap(apperr.Transport, op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp predictResponse
	status, err := c.do(op, req, &resp)
	if err != nil {
		return Prediction{}, err
	}
	if resp.Label != "" && status < 300 {
		return resp.Prediction.WithDefaults(), nil
	}
	// The server's own error text is shown in preference to the bare status code.
	if resp.Error != "" {
		return Prediction{}, apperr.New(apperr.Application, op, resp.Error)
	}
	if status >= 300 {
		return Prediction{}, apperr.Wrap(apperr.Transport, op, fmt.Errorf("request failed with status code %d", status))
	}
	return Prediction{}, apperr.Wrap(apperr.Application, op, ErrNoLabel)
}

// Analyze asks the explanation service to describe a prediction in plain language.
// The service's message is returned whenever one is present, whatever the status code.
func (c *Client) Analyze(ctx context.Context, label string, confidence Confidence) (string, error) {
	const op = "analyze"
	if label == "" {
		return "", apperr.New(apperr.Validation, op, "label is required")
	}
	body, err := json.Marshal(analyzeRequest{Label: label, Confidence: confidence})
	if err != nil {
		return "", apperr.Wrap(apperr.Validation, op, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/analyze", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Wrap(apperr.Transport, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp analyzeResponse
	if _, err := c.do(op, req, &resp); err != nil {
		return "", err
	}
	if resp.Message == "" {
		return "", apperr.New(apperr.Application, op, "response has no message")
	}
	return resp.Message, nil
}

// Metrics fetches the latest diagnostic metrics.
func (c *Client) Metrics(ctx context.Context) (Metrics, error) {
	const op = "metrics"
	req, err := c.newRequest(ctx, http.MethodGet, "/metrics", nil)
	if err != nil {
		return Metrics{}, apperr.Wrap(apperr.Transport, op, err)
	}

	var resp metricsResponse
	status, err := c.do(op, req, &resp)
	if err != nil {
		return Metrics{}, err
	}
	if resp.Error != "" {
		return Metrics{}, apperr.New(apperr.Application, op, resp.Error)
	}
	if status >= 300 {
		return Metrics{}, apperr.Wrap(apperr.Transport, op, fmt.Errorf("request failed with status code %d", status))
	}
	if resp.Label == "" {
		return Metrics{}, apperr.Wrap(apperr.Application, op, ErrNoLabel)
	}
	m := resp.Metrics
	if m.Features == nil {
		m.Features = map[string]float64{}
	}
	return m, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes the JSON body into out. Reachability, read and
// decode failures are transport errors; the status code is left to the caller.
func (c *Client) do(op string, req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, apperr.Wrap(apperr.Transport, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, apperr.Wrap(apperr.Transport, op, fmt.Errorf("read response: %w", err))
	}
	if err := json.Unmarshal(data, out); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) && resp.StatusCode >= 300 {
			err = fmt.Errorf("request failed with status code %d", resp.StatusCode)
		}
		return resp.StatusCode, apperr.Wrap(apperr.Transport, op, fmt.Errorf("decode response: %w", err))
	}
	return resp.StatusCode, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
