package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"ensemblelung/internal/apperr"
	"ensemblelung/internal/config"
	"ensemblelung/internal/logging"
	"ensemblelung/internal/predictor"
	"ensemblelung/internal/session"
)

// cli bundles what every subcommand needs.
type cli struct {
	client *predictor.Client
	store  *session.FileStore
	log    *logging.Logger
}

func main() {
	cmd := flag.String("cmd", "metrics", "Command: login|logout|whoami|predict|analyze|metrics")
	serverFlag := flag.String("server", "", "Override the prediction service base URL (e.g. http://localhost:5000)")
	user := flag.String("user", "", "Username (login)")
	pass := flag.String("pass", "", "Password (login)")
	file := flag.String("file", "", "Chest X-ray image (predict)")
	label := flag.String("label", "", "Predicted class (analyze)")
	confidence := flag.String("confidence", "", "Prediction confidence, number or text (analyze)")
	sessionPath := flag.String("session", "", "Session file (default ~/.ensemblelung/session.json)")
	verbose := flag.Bool("v", false, "Log requests to stderr")
	flag.Parse()

	c, err := setup(*serverFlag, *sessionPath, *verbose)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch *cmd {
	case "login":
		err = c.login(ctx, *user, *pass)
	case "logout":
		err = c.logout()
	case "whoami":
		err = c.whoami()
	case "predict":
		err = c.predict(ctx, *file)
	case "analyze":
		err = c.analyze(ctx, *label, parseConfidence(*confidence))
	case "metrics":
		err = c.metrics(ctx)
	default:
		err = fmt.Errorf("unknown command %q", *cmd)
	}
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func setup(serverURL, sessionPath string, verbose bool) (*cli, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	if serverURL != "" {
		cfg.PredictorURL = strings.TrimRight(serverURL, "/")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sessionPath == "" {
		if sessionPath, err = session.DefaultFilePath(); err != nil {
			return nil, err
		}
	}
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return &cli{
		client: predictor.New(cfg.PredictorURL, cfg.RequestTimeout),
		store:  session.NewFileStore(sessionPath),
		log:    logging.NewWriter(os.Stderr, "text", level),
	}, nil
}

func (c *cli) login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("please fill both fields (-user and -pass)")
	}
	c.log.Debug("logging in", "server", c.client.BaseURL(), "user", username)
	res, err := c.client.Login(ctx, username, password)
	if err != nil {
		if apperr.Is(err, apperr.Application) {
			return errors.New("invalid credentials")
		}
		c.log.Warn("login failed", "error", err)
		return errors.New("server error, please try again")
	}
	user := session.User(res.User)
	if err := c.store.Set(user); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Println("Login successful!", user.DisplayName())
	return nil
}

func (c *cli) logout() error {
	if err := c.store.Clear(); err != nil {
		return err
	}
	fmt.Println("You have been logged out.")
	return nil
}

func (c *cli) whoami() error {
	user, err := c.store.Get()
	if errors.Is(err, session.ErrNoSession) {
		fmt.Println("Not logged in.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(user.DisplayName())
	return nil
}

func (c *cli) predict(ctx context.Context, path string) error {
	if _, err := c.store.Get(); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return errors.New("please log in first to use the prediction feature")
		}
		return err
	}
	if path == "" {
		return errors.New("please upload an X-ray image first (-file)")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	contentType, err := sniff(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	c.log.Debug("submitting image", "server", c.client.BaseURL(), "file", path)
	pred, err := c.client.Predict(ctx, predictor.Upload{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Body:        f,
	})
	if err != nil {
		if apperr.Is(err, apperr.Transport) {
			return fmt.Errorf("server error: %s", apperr.Detail(err))
		}
		if msg := apperr.MessageOf(err); msg != "" {
			return errors.New(msg)
		}
		return errors.New("unexpected server response, please try again")
	}

	fmt.Printf("Predicted Class: %s\n", pred.Label)
	fmt.Printf("Confidence:      %s\n", pred.Confidence)
	if pred.Details != "" {
		fmt.Println(pred.Details)
	}
	printValues("Scores", pred.Scores)
	return nil
}

func (c *cli) analyze(ctx context.Context, label string, confidence predictor.Confidence) error {
	if label == "" || label == predictor.Placeholder {
		fmt.Println("No valid prediction available to analyze.")
		return nil
	}
	msg, err := c.client.Analyze(ctx, label, confidence)
	if err != nil {
		if apperr.Is(err, apperr.Transport) {
			c.log.Warn("analyze failed", "error", err)
			return errors.New("unable to connect to AI service")
		}
		return errors.New("unable to generate AI explanation")
	}
	fmt.Println(msg)
	return nil
}

func (c *cli) metrics(ctx context.Context) error {
	m, err := c.client.Metrics(ctx)
	if err != nil {
		c.log.Warn("metrics failed", "error", err)
		return errors.New("metrics unavailable")
	}
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(m)
}

// sniff detects the content type from the first 512 bytes and rewinds r.
func sniff(r io.ReadSeeker) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}

func parseConfidence(s string) predictor.Confidence {
	if s == "" {
		return predictor.Confidence{}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return predictor.Number(f)
	}
	return predictor.Text(s)
}

func printValues(title string, m map[string]float64) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println(title + ":")
	for _, k := range keys {
		fmt.Printf("  %-16s %s\n", k, strconv.FormatFloat(m[k], 'f', -1, 64))
	}
}
