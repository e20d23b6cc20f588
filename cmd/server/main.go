package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ensemblelung/internal/certs"
	"ensemblelung/internal/config"
	"ensemblelung/internal/crypto"
	"ensemblelung/internal/handoff"
	"ensemblelung/internal/logging"
	"ensemblelung/internal/predictor"
	"ensemblelung/internal/session"
	"ensemblelung/internal/web"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config (default: ensemblelung.yaml at the project root)")
	serverFlag := flag.String("server", "", "Override the prediction service base URL")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if err := run(*configPath, *serverFlag, *debug); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath, serverURL string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.PredictorURL = serverURL
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Logger

	secret, err := cfg.ResolveSecret()
	if errors.Is(err, config.ErrNoSecret) {
		log.Warn("no session secret configured, using an ephemeral one; sessions end on restart",
			"hint", "run genkey to create "+cfg.Session.SecretFile)
		secret = crypto.MustRandom(crypto.MinSecretLength)
	} else if err != nil {
		return err
	}
	keys, err := crypto.DeriveCookieKeys(secret)
	if err != nil {
		return err
	}

	states, err := handoff.Open(cfg.Handoff.DBPath, cfg.Handoff.TTL)
	if err != nil {
		return err
	}
	defer states.Close()

	srv, err := web.NewServer(web.Options{
		Sessions:       session.NewCookieStore(cfg.Session, keys),
		States:         states,
		Predictor:      predictor.New(cfg.PredictorURL, cfg.RequestTimeout),
		Logger:         log,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go states.RunPruner(ctx, cfg.Handoff.PruneInterval, log)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           web.NewRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if cfg.TLS.Enabled() {
		pair, err := certs.Load(cfg.TLS.CertFile, cfg.TLS.KeyFile, time.Now())
		if err != nil {
			return err
		}
		if pair.NeedsRenewal(time.Now()) {
			log.Warn("TLS certificate expires soon", "file", cfg.TLS.CertFile, "not_after", pair.Leaf.NotAfter)
		}
		httpServer.TLSConfig = pair.Config()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.ListenAddr, "tls", cfg.TLS.Enabled(), "predictor", cfg.PredictorURL)
		serve := httpServer.ListenAndServe
		if cfg.TLS.Enabled() {
			serve = func() error { return httpServer.ListenAndServeTLS("", "") }
		}
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "signal", sig.String())
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	cancel()
	log.Info("server stopped")
	return nil
}
