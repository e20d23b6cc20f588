// Package certs checks the TLS key pair the server is configured with.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// ErrExpired is returned for a certificate whose NotAfter has passed.
var ErrExpired = errors.New("certificate expired")

// RenewWithin is how close to expiry a certificate must be before NeedsRenewal reports it.
const RenewWithin = 30 * 24 * time.Hour

// Pair is a loaded certificate and key.
type Pair struct {
	TLS  tls.Certificate
	Leaf *x509.Certificate
}

// Load reads the PEM certificate and key and rejects an expired leaf.
func Load(certFile, keyFile string, now time.Time) (Pair, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return Pair{}, fmt.Errorf("load key pair: %w", err)
	}
	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return Pair{}, fmt.Errorf("parse certificate: %w", err)
		}
	}
	p := Pair{TLS: cert, Leaf: leaf}
	if p.IsExpired(now) {
		return Pair{}, fmt.Errorf("%s: %w on %s", certFile, ErrExpired, leaf.NotAfter.Format(time.DateOnly))
	}
	return p, nil
}

// IsExpired reports whether the leaf is past its NotAfter at now.
func (p Pair) IsExpired(now time.Time) bool {
	return p.Leaf.NotAfter.Before(now)
}

// NeedsRenewal reports whether the leaf expires within RenewWithin of now.
func (p Pair) NeedsRenewal(now time.Time) bool {
	return p.Leaf.NotAfter.Before(now.Add(RenewWithin))
}

// Config returns a server TLS config serving this pair.
func (p Pair) Config() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{p.TLS},
	}
}
