// Package session holds the authenticated-user record and one-shot notices
// for a browser, in a signed and encrypted cookie.
package session

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"ensemblelung/internal/config"
	"ensemblelung/internal/crypto"
)

const (
	userKey      = "user"
	lastStateKey = "last_state"
	noticeKey    = "_notice"
)

// ErrNoSession is returned by FileStore.Get when nothing is stored.
var ErrNoSession = errors.New("session not found")

// User is the opaque user record returned by the login service, kept as serialized JSON text.
type User string

// DisplayName extracts something human readable from the record: the record
// itself when it is a JSON string, else its "username" or "name" field.
func (u User) DisplayName() string {
	var s string
	if err := json.Unmarshal([]byte(u), &s); err == nil {
		return s
	}
	var obj struct {
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if err := json.Unmarshal([]byte(u), &obj); err == nil {
		if obj.Username != "" {
			return obj.Username
		}
		if obj.Name != "" {
			return obj.Name
		}
	}
	return string(u)
}

// Level is the severity of a Notice.
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Failure Level = "error"
)

// Notice is a notification shown once on the next rendered page.
type Notice struct {
	Level Level
	Text  string
}

func init() {
	gob.Register(Notice{})
}

// Store is the single read/write/clear API over the session cookie.
type Store struct {
	cookies sessions.Store
	name    string
}

// New wraps any gorilla sessions store.
func New(store sessions.Store, name string) *Store {
	return &Store{cookies: store, name: name}
}

// NewCookieStore builds a Store on a cookie store keyed by keys.
func NewCookieStore(cfg config.SessionConfig, keys crypto.CookieKeys) *Store {
	cs := sessions.NewCookieStore(keys.HashKey, keys.BlockKey)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	cs.MaxAge(cs.Options.MaxAge)
	return New(cs, cfg.Name)
}

// session returns the request's session. A tampered or stale cookie yields
// the same empty session for the rest of the request.
func (s *Store) session(r *http.Request) *sessions.Session {
	sess, _ := s.cookies.Get(r, s.name)
	if sess == nil {
		sess = sessions.NewSession(s.cookies, s.name)
	}
	return sess
}

// Get returns the stored user record, if any.
func (s *Store) Get(r *http.Request) (User, bool) {
	v, ok := s.session(r).Values[userKey].(string)
	if !ok || v == "" {
		return "", false
	}
	return User(v), true
}

// Authenticated reports whether a user record is stored.
func (s *Store) Authenticated(r *http.Request) bool {
	_, ok := s.Get(r)
	return ok
}

// Set stores the user record.
func (s *Store) Set(w http.ResponseWriter, r *http.Request, user User) error {
	sess := s.session(r)
	sess.Values[userKey] = string(user)
	return sess.Save(r, w)
}

// Clear removes the user record and anything tied to it. Pending notices survive.
func (s *Store) Clear(w http.ResponseWriter, r *http.Request) error {
	sess := s.session(r)
	delete(sess.Values, userKey)
	delete(sess.Values, lastStateKey)
	return sess.Save(r, w)
}

// SetLastState remembers the navigation-state id of the latest prediction.
func (s *Store) SetLastState(w http.ResponseWriter, r *http.Request, id string) error {
	sess := s.session(r)
	sess.Values[lastStateKey] = id
	return sess.Save(r, w)
}

// LastState returns the id stored by SetLastState.
func (s *Store) LastState(r *http.Request) string {
	id, _ := s.session(r).Values[lastStateKey].(string)
	return id
}

// AddNotice queues a notice for the next rendered page.
func (s *Store) AddNotice(w http.ResponseWriter, r *http.Request, n Notice) error {
	sess := s.session(r)
	sess.AddFlash(n, noticeKey)
	return sess.Save(r, w)
}

// Notices drains the queued notices.
func (s *Store) Notices(w http.ResponseWriter, r *http.Request) ([]Notice, error) {
	sess := s.session(r)
	flashes := sess.Flashes(noticeKey)
	if len(flashes) == 0 {
		return nil, nil
	}
	out := make([]Notice, 0, len(flashes))
	for _, f := range flashes {
		if n, ok := f.(Notice); ok {
			out = append(out, n)
		}
	}
	return out, sess.Save(r, w)
}
