// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package relyingparty implements an in-memory relying-party backend
// speaking the same four-endpoint ceremony contract the passkey client
// consumes. It exists for local development and end-to-end testing; state
// lives only for the lifetime of the process.
package relyingparty

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-passkey/pkg/logging"
)

// Config configures the demo relying party.
type Config struct {
	// RPID is the relying party identifier, e.g. "localhost".
	RPID string

	// RPName is the human-readable relying party name.
	RPName string

	// Origins lists the origins clients may present.
	Origins []string

	// APIKey is the tenant key every request must carry. Empty disables
	// the check.
	APIKey string

	// TokenSecret signs verification tokens. Generated when empty.
	TokenSecret []byte

	// TokenTTL bounds verification token validity.
	TokenTTL time.Duration

	// SessionTTL bounds how long a begun ceremony may stay open.
	SessionTTL time.Duration
}

// SetDefaults fills unset fields with development defaults.
func (c *Config) SetDefaults() {
	if c.RPID == "" {
		c.RPID = "localhost"
	}
	if c.RPName == "" {
		c.RPName = "go-passkey demo"
	}
	if len(c.Origins) == 0 {
		c.Origins = []string{"https://" + c.RPID}
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = time.Hour
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 5 * time.Minute
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if len(c.Origins) == 0 {
		return fmt.Errorf("at least one origin is required")
	}
	return nil
}

// session is one open ceremony, keyed by an opaque session ID.
type session struct {
	data    *webauthn.SessionData
	userID  string
	expires time.Time
}

// Server is the demo relying-party backend.
type Server struct {
	config *Config
	wa     *webauthn.WebAuthn
	log    *logging.Logger
	secret []byte

	mu       sync.Mutex
	users    map[string]*account
	sessions map[string]*session
}

// New creates a relying-party server.
func New(cfg *Config, log *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logging.DefaultLogger()
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPName,
		RPOrigins:     cfg.Origins,
	})
	if err != nil {
		return nil, fmt.Errorf("create webauthn instance: %w", err)
	}

	secret := cfg.TokenSecret
	if len(secret) == 0 {
		secret, err = randomSecret()
		if err != nil {
			return nil, err
		}
	}

	return &Server{
		config:   cfg,
		wa:       wa,
		log:      log,
		secret:   secret,
		users:    make(map[string]*account),
		sessions: make(map[string]*session),
	}, nil
}

// Handler returns the HTTP handler serving the ceremony endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register/begin", s.requireTenant(s.handleRegisterBegin))
	mux.HandleFunc("/register/complete", s.requireTenant(s.handleRegisterComplete))
	mux.HandleFunc("/signin/begin", s.requireTenant(s.handleSigninBegin))
	mux.HandleFunc("/signin/complete", s.requireTenant(s.handleSigninComplete))
	return mux
}

// requireTenant rejects requests without the tenant API key.
func (s *Server) requireTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "only POST is supported")
			return
		}
		if s.config.APIKey != "" && r.Header.Get("ApiKey") != s.config.APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
			return
		}
		next(w, r)
	}
}

// saveSession stores ceremony state under a fresh opaque ID.
func (s *Server) saveSession(data *webauthn.SessionData, userID string) (string, error) {
	id, err := randomID()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneSessionsLocked()
	s.sessions[id] = &session{
		data:    data,
		userID:  userID,
		expires: time.Now().Add(s.config.SessionTTL),
	}
	return id, nil
}

// takeSession consumes ceremony state. Sessions are single-use.
func (s *Server) takeSession(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	delete(s.sessions, id)
	if time.Now().After(sess.expires) {
		return nil, false
	}
	return sess, true
}

func (s *Server) pruneSessionsLocked() {
	now := time.Now()
	for id, sess := range s.sessions {
		if now.After(sess.expires) {
			delete(s.sessions, id)
		}
	}
}

// upsertUser resolves the account a registration token names, creating it
// on first enrollment. Demo tokens have the form "id", "id:name", or
// "id:name:displayName".
func (s *Server) upsertUser(token string) (*account, error) {
	parts := strings.SplitN(token, ":", 3)
	id := parts[0]
	if id == "" {
		return nil, fmt.Errorf("empty registration token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[id]; ok {
		return user, nil
	}

	user := &account{id: id, name: id, displayName: id}
	if len(parts) > 1 && parts[1] != "" {
		user.name = parts[1]
		user.displayName = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		user.displayName = parts[2]
	}
	s.users[id] = user
	return user, nil
}

// findUser resolves an account by ID or alias (account name).
func (s *Server) findUser(userID, alias string) (*account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != "" {
		user, ok := s.users[userID]
		return user, ok
	}
	for _, user := range s.users {
		if user.name == alias {
			return user, true
		}
	}
	return nil, false
}

// findUserByHandle resolves an account by its raw WebAuthn user handle.
func (s *Server) findUserByHandle(handle []byte) (*account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if string(user.WebAuthnID()) == string(handle) {
			return user, true
		}
	}
	return nil, false
}
