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

// Package passkey implements the client side of passwordless registration
// and sign-in ceremonies. A Client drives the two-phase flows against a
// relying-party backend (begin, local authenticator call, complete),
// transcoding between the backend's base64url wire form and the
// authenticator's binary credential API.
//
// Ceremony failures are reported as *Problem values: client failures carry
// a machine-readable error code, backend failures pass the response body
// through verbatim tagged with origin "server". Only the upfront
// environment-support assertions (ErrBrowserUnsupported,
// ErrAutofillUnsupported) are returned as plain sentinels, so callers can
// gate UI before starting any flow.
package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-passkey/pkg/authenticator"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
)

// ClientVersion is sent as the Client-Version request header.
const ClientVersion = "go-passkey-1.0.0"

// Client orchestrates registration and sign-in ceremonies. One Client
// holds one immutable configuration and at most one in-flight sign-in
// retrieval; starting a new sign-in supersedes a pending one.
type Client struct {
	config     *Config
	httpClient *http.Client
	auth       authenticator.Authenticator
	caps       authenticator.Capabilities
	log        *logging.Logger

	// mu guards the cancellation controller for the current sign-in.
	mu      sync.Mutex
	current *controller
}

// controller is the cancellation handle for one pending sign-in
// retrieval.
type controller struct {
	cancel context.CancelFunc
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAuthenticator binds the local authenticator capability. When the
// authenticator also implements Capabilities it is used for the probe
// operations unless WithCapabilities overrides it.
func WithAuthenticator(a authenticator.Authenticator) Option {
	return func(c *Client) {
		c.auth = a
		if caps, ok := a.(authenticator.Capabilities); ok && c.caps == nil {
			c.caps = caps
		}
	}
}

// WithCapabilities binds the environment capability probes.
func WithCapabilities(caps authenticator.Capabilities) Option {
	return func(c *Client) {
		c.caps = caps
	}
}

// WithLogger replaces the default logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New creates a passkey client. The configuration is defaulted from the
// process environment and validated; at minimum a tenant API key, backend
// base URL, and origin must resolve. When no authenticator is supplied, an
// in-process software token bound to the configured origin is used.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		config:     cfg,
		httpClient: http.DefaultClient,
		log:        logging.NewLogger(cfg.Debug),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.auth == nil {
		token, err := authenticator.NewSoftToken(cfg.Origin)
		if err != nil {
			return nil, fmt.Errorf("create software authenticator: %w", err)
		}
		c.auth = token
		if c.caps == nil {
			c.caps = token
		}
	}
	if c.caps == nil {
		return nil, fmt.Errorf("authenticator does not report capabilities; use WithCapabilities")
	}

	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() *Config {
	return c.config
}

// IsBrowserSupported reports whether the environment supports public-key
// credentials at all.
func (c *Client) IsBrowserSupported() bool {
	return c.caps.Supported()
}

// IsPlatformSupported reports whether a built-in user-verifying
// authenticator is available. Always false when the environment is
// unsupported.
func (c *Client) IsPlatformSupported(ctx context.Context) (bool, error) {
	if !c.caps.Supported() {
		return false, nil
	}
	return c.caps.PlatformAuthenticatorAvailable(ctx)
}

// IsAutofillSupported reports whether autofill-mediated sign-in is
// available.
func (c *Client) IsAutofillSupported(ctx context.Context) (bool, error) {
	if !c.caps.Supported() {
		return false, nil
	}
	return c.caps.ConditionalMediationAvailable(ctx)
}

// Abort signals the current sign-in retrieval, if any, without replacing
// the controller. A pending authenticator prompt observes the
// cancellation and the ceremony resolves to an aborted Problem.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.cancel()
	}
}

// Register runs the registration ceremony: fetch options with the
// one-time registration token, create a credential locally, and submit it
// with the caller-supplied nickname. On success the backend's verification
// token payload is returned.
//
// ErrBrowserUnsupported is returned synchronously before any network I/O
// when the environment lacks public-key support. All other failures are
// *Problem values.
func (c *Client) Register(ctx context.Context, token, nickname string) (result *VerifiedToken, err error) {
	if !c.caps.Supported() {
		return nil, ErrBrowserUnsupported
	}

	ceremonyID := uuid.NewString()
	c.log.Debug("registration ceremony started", "ceremony", ceremonyID)

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, Normalize(r)
		}
	}()

	var begin registerBeginResponse
	if err := c.post(ctx, "/register/begin", &registerBeginRequest{
		Token:  token,
		RPID:   c.config.RPID,
		Origin: c.config.Origin,
	}, &begin); err != nil {
		return nil, asProblem(err)
	}
	c.log.Debug("registration options fetched", "ceremony", ceremonyID)

	opts, err := decodeRegistrationOptions(&begin.Data)
	if err != nil {
		return nil, Normalize(err)
	}

	cred, err := c.auth.CreateCredential(ctx, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, clientProblem(CodeAborted, "the registration ceremony was aborted")
		}
		return nil, Normalize(err)
	}
	if cred == nil || cred.Attestation == nil {
		return nil, clientProblem(CodeFailedCreateCredential, "failed to create credential")
	}
	c.log.Debug("credential created", "ceremony", ceremonyID, "credential", cred.ID)

	var verified VerifiedToken
	if err := c.post(ctx, "/register/complete", &registerCompleteRequest{
		Session:  begin.Session,
		Response: encodeAttestationCredential(cred),
		Nickname: nickname,
		RPID:     c.config.RPID,
		Origin:   c.config.Origin,
	}, &verified); err != nil {
		return nil, asProblem(err)
	}

	c.log.Debug("registration ceremony completed", "ceremony", ceremonyID)
	return &verified, nil
}

// SigninWithID runs a sign-in ceremony scoped to the given user ID.
func (c *Client) SigninWithID(ctx context.Context, userID string) (*VerifiedToken, error) {
	return c.signin(ctx, SelectorForID(userID))
}

// SigninWithAlias runs a sign-in ceremony scoped to the given alias.
func (c *Client) SigninWithAlias(ctx context.Context, alias string) (*VerifiedToken, error) {
	return c.signin(ctx, SelectorForAlias(alias))
}

// SigninWithDiscoverable runs a sign-in ceremony with no candidate list;
// the authenticator offers any stored credential for the relying party.
func (c *Client) SigninWithDiscoverable(ctx context.Context) (*VerifiedToken, error) {
	return c.signin(ctx, SelectorDiscoverable())
}

// SigninWithAutofill runs a discoverable sign-in ceremony with
// autofill-style non-blocking mediation. ErrAutofillUnsupported is
// returned up front when conditional mediation is unavailable.
func (c *Client) SigninWithAutofill(ctx context.Context) (*VerifiedToken, error) {
	if !c.caps.Supported() {
		return nil, ErrBrowserUnsupported
	}
	ok, err := c.caps.ConditionalMediationAvailable(ctx)
	if err != nil {
		return nil, Normalize(err)
	}
	if !ok {
		return nil, ErrAutofillUnsupported
	}
	return c.signin(ctx, SelectorAutofill())
}

// Signin runs a sign-in ceremony with an explicit selector. The zero
// selector is discoverable sign-in.
func (c *Client) Signin(ctx context.Context, selector Selector) (*VerifiedToken, error) {
	return c.signin(ctx, selector)
}

// signin is the single sign-in state machine behind every entry point.
func (c *Client) signin(ctx context.Context, selector Selector) (result *VerifiedToken, err error) {
	if !c.caps.Supported() {
		return nil, ErrBrowserUnsupported
	}

	ceremonyID := uuid.NewString()
	c.log.Debug("sign-in ceremony started", "ceremony", ceremonyID)

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, Normalize(r)
		}
	}()

	// Supersede any pending retrieval before arming a fresh controller.
	// At most one sign-in per client is ever waiting on a prompt.
	retrievalCtx, ctrl := c.armController(ctx)
	defer c.releaseController(ctrl)

	userID, alias := selector.beginFields()
	var begin signinBeginResponse
	if err := c.post(ctx, "/signin/begin", &signinBeginRequest{
		UserID: userID,
		Alias:  alias,
		RPID:   c.config.RPID,
		Origin: c.config.Origin,
	}, &begin); err != nil {
		return nil, asProblem(err)
	}
	c.log.Debug("sign-in options fetched", "ceremony", ceremonyID)

	opts, err := decodeAssertionOptions(&begin.Data)
	if err != nil {
		return nil, Normalize(err)
	}

	mediation := authenticator.MediationDefault
	if selector.conditional() {
		mediation = authenticator.MediationConditional
	}

	cred, err := c.auth.GetCredential(retrievalCtx, opts, mediation)
	if err != nil {
		if errors.Is(err, context.Canceled) || retrievalCtx.Err() != nil {
			return nil, clientProblem(CodeAborted, "the sign-in ceremony was aborted")
		}
		return nil, Normalize(err)
	}
	if cred == nil || cred.Assertion == nil {
		return nil, clientProblem(CodeFailedGetCredential, "failed to retrieve credential")
	}
	c.log.Debug("credential retrieved", "ceremony", ceremonyID, "credential", cred.ID)

	var verified VerifiedToken
	if err := c.post(ctx, "/signin/complete", &signinCompleteRequest{
		Session:  begin.Session,
		Response: encodeAssertionCredential(cred),
		RPID:     c.config.RPID,
		Origin:   c.config.Origin,
	}, &verified); err != nil {
		return nil, asProblem(err)
	}

	c.log.Debug("sign-in ceremony completed", "ceremony", ceremonyID)
	return &verified, nil
}

// armController aborts any previous sign-in retrieval and installs a
// fresh cancellation controller derived from the caller's context.
func (c *Client) armController(ctx context.Context) (context.Context, *controller) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.cancel()
	}

	retrievalCtx, cancel := context.WithCancel(ctx)
	c.current = &controller{cancel: cancel}
	return retrievalCtx, c.current
}

// releaseController clears the controller if this ceremony still owns it;
// a superseding sign-in may already have replaced it.
func (c *Client) releaseController(ctrl *controller) {
	c.mu.Lock()
	if c.current == ctrl {
		c.current = nil
	}
	c.mu.Unlock()
	ctrl.cancel()
}

// post sends a JSON request to the backend and decodes a success response
// into out. Non-2xx responses are returned as *Problem with the body
// preserved and tagged "server"; transport and decode failures are plain
// errors the ceremony normalizes.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ApiKey", c.config.APIKey)
	req.Header.Set("Client-Version", ClientVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return serverProblem(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response from %s: %w", path, err)
		}
	}
	return nil
}

// serverProblem parses a non-success response body into a Problem,
// preserving the body's fields verbatim.
func serverProblem(status int, body []byte) *Problem {
	p := &Problem{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, p); err != nil {
			p = &Problem{Title: string(body)}
		}
	}
	p.From = FromServer
	if p.Status == 0 {
		p.Status = status
	}
	return p
}

// asProblem passes Problems through untouched and normalizes anything
// else.
func asProblem(err error) error {
	var p *Problem
	if errors.As(err, &p) {
		return p
	}
	if errors.Is(err, context.Canceled) {
		return clientProblem(CodeAborted, "the ceremony was aborted")
	}
	return Normalize(err)
}
