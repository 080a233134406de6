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

package passkey

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/authenticator"
	"github.com/jeremyhahn/go-passkey/pkg/codec"
)

const (
	testOrigin = "https://app.example.com"
	testRPID   = "app.example.com"
	testAPIKey = "pk_test_tenant"
)

// fakeBackend is an in-process relying-party backend serving the four
// ceremony endpoints. It records every request for assertions and lets
// tests force error responses.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu               sync.Mutex
	requests         int
	headers          []http.Header
	registerBegins   []registerBeginRequest
	registerFinishes []registerCompleteRequest
	signinBegins     []signinBeginRequest
	signinFinishes   []signinCompleteRequest

	// allow populates allowCredentials on sign-in options.
	allow []wireDescriptor

	// beginStatus/beginBody, when set, override every begin response.
	beginStatus int
	beginBody   string

	regChallenge  []byte
	signChallenge []byte
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{
		t:             t,
		regChallenge:  []byte("registration-challenge-0123456789"),
		signChallenge: []byte("assertion-challenge-9876543210"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/register/begin", b.handleRegisterBegin)
	mux.HandleFunc("/register/complete", b.handleRegisterComplete)
	mux.HandleFunc("/signin/begin", b.handleSigninBegin)
	mux.HandleFunc("/signin/complete", b.handleSigninComplete)

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) record(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests++
	b.headers = append(b.headers, r.Header.Clone())
}

func (b *fakeBackend) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests
}

func (b *fakeBackend) failBegin(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.beginStatus = status
	b.beginBody = body
}

func (b *fakeBackend) beginOverride(w http.ResponseWriter) bool {
	b.mu.Lock()
	status, body := b.beginStatus, b.beginBody
	b.mu.Unlock()
	if status == 0 {
		return false
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
	return true
}

func (b *fakeBackend) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	if b.beginOverride(w) {
		return
	}

	var req registerBeginRequest
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))
	b.mu.Lock()
	b.registerBegins = append(b.registerBegins, req)
	b.mu.Unlock()

	writeJSON(b.t, w, registerBeginResponse{
		Session: "reg-session-1",
		Data: registrationOptions{
			RP:        wireRelyingParty{ID: testRPID, Name: "Example"},
			User:      wireUser{ID: codec.Encode([]byte("user-1")), Name: "jdoe", DisplayName: "J. Doe"},
			Challenge: codec.Encode(b.regChallenge),
			PubKeyCredParams: []wireParameter{
				{Type: "public-key", Alg: -7},
			},
			Timeout:     60000,
			Attestation: "none",
		},
	})
}

func (b *fakeBackend) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	b.record(r)

	var req registerCompleteRequest
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))
	b.mu.Lock()
	b.registerFinishes = append(b.registerFinishes, req)
	b.mu.Unlock()

	writeJSON(b.t, w, VerifiedToken{Token: "verify123"})
}

func (b *fakeBackend) handleSigninBegin(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	if b.beginOverride(w) {
		return
	}

	var req signinBeginRequest
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))
	b.mu.Lock()
	b.signinBegins = append(b.signinBegins, req)
	allow := b.allow
	b.mu.Unlock()

	writeJSON(b.t, w, signinBeginResponse{
		Session: "signin-session-1",
		Data: assertionOptions{
			Challenge:        codec.Encode(b.signChallenge),
			RPID:             testRPID,
			Timeout:          60000,
			AllowCredentials: allow,
		},
	})
}

func (b *fakeBackend) handleSigninComplete(w http.ResponseWriter, r *http.Request) {
	b.record(r)

	var req signinCompleteRequest
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&req))
	b.mu.Lock()
	b.signinFinishes = append(b.signinFinishes, req)
	b.mu.Unlock()

	writeJSON(b.t, w, VerifiedToken{Token: "verify456"})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func testConfig(b *fakeBackend) *Config {
	return &Config{
		BaseURL: b.srv.URL,
		APIKey:  testAPIKey,
		Origin:  testOrigin,
	}
}

func newTestClient(t *testing.T, b *fakeBackend, opts ...Option) (*Client, *authenticator.SoftToken) {
	token, err := authenticator.NewSoftToken(testOrigin)
	require.NoError(t, err)

	client, err := New(testConfig(b), append([]Option{WithAuthenticator(token)}, opts...)...)
	require.NoError(t, err)
	return client, token
}

// stubCaps is a capability probe with fixed answers.
type stubCaps struct {
	supported   bool
	platform    bool
	conditional bool
}

func (s stubCaps) Supported() bool { return s.supported }

func (s stubCaps) PlatformAuthenticatorAvailable(ctx context.Context) (bool, error) {
	return s.platform, nil
}

func (s stubCaps) ConditionalMediationAvailable(ctx context.Context) (bool, error) {
	return s.conditional, nil
}

// stubAuthenticator returns canned results, counts invocations, and
// records the mediation mode of every retrieval.
type stubAuthenticator struct {
	calls      int32
	createCred *authenticator.Credential
	createErr  error
	getCred    *authenticator.Credential
	getErr     error

	mu            sync.Mutex
	gotMediations []authenticator.Mediation
}

func (s *stubAuthenticator) CreateCredential(ctx context.Context, opts *authenticator.CreationOptions) (*authenticator.Credential, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.createCred, s.createErr
}

func (s *stubAuthenticator) GetCredential(ctx context.Context, opts *authenticator.RequestOptions, m authenticator.Mediation) (*authenticator.Credential, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	s.gotMediations = append(s.gotMediations, m)
	s.mu.Unlock()
	return s.getCred, s.getErr
}

func (s *stubAuthenticator) mediations() []authenticator.Mediation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]authenticator.Mediation(nil), s.gotMediations...)
}

func TestRegister(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend)

	verified, err := client.Register(context.Background(), "reg-token-abc", "work laptop")
	require.NoError(t, err)
	assert.Equal(t, "verify123", verified.Token)

	// Begin request carries the registration token and tenant identity.
	require.Len(t, backend.registerBegins, 1)
	begin := backend.registerBegins[0]
	assert.Equal(t, "reg-token-abc", begin.Token)
	assert.Equal(t, testRPID, begin.RPID)
	assert.Equal(t, testOrigin, begin.Origin)

	// Complete request threads the session through and carries the
	// attestation in wire text form.
	require.Len(t, backend.registerFinishes, 1)
	complete := backend.registerFinishes[0]
	assert.Equal(t, "reg-session-1", complete.Session)
	assert.Equal(t, "work laptop", complete.Nickname)
	assert.Equal(t, "public-key", complete.Response.Type)
	assert.Equal(t, complete.Response.ID, complete.Response.RawID)

	clientData, err := codec.Decode(complete.Response.Response.ClientDataJSON)
	require.NoError(t, err)
	var cd struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}
	require.NoError(t, json.Unmarshal(clientData, &cd))
	assert.Equal(t, "webauthn.create", cd.Type)
	assert.Equal(t, codec.Encode(backend.regChallenge), cd.Challenge)
	assert.Equal(t, testOrigin, cd.Origin)

	attObj, err := codec.Decode(complete.Response.Response.AttestationObject)
	require.NoError(t, err)
	assert.NotEmpty(t, attObj)

	// Every request carries the tenant key and client version headers.
	for _, h := range backend.headers {
		assert.Equal(t, testAPIKey, h.Get("ApiKey"))
		assert.Equal(t, ClientVersion, h.Get("Client-Version"))
		assert.Equal(t, "application/json", h.Get("Content-Type"))
	}
}

func TestRegisterServerRejection(t *testing.T) {
	backend := newFakeBackend(t)
	backend.failBegin(http.StatusBadRequest,
		`{"errorCode":"invalid_token","message":"registration token expired"}`)

	auth := &stubAuthenticator{}
	client, err := New(testConfig(backend),
		WithAuthenticator(auth),
		WithCapabilities(stubCaps{supported: true}))
	require.NoError(t, err)

	verified, err := client.Register(context.Background(), "stale-token", "")
	require.Error(t, err)
	assert.Nil(t, verified)

	problem, ok := AsProblem(err)
	require.True(t, ok)
	assert.True(t, problem.IsServer())
	assert.Equal(t, "invalid_token", problem.ErrorCode)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Equal(t, "registration token expired", problem.Extra["message"])

	// A rejected begin never reaches the authenticator.
	assert.Zero(t, atomic.LoadInt32(&auth.calls))
}

func TestRegisterServerPlainTextBody(t *testing.T) {
	backend := newFakeBackend(t)
	backend.failBegin(http.StatusServiceUnavailable, "upstream down")

	client, _ := newTestClient(t, backend)

	_, err := client.Register(context.Background(), "tok", "")
	problem, ok := AsProblem(err)
	require.True(t, ok)
	assert.True(t, problem.IsServer())
	assert.Equal(t, "upstream down", problem.Title)
	assert.Equal(t, http.StatusServiceUnavailable, problem.Status)
}

func TestRegisterUnsupportedEnvironment(t *testing.T) {
	backend := newFakeBackend(t)
	client, err := New(testConfig(backend),
		WithAuthenticator(&stubAuthenticator{}),
		WithCapabilities(stubCaps{supported: false}))
	require.NoError(t, err)

	_, err = client.Register(context.Background(), "tok", "")
	assert.ErrorIs(t, err, ErrBrowserUnsupported)

	// The unsupported assertion fires before any network I/O.
	assert.Zero(t, backend.requestCount())
}

func TestRegisterNilCredential(t *testing.T) {
	backend := newFakeBackend(t)
	client, err := New(testConfig(backend),
		WithAuthenticator(&stubAuthenticator{}),
		WithCapabilities(stubCaps{supported: true}))
	require.NoError(t, err)

	_, err = client.Register(context.Background(), "tok", "")
	problem, ok := AsProblem(err)
	require.True(t, ok)
	assert.True(t, problem.IsClient())
	assert.Equal(t, CodeFailedCreateCredential, problem.ErrorCode)
}

// registerCredential enrolls a credential on the token through the full
// ceremony so sign-in tests start from a realistic state.
func registerCredential(t *testing.T, client *Client, backend *fakeBackend) wireAttestationCredential {
	_, err := client.Register(context.Background(), "reg-token-abc", "primary")
	require.NoError(t, err)
	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.NotEmpty(t, backend.registerFinishes)
	return backend.registerFinishes[len(backend.registerFinishes)-1].Response
}

func TestSigninWithID(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend)

	enrolled := registerCredential(t, client, backend)
	backend.allow = []wireDescriptor{{Type: "public-key", ID: enrolled.RawID}}

	verified, err := client.SigninWithID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "verify456", verified.Token)

	require.Len(t, backend.signinBegins, 1)
	begin := backend.signinBegins[0]
	assert.Equal(t, "user-1", begin.UserID)
	assert.Empty(t, begin.Alias)
	assert.Equal(t, testRPID, begin.RPID)

	require.Len(t, backend.signinFinishes, 1)
	complete := backend.signinFinishes[0]
	assert.Equal(t, "signin-session-1", complete.Session)
	assert.Equal(t, enrolled.RawID, complete.Response.ID)

	clientData, err := codec.Decode(complete.Response.Response.ClientDataJSON)
	require.NoError(t, err)
	var cd struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	require.NoError(t, json.Unmarshal(clientData, &cd))
	assert.Equal(t, "webauthn.get", cd.Type)
	assert.Equal(t, codec.Encode(backend.signChallenge), cd.Challenge)
	assert.NotEmpty(t, complete.Response.Response.Signature)
}

func TestSigninWithAlias(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend)
	registerCredential(t, client, backend)

	_, err := client.SigninWithAlias(context.Background(), "jdoe")
	require.NoError(t, err)

	require.Len(t, backend.signinBegins, 1)
	begin := backend.signinBegins[0]
	assert.Empty(t, begin.UserID)
	assert.Equal(t, "jdoe", begin.Alias)
}

func TestSigninDiscoverable(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend)
	registerCredential(t, client, backend)

	verified, err := client.SigninWithDiscoverable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "verify456", verified.Token)

	// Discoverable sign-in sends neither discriminant; the authenticator
	// supplies the user handle instead.
	require.Len(t, backend.signinBegins, 1)
	assert.Empty(t, backend.signinBegins[0].UserID)
	assert.Empty(t, backend.signinBegins[0].Alias)

	handle, err := codec.Decode(backend.signinFinishes[0].Response.Response.UserHandle)
	require.NoError(t, err)
	assert.Equal(t, []byte("user-1"), handle)
}

func TestSigninNoMatchingCredential(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend)
	registerCredential(t, client, backend)

	// Allow-list references a credential this token does not hold.
	backend.allow = []wireDescriptor{{Type: "public-key", ID: codec.Encode([]byte("someone-else"))}}

	_, err := client.SigninWithID(context.Background(), "user-1")
	problem, ok := AsProblem(err)
	require.True(t, ok)
	assert.True(t, problem.IsClient())
	assert.Equal(t, CodeUnknown, problem.ErrorCode)
}

func TestSigninMediationModes(t *testing.T) {
	backend := newFakeBackend(t)
	auth := &stubAuthenticator{}
	client, err := New(testConfig(backend),
		WithAuthenticator(auth),
		WithCapabilities(stubCaps{supported: true, conditional: true}))
	require.NoError(t, err)

	// The stub returns no credential, so each ceremony fails after the
	// retrieval; the mediation mode is still observed per entry point.
	_, _ = client.SigninWithAutofill(context.Background())
	_, _ = client.SigninWithID(context.Background(), "user-1")
	_, _ = client.SigninWithAlias(context.Background(), "jdoe")
	_, _ = client.SigninWithDiscoverable(context.Background())

	assert.Equal(t, []authenticator.Mediation{
		authenticator.MediationConditional,
		authenticator.MediationDefault,
		authenticator.MediationDefault,
		authenticator.MediationDefault,
	}, auth.mediations())
}

func TestSigninAutofillUnsupported(t *testing.T) {
	backend := newFakeBackend(t)
	client, err := New(testConfig(backend),
		WithAuthenticator(&stubAuthenticator{}),
		WithCapabilities(stubCaps{supported: true, conditional: false}))
	require.NoError(t, err)

	_, err = client.SigninWithAutofill(context.Background())
	assert.ErrorIs(t, err, ErrAutofillUnsupported)
	assert.Zero(t, backend.requestCount())
}

func TestSigninUnsupportedEnvironment(t *testing.T) {
	backend := newFakeBackend(t)
	client, err := New(testConfig(backend),
		WithAuthenticator(&stubAuthenticator{}),
		WithCapabilities(stubCaps{supported: false}))
	require.NoError(t, err)

	_, err = client.SigninWithDiscoverable(context.Background())
	assert.ErrorIs(t, err, ErrBrowserUnsupported)
	assert.Zero(t, backend.requestCount())
}

func TestSigninSupersedesPending(t *testing.T) {
	backend := newFakeBackend(t)

	// Once armed, the next retrieval parks on the presence gesture until
	// its context is cancelled; every other call grants immediately.
	var armed int32
	entered := make(chan struct{})
	token, err := authenticator.NewSoftToken(testOrigin,
		authenticator.WithPresence(func(ctx context.Context) error {
			if atomic.CompareAndSwapInt32(&armed, 1, 0) {
				close(entered)
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		}))
	require.NoError(t, err)

	client, err := New(testConfig(backend), WithAuthenticator(token))
	require.NoError(t, err)
	registerCredential(t, client, backend)

	atomic.StoreInt32(&armed, 1)
	firstDone := make(chan error, 1)
	go func() {
		_, err := client.SigninWithDiscoverable(context.Background())
		firstDone <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first sign-in never reached the authenticator")
	}

	// Starting a second sign-in aborts the pending one.
	verified, err := client.SigninWithDiscoverable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "verify456", verified.Token)

	select {
	case err := <-firstDone:
		problem, ok := AsProblem(err)
		require.True(t, ok)
		assert.Equal(t, CodeAborted, problem.ErrorCode)
		assert.True(t, problem.IsClient())
	case <-time.After(5 * time.Second):
		t.Fatal("superseded sign-in never resolved")
	}
}

func TestAbort(t *testing.T) {
	backend := newFakeBackend(t)

	entered := make(chan struct{}, 1)
	token, err := authenticator.NewSoftToken(testOrigin,
		authenticator.WithPresence(func(ctx context.Context) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-ctx.Done()
			return ctx.Err()
		}))
	require.NoError(t, err)

	client, err := New(testConfig(backend), WithAuthenticator(token))
	require.NoError(t, err)

	// Registration uses an always-granting token so a credential exists.
	regToken, err := authenticator.NewSoftToken(testOrigin)
	require.NoError(t, err)
	regClient, err := New(testConfig(backend), WithAuthenticator(regToken))
	require.NoError(t, err)
	registerCredential(t, regClient, backend)

	done := make(chan error, 1)
	go func() {
		_, err := client.SigninWithDiscoverable(context.Background())
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sign-in never reached the authenticator")
	}

	client.Abort()

	select {
	case err := <-done:
		problem, ok := AsProblem(err)
		require.True(t, ok)
		assert.Equal(t, CodeAborted, problem.ErrorCode)
	case <-time.After(5 * time.Second):
		t.Fatal("aborted sign-in never resolved")
	}

	// Abort with nothing pending is a no-op.
	client.Abort()
}

func TestAbortBeforeSignin(t *testing.T) {
	backend := newFakeBackend(t)
	client, _ := newTestClient(t, backend)
	registerCredential(t, client, backend)

	// An earlier Abort does not poison the next ceremony.
	client.Abort()

	verified, err := client.SigninWithDiscoverable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "verify456", verified.Token)
}

func TestCapabilityProbes(t *testing.T) {
	backend := newFakeBackend(t)

	tests := []struct {
		name         string
		caps         stubCaps
		wantBrowser  bool
		wantPlatform bool
		wantAutofill bool
	}{
		{
			name:        "unsupported environment gates every probe",
			caps:        stubCaps{supported: false, platform: true, conditional: true},
			wantBrowser: false,
		},
		{
			name:         "fully capable",
			caps:         stubCaps{supported: true, platform: true, conditional: true},
			wantBrowser:  true,
			wantPlatform: true,
			wantAutofill: true,
		},
		{
			name:        "supported without platform authenticator",
			caps:        stubCaps{supported: true},
			wantBrowser: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, err := New(testConfig(backend),
				WithAuthenticator(&stubAuthenticator{}),
				WithCapabilities(tc.caps))
			require.NoError(t, err)

			assert.Equal(t, tc.wantBrowser, client.IsBrowserSupported())

			platform, err := client.IsPlatformSupported(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantPlatform, platform)

			autofill, err := client.IsAutofillSupported(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantAutofill, autofill)
		})
	}
}

func TestNewRequiresCapabilities(t *testing.T) {
	backend := newFakeBackend(t)

	// A bare Authenticator without capability reporting is rejected.
	_, err := New(testConfig(backend), WithAuthenticator(&stubAuthenticator{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capabilities")
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(&Config{BaseURL: "https://api.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
