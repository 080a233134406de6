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

package authenticator

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/go-webauthn/webauthn/protocol/webauthncbor"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/jeremyhahn/go-passkey/pkg/codec"
)

var (
	// ErrCredentialExcluded is returned when creation options exclude a
	// credential this token already holds.
	ErrCredentialExcluded = errors.New("credential already registered with relying party")

	// ErrNoCredential is returned when no stored credential satisfies the
	// retrieval options.
	ErrNoCredential = errors.New("no matching credential")
)

// PresenceFunc simulates the user-presence gesture. It is called before
// each create/get operation with the ceremony context; returning an error
// (including ctx.Err() after cancellation) aborts the operation.
type PresenceFunc func(ctx context.Context) error

// softCredential is one credential held by a SoftToken.
type softCredential struct {
	id         []byte
	privateKey *ecdsa.PrivateKey
	rpID       string
	userHandle []byte
	signCount  uint32
	resident   bool
}

// SoftToken is an in-process software authenticator. It creates ES256
// credentials with "none" attestation and services assertions for them,
// the way a platform authenticator would, without any hardware.
//
// SoftToken implements both Authenticator and Capabilities.
type SoftToken struct {
	mu sync.Mutex

	origin      string
	aaguid      []byte
	userPresent bool
	userVerify  bool
	resident    bool
	conditional bool
	presence    PresenceFunc

	creds []*softCredential
}

// SoftTokenOption is a functional option for configuring a SoftToken.
type SoftTokenOption func(*SoftToken)

// WithAAGUID sets a custom AAGUID (16 bytes).
func WithAAGUID(aaguid []byte) SoftTokenOption {
	return func(t *SoftToken) {
		t.aaguid = aaguid
	}
}

// WithUserPresent sets the UP flag on produced authenticator data.
func WithUserPresent(up bool) SoftTokenOption {
	return func(t *SoftToken) {
		t.userPresent = up
	}
}

// WithUserVerified sets the UV flag on produced authenticator data.
func WithUserVerified(uv bool) SoftTokenOption {
	return func(t *SoftToken) {
		t.userVerify = uv
	}
}

// WithResidentKey makes new credentials discoverable.
func WithResidentKey(rk bool) SoftTokenOption {
	return func(t *SoftToken) {
		t.resident = rk
	}
}

// WithConditionalMediation controls the autofill capability report.
func WithConditionalMediation(ok bool) SoftTokenOption {
	return func(t *SoftToken) {
		t.conditional = ok
	}
}

// WithPresence installs a user-presence gesture hook. The default grants
// presence immediately.
func WithPresence(fn PresenceFunc) SoftTokenOption {
	return func(t *SoftToken) {
		t.presence = fn
	}
}

// NewSoftToken creates a software authenticator bound to the given origin.
func NewSoftToken(origin string, opts ...SoftTokenOption) (*SoftToken, error) {
	aaguid := make([]byte, 16)
	if _, err := rand.Read(aaguid); err != nil {
		return nil, err
	}

	t := &SoftToken{
		origin:      origin,
		aaguid:      aaguid,
		userPresent: true,
		userVerify:  true,
		resident:    true,
		conditional: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Supported always reports true for an in-process token.
func (t *SoftToken) Supported() bool {
	return true
}

// PlatformAuthenticatorAvailable reports true: the token verifies users
// by construction.
func (t *SoftToken) PlatformAuthenticatorAvailable(ctx context.Context) (bool, error) {
	return true, nil
}

// ConditionalMediationAvailable reports the configured autofill support.
func (t *SoftToken) ConditionalMediationAvailable(ctx context.Context) (bool, error) {
	return t.conditional, nil
}

// CreateCredential creates a new ES256 credential from decoded
// registration options.
func (t *SoftToken) CreateCredential(ctx context.Context, opts *CreationOptions) (*Credential, error) {
	if err := t.waitPresence(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, excl := range opts.ExcludeCredentials {
		if t.lookup(excl.ID) != nil {
			return nil, ErrCredentialExcluded
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	credID := make([]byte, 32)
	if _, err := rand.Read(credID); err != nil {
		return nil, err
	}

	cred := &softCredential{
		id:         credID,
		privateKey: privateKey,
		rpID:       opts.RelyingParty.ID,
		userHandle: opts.User.ID,
		resident:   t.resident,
	}

	authData, err := t.buildAuthenticatorData(cred, true)
	if err != nil {
		return nil, err
	}

	attestationObject, err := webauthncbor.Marshal(map[string]interface{}{
		"authData": authData,
		"fmt":      "none",
		"attStmt":  map[string]interface{}{},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal attestation object: %w", err)
	}

	t.creds = append(t.creds, cred)

	return &Credential{
		ID:         codec.Encode(credID),
		RawID:      credID,
		Type:       "public-key",
		Extensions: map[string]any{},
		Attestation: &AttestationResponse{
			AttestationObject: attestationObject,
			ClientDataJSON:    t.buildClientDataJSON(opts.Challenge, "webauthn.create"),
		},
	}, nil
}

// GetCredential produces an assertion for a stored credential matching the
// decoded sign-in options.
func (t *SoftToken) GetCredential(ctx context.Context, opts *RequestOptions, mediation Mediation) (*Credential, error) {
	if err := t.waitPresence(ctx); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cred, err := t.selectCredential(opts)
	if err != nil {
		return nil, err
	}

	cred.signCount++

	authData, err := t.buildAuthenticatorData(cred, false)
	if err != nil {
		return nil, err
	}

	clientDataJSON := t.buildClientDataJSON(opts.Challenge, "webauthn.get")
	clientDataHash := sha256.Sum256(clientDataJSON)

	signature, err := signASN1(cred.privateKey, append(append([]byte{}, authData...), clientDataHash[:]...))
	if err != nil {
		return nil, err
	}

	var userHandle []byte
	if cred.resident {
		userHandle = cred.userHandle
	}

	return &Credential{
		ID:         codec.Encode(cred.id),
		RawID:      cred.id,
		Type:       "public-key",
		Extensions: map[string]any{},
		Assertion: &AssertionResponse{
			AuthenticatorData: authData,
			ClientDataJSON:    clientDataJSON,
			Signature:         signature,
			UserHandle:        userHandle,
		},
	}, nil
}

// PublicKey returns the public key for a credential ID, for verification
// in tests and tooling.
func (t *SoftToken) PublicKey(credID []byte) *ecdsa.PublicKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cred := t.lookup(credID); cred != nil {
		return &cred.privateKey.PublicKey
	}
	return nil
}

func (t *SoftToken) waitPresence(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.presence != nil {
		return t.presence(ctx)
	}
	return nil
}

// lookup finds a stored credential by raw ID. Callers hold t.mu.
func (t *SoftToken) lookup(id []byte) *softCredential {
	for _, cred := range t.creds {
		if bytes.Equal(cred.id, id) {
			return cred
		}
	}
	return nil
}

// selectCredential applies the allow-list, falling back to the first
// discoverable credential for the relying party. Callers hold t.mu.
func (t *SoftToken) selectCredential(opts *RequestOptions) (*softCredential, error) {
	if len(opts.AllowCredentials) > 0 {
		for _, allowed := range opts.AllowCredentials {
			if cred := t.lookup(allowed.ID); cred != nil && cred.rpID == opts.RelyingPartyID {
				return cred, nil
			}
		}
		return nil, ErrNoCredential
	}

	for _, cred := range t.creds {
		if cred.resident && cred.rpID == opts.RelyingPartyID {
			return cred, nil
		}
	}
	return nil, ErrNoCredential
}

// buildAuthenticatorData assembles rpIdHash || flags || signCount, plus
// attested credential data when attested is true.
func (t *SoftToken) buildAuthenticatorData(cred *softCredential, attested bool) ([]byte, error) {
	rpIDHash := sha256.Sum256([]byte(cred.rpID))

	var buf bytes.Buffer
	buf.Write(rpIDHash[:])
	buf.WriteByte(t.buildFlags(attested))

	signCount := make([]byte, 4)
	binary.BigEndian.PutUint32(signCount, cred.signCount)
	buf.Write(signCount)

	if attested {
		buf.Write(t.aaguid)

		credIDLen := make([]byte, 2)
		binary.BigEndian.PutUint16(credIDLen, uint16(len(cred.id)))
		buf.Write(credIDLen)
		buf.Write(cred.id)

		coseKey, err := marshalCOSEKey(&cred.privateKey.PublicKey)
		if err != nil {
			return nil, err
		}
		buf.Write(coseKey)
	}

	return buf.Bytes(), nil
}

func (t *SoftToken) buildFlags(attested bool) byte {
	var flags byte
	if t.userPresent {
		flags |= 0x01 // UP
	}
	if t.userVerify {
		flags |= 0x04 // UV
	}
	if attested {
		flags |= 0x40 // AT
	}
	return flags
}

func (t *SoftToken) buildClientDataJSON(challenge []byte, ceremonyType string) []byte {
	clientData := struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}{
		Type:      ceremonyType,
		Challenge: codec.Encode(challenge),
		Origin:    t.origin,
	}
	raw, _ := json.Marshal(clientData)
	return raw
}

// marshalCOSEKey encodes a P-256 public key as a COSE EC2 key for ES256.
func marshalCOSEKey(pub *ecdsa.PublicKey) ([]byte, error) {
	return webauthncbor.Marshal(map[int]interface{}{
		1:  2,                          // kty: EC2
		3:  int(webauthncose.AlgES256), // alg
		-1: 1,                          // crv: P-256
		-2: pub.X.Bytes(),              // x
		-3: pub.Y.Bytes(),              // y
	})
}

// signASN1 signs data with SHA-256 and encodes r,s as an ASN.1 DER
// sequence, the signature format WebAuthn requires for ES256.
func signASN1(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, hash[:])
	if err != nil {
		return nil, err
	}
	return marshalDERSignature(r, s), nil
}

func marshalDERSignature(r, s *big.Int) []byte {
	rBytes := r.Bytes()
	sBytes := s.Bytes()

	if len(rBytes) > 0 && rBytes[0] >= 0x80 {
		rBytes = append([]byte{0x00}, rBytes...)
	}
	if len(sBytes) > 0 && sBytes[0] >= 0x80 {
		sBytes = append([]byte{0x00}, sBytes...)
	}

	seqLen := 2 + len(rBytes) + 2 + len(sBytes)

	sig := make([]byte, 0, 2+seqLen)
	sig = append(sig, 0x30, byte(seqLen))
	sig = append(sig, 0x02, byte(len(rBytes)))
	sig = append(sig, rBytes...)
	sig = append(sig, 0x02, byte(len(sBytes)))
	sig = append(sig, sBytes...)
	return sig
}
