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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/descope/virtualwebauthn"

	"github.com/jeremyhahn/go-passkey/pkg/codec"
)

// Virtual adapts the descope virtual WebAuthn emulator to the
// Authenticator interface. The emulator speaks the browser wire format, so
// this adapter re-encodes decoded options back to base64url JSON, lets the
// emulator produce a response, and decodes the result.
//
// Virtual implements both Authenticator and Capabilities.
type Virtual struct {
	mu sync.Mutex

	rp    virtualwebauthn.RelyingParty
	auth  virtualwebauthn.Authenticator
	creds []virtualwebauthn.Credential
}

// NewVirtual creates a virtual authenticator for the given relying party.
func NewVirtual(rpID, rpName, origin string) *Virtual {
	return &Virtual{
		rp: virtualwebauthn.RelyingParty{
			ID:     rpID,
			Name:   rpName,
			Origin: origin,
		},
		auth: virtualwebauthn.NewAuthenticator(),
	}
}

// Supported always reports true.
func (v *Virtual) Supported() bool {
	return true
}

// PlatformAuthenticatorAvailable always reports true.
func (v *Virtual) PlatformAuthenticatorAvailable(ctx context.Context) (bool, error) {
	return true, nil
}

// ConditionalMediationAvailable always reports true.
func (v *Virtual) ConditionalMediationAvailable(ctx context.Context) (bool, error) {
	return true, nil
}

// wireDescriptor is the browser JSON form of a credential descriptor.
type wireDescriptor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// CreateCredential creates an EC2 credential through the emulator.
func (v *Virtual) CreateCredential(ctx context.Context, opts *CreationOptions) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	optionsJSON, err := marshalCreationOptions(opts)
	if err != nil {
		return nil, err
	}

	parsed, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	if err != nil {
		return nil, fmt.Errorf("parse attestation options: %w", err)
	}

	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	v.mu.Lock()
	response := virtualwebauthn.CreateAttestationResponse(v.rp, v.auth, credential, *parsed)
	v.auth.AddCredential(credential)
	v.creds = append(v.creds, credential)
	v.mu.Unlock()

	var wire struct {
		ID       string `json:"id"`
		RawID    string `json:"rawId"`
		Type     string `json:"type"`
		Response struct {
			AttestationObject string `json:"attestationObject"`
			ClientDataJSON    string `json:"clientDataJSON"`
		} `json:"response"`
	}
	if err := json.Unmarshal([]byte(response), &wire); err != nil {
		return nil, fmt.Errorf("parse attestation response: %w", err)
	}

	rawID, err := codec.Decode(wire.RawID)
	if err != nil {
		return nil, err
	}
	attestationObject, err := codec.Decode(wire.Response.AttestationObject)
	if err != nil {
		return nil, err
	}
	clientDataJSON, err := codec.Decode(wire.Response.ClientDataJSON)
	if err != nil {
		return nil, err
	}

	return &Credential{
		ID:         wire.ID,
		RawID:      rawID,
		Type:       wire.Type,
		Extensions: map[string]any{},
		Attestation: &AttestationResponse{
			AttestationObject: attestationObject,
			ClientDataJSON:    clientDataJSON,
		},
	}, nil
}

// GetCredential produces an assertion through the emulator.
func (v *Virtual) GetCredential(ctx context.Context, opts *RequestOptions, mediation Mediation) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	optionsJSON, err := marshalRequestOptions(opts)
	if err != nil {
		return nil, err
	}

	parsed, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	if err != nil {
		return nil, fmt.Errorf("parse assertion options: %w", err)
	}

	v.mu.Lock()
	credential, found := v.pickCredential(opts)
	if !found {
		v.mu.Unlock()
		return nil, ErrNoCredential
	}
	response := virtualwebauthn.CreateAssertionResponse(v.rp, v.auth, credential, *parsed)
	v.mu.Unlock()

	var wire struct {
		ID       string `json:"id"`
		RawID    string `json:"rawId"`
		Type     string `json:"type"`
		Response struct {
			AuthenticatorData string `json:"authenticatorData"`
			ClientDataJSON    string `json:"clientDataJSON"`
			Signature         string `json:"signature"`
			UserHandle        string `json:"userHandle"`
		} `json:"response"`
	}
	if err := json.Unmarshal([]byte(response), &wire); err != nil {
		return nil, fmt.Errorf("parse assertion response: %w", err)
	}

	rawID, err := codec.Decode(wire.RawID)
	if err != nil {
		return nil, err
	}
	authData, err := codec.Decode(wire.Response.AuthenticatorData)
	if err != nil {
		return nil, err
	}
	clientDataJSON, err := codec.Decode(wire.Response.ClientDataJSON)
	if err != nil {
		return nil, err
	}
	signature, err := codec.Decode(wire.Response.Signature)
	if err != nil {
		return nil, err
	}
	userHandle, err := codec.Decode(wire.Response.UserHandle)
	if err != nil {
		return nil, err
	}

	return &Credential{
		ID:         wire.ID,
		RawID:      rawID,
		Type:       wire.Type,
		Extensions: map[string]any{},
		Assertion: &AssertionResponse{
			AuthenticatorData: authData,
			ClientDataJSON:    clientDataJSON,
			Signature:         signature,
			UserHandle:        userHandle,
		},
	}, nil
}

// pickCredential matches the allow-list against stored credentials,
// falling back to the first credential for discoverable flows. Callers
// hold v.mu.
func (v *Virtual) pickCredential(opts *RequestOptions) (virtualwebauthn.Credential, bool) {
	if len(opts.AllowCredentials) > 0 {
		for _, allowed := range opts.AllowCredentials {
			for _, cred := range v.creds {
				if bytes.Equal(cred.ID, allowed.ID) {
					return cred, true
				}
			}
		}
		return virtualwebauthn.Credential{}, false
	}
	if len(v.creds) == 0 {
		return virtualwebauthn.Credential{}, false
	}
	return v.creds[0], true
}

// marshalCreationOptions renders decoded creation options back into the
// browser wire JSON the emulator parses.
func marshalCreationOptions(opts *CreationOptions) ([]byte, error) {
	type wireUser struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	}
	type wireRP struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	type wireParam struct {
		Type string `json:"type"`
		Alg  int    `json:"alg"`
	}

	params := make([]wireParam, 0, len(opts.Parameters))
	for _, p := range opts.Parameters {
		params = append(params, wireParam{Type: p.Type, Alg: p.Alg})
	}
	if len(params) == 0 {
		params = append(params,
			wireParam{Type: "public-key", Alg: -7},
			wireParam{Type: "public-key", Alg: -257},
		)
	}

	exclude := make([]wireDescriptor, 0, len(opts.ExcludeCredentials))
	for _, d := range opts.ExcludeCredentials {
		exclude = append(exclude, wireDescriptor{Type: d.Type, ID: codec.Encode(d.ID)})
	}

	return json.Marshal(map[string]any{
		"challenge":          codec.Encode(opts.Challenge),
		"rp":                 wireRP{ID: opts.RelyingParty.ID, Name: opts.RelyingParty.Name},
		"user":               wireUser{ID: codec.Encode(opts.User.ID), Name: opts.User.Name, DisplayName: opts.User.DisplayName},
		"pubKeyCredParams":   params,
		"excludeCredentials": exclude,
		"attestation":        opts.Attestation,
	})
}

// marshalRequestOptions renders decoded request options back into the
// browser wire JSON the emulator parses.
func marshalRequestOptions(opts *RequestOptions) ([]byte, error) {
	allow := make([]wireDescriptor, 0, len(opts.AllowCredentials))
	for _, d := range opts.AllowCredentials {
		allow = append(allow, wireDescriptor{Type: d.Type, ID: codec.Encode(d.ID)})
	}

	return json.Marshal(map[string]any{
		"challenge":        codec.Encode(opts.Challenge),
		"rpId":             opts.RelyingPartyID,
		"allowCredentials": allow,
		"userVerification": opts.UserVerification,
	})
}
