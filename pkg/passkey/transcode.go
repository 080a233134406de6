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
	"fmt"

	"github.com/jeremyhahn/go-passkey/pkg/authenticator"
	"github.com/jeremyhahn/go-passkey/pkg/codec"
)

// decodeRegistrationOptions converts the backend's text-encoded
// registration options into the raw-byte form the authenticator requires.
func decodeRegistrationOptions(wire *registrationOptions) (*authenticator.CreationOptions, error) {
	challenge, err := codec.Decode(wire.Challenge)
	if err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	userID, err := codec.Decode(wire.User.ID)
	if err != nil {
		return nil, fmt.Errorf("decode user id: %w", err)
	}

	exclude, err := decodeDescriptors(wire.ExcludeCredentials)
	if err != nil {
		return nil, fmt.Errorf("decode exclude credentials: %w", err)
	}

	params := make([]authenticator.CredentialParameter, 0, len(wire.PubKeyCredParams))
	for _, p := range wire.PubKeyCredParams {
		params = append(params, authenticator.CredentialParameter{Type: p.Type, Alg: p.Alg})
	}

	opts := &authenticator.CreationOptions{
		Challenge: challenge,
		RelyingParty: authenticator.RelyingParty{
			ID:   wire.RP.ID,
			Name: wire.RP.Name,
		},
		User: authenticator.UserEntity{
			ID:          userID,
			Name:        wire.User.Name,
			DisplayName: wire.User.DisplayName,
		},
		Parameters:         params,
		ExcludeCredentials: exclude,
		Attestation:        wire.Attestation,
		TimeoutMillis:      wire.Timeout,
	}
	if sel := wire.AuthenticatorSelection; sel != nil {
		opts.AuthenticatorSelection = &authenticator.AuthenticatorSelection{
			Attachment:       sel.AuthenticatorAttachment,
			ResidentKey:      sel.ResidentKey,
			UserVerification: sel.UserVerification,
		}
	}
	return opts, nil
}

// decodeAssertionOptions converts the backend's text-encoded sign-in
// options into the raw-byte form the authenticator requires.
func decodeAssertionOptions(wire *assertionOptions) (*authenticator.RequestOptions, error) {
	challenge, err := codec.Decode(wire.Challenge)
	if err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	allow, err := decodeDescriptors(wire.AllowCredentials)
	if err != nil {
		return nil, fmt.Errorf("decode allow credentials: %w", err)
	}

	return &authenticator.RequestOptions{
		Challenge:        challenge,
		RelyingPartyID:   wire.RPID,
		AllowCredentials: allow,
		UserVerification: wire.UserVerification,
		TimeoutMillis:    wire.Timeout,
	}, nil
}

func decodeDescriptors(wire []wireDescriptor) ([]authenticator.CredentialDescriptor, error) {
	out := make([]authenticator.CredentialDescriptor, 0, len(wire))
	for _, d := range wire {
		id, err := codec.Decode(d.ID)
		if err != nil {
			return nil, fmt.Errorf("credential id %q: %w", d.ID, err)
		}
		out = append(out, authenticator.CredentialDescriptor{
			Type:       d.Type,
			ID:         id,
			Transports: d.Transports,
		})
	}
	return out, nil
}

// encodeAttestationCredential converts a created credential's raw binary
// fields to the wire text form.
func encodeAttestationCredential(cred *authenticator.Credential) wireAttestationCredential {
	return wireAttestationCredential{
		ID:         cred.ID,
		RawID:      codec.Encode(cred.RawID),
		Type:       cred.Type,
		Extensions: extensions(cred),
		Response: wireAttestationPayload{
			AttestationObject: codec.Encode(cred.Attestation.AttestationObject),
			ClientDataJSON:    codec.Encode(cred.Attestation.ClientDataJSON),
		},
	}
}

// encodeAssertionCredential converts a retrieved credential's raw binary
// fields to the wire text form.
func encodeAssertionCredential(cred *authenticator.Credential) wireAssertionCredential {
	return wireAssertionCredential{
		ID:         cred.ID,
		RawID:      codec.Encode(cred.RawID),
		Type:       cred.Type,
		Extensions: extensions(cred),
		Response: wireAssertionPayload{
			AuthenticatorData: codec.Encode(cred.Assertion.AuthenticatorData),
			ClientDataJSON:    codec.Encode(cred.Assertion.ClientDataJSON),
			Signature:         codec.Encode(cred.Assertion.Signature),
			UserHandle:        codec.Encode(cred.Assertion.UserHandle),
		},
	}
}

func extensions(cred *authenticator.Credential) map[string]any {
	if cred.Extensions == nil {
		return map[string]any{}
	}
	return cred.Extensions
}
