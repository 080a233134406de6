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
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/codec"
)

func TestVirtualCreateCredential(t *testing.T) {
	virtual := NewVirtual(tokenRPID, "Example", tokenOrigin)

	cred, err := virtual.CreateCredential(context.Background(), creationOptions())
	require.NoError(t, err)
	require.NotNil(t, cred)

	assert.Equal(t, "public-key", cred.Type)
	assert.Equal(t, codec.Encode(cred.RawID), cred.ID)
	require.NotNil(t, cred.Attestation)
	assert.NotEmpty(t, cred.Attestation.AttestationObject)

	var cd struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}
	require.NoError(t, json.Unmarshal(cred.Attestation.ClientDataJSON, &cd))
	assert.Equal(t, "webauthn.create", cd.Type)
	assert.Equal(t, codec.Encode([]byte("create-challenge")), cd.Challenge)
	assert.Equal(t, tokenOrigin, cd.Origin)
}

func TestVirtualGetCredential(t *testing.T) {
	virtual := NewVirtual(tokenRPID, "Example", tokenOrigin)

	created, err := virtual.CreateCredential(context.Background(), creationOptions())
	require.NoError(t, err)

	asserted, err := virtual.GetCredential(context.Background(),
		requestOptions(CredentialDescriptor{Type: "public-key", ID: created.RawID}),
		MediationDefault)
	require.NoError(t, err)
	require.NotNil(t, asserted.Assertion)

	assert.Equal(t, created.RawID, asserted.RawID)
	assert.NotEmpty(t, asserted.Assertion.AuthenticatorData)
	assert.NotEmpty(t, asserted.Assertion.Signature)

	var cd struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(asserted.Assertion.ClientDataJSON, &cd))
	assert.Equal(t, "webauthn.get", cd.Type)
}

func TestVirtualGetCredentialNoMatch(t *testing.T) {
	virtual := NewVirtual(tokenRPID, "Example", tokenOrigin)

	_, err := virtual.GetCredential(context.Background(),
		requestOptions(CredentialDescriptor{Type: "public-key", ID: []byte("unknown")}),
		MediationDefault)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestVirtualCancellation(t *testing.T) {
	virtual := NewVirtual(tokenRPID, "Example", tokenOrigin)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := virtual.CreateCredential(ctx, creationOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVirtualCapabilities(t *testing.T) {
	virtual := NewVirtual(tokenRPID, "Example", tokenOrigin)

	assert.True(t, virtual.Supported())

	platform, err := virtual.PlatformAuthenticatorAvailable(context.Background())
	require.NoError(t, err)
	assert.True(t, platform)

	conditional, err := virtual.ConditionalMediationAvailable(context.Background())
	require.NoError(t, err)
	assert.True(t, conditional)
}
