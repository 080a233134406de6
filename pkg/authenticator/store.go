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
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-passkey/pkg/codec"
)

// ErrMalformedState is returned when persisted token state cannot be
// parsed back into credentials.
var ErrMalformedState = errors.New("malformed token state")

const ecPrivateKeyPEMType = "EC PRIVATE KEY"

// tokenState is the serialized form of a SoftToken's credentials.
// Private keys are SEC 1 DER wrapped in PEM; binary fields are
// base64url.
type tokenState struct {
	AAGUID      string            `json:"aaguid"`
	Credentials []credentialState `json:"credentials"`
}

type credentialState struct {
	ID            string `json:"id"`
	PrivateKeyPEM string `json:"privateKey"`
	RPID          string `json:"rpId"`
	UserHandle    string `json:"userHandle,omitempty"`
	SignCount     uint32 `json:"signCount"`
	Resident      bool   `json:"resident"`
}

// ExportState serializes the token's AAGUID and credentials so another
// process can resume servicing assertions for them.
func (t *SoftToken) ExportState() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := tokenState{
		AAGUID:      codec.Encode(t.aaguid),
		Credentials: make([]credentialState, 0, len(t.creds)),
	}
	for _, cred := range t.creds {
		keyDER, err := x509.MarshalECPrivateKey(cred.privateKey)
		if err != nil {
			return nil, fmt.Errorf("marshal credential key: %w", err)
		}
		keyPEM := pem.EncodeToMemory(&pem.Block{
			Type:  ecPrivateKeyPEMType,
			Bytes: keyDER,
		})
		state.Credentials = append(state.Credentials, credentialState{
			ID:            codec.Encode(cred.id),
			PrivateKeyPEM: string(keyPEM),
			RPID:          cred.rpID,
			UserHandle:    codec.Encode(cred.userHandle),
			SignCount:     cred.signCount,
			Resident:      cred.resident,
		})
	}
	return json.MarshalIndent(state, "", "  ")
}

// ImportState replaces the token's credentials and AAGUID with
// previously exported state.
func (t *SoftToken) ImportState(data []byte) error {
	var state tokenState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedState, err)
	}

	aaguid, err := codec.Decode(state.AAGUID)
	if err != nil || len(aaguid) != 16 {
		return fmt.Errorf("%w: bad aaguid", ErrMalformedState)
	}

	creds := make([]*softCredential, 0, len(state.Credentials))
	for _, sc := range state.Credentials {
		id, err := codec.Decode(sc.ID)
		if err != nil {
			return fmt.Errorf("%w: bad credential id", ErrMalformedState)
		}
		userHandle, err := codec.Decode(sc.UserHandle)
		if err != nil {
			return fmt.Errorf("%w: bad user handle", ErrMalformedState)
		}

		block, _ := pem.Decode([]byte(sc.PrivateKeyPEM))
		if block == nil || block.Type != ecPrivateKeyPEMType {
			return fmt.Errorf("%w: bad credential key", ErrMalformedState)
		}
		privateKey, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return fmt.Errorf("%w: parse credential key: %v", ErrMalformedState, err)
		}

		creds = append(creds, &softCredential{
			id:         id,
			privateKey: privateKey,
			rpID:       sc.RPID,
			userHandle: userHandle,
			signCount:  sc.SignCount,
			resident:   sc.Resident,
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.aaguid = aaguid
	t.creds = creds
	return nil
}

// SaveState writes the token state to path, creating parent directories.
// The file holds private key material and is written mode 0600.
func (t *SoftToken) SaveState(path string) error {
	data, err := t.ExportState()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create token state directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write token state: %w", err)
	}
	return nil
}

// LoadState restores the token state from path. A missing file is
// returned as an error satisfying errors.Is(err, fs.ErrNotExist).
func (t *SoftToken) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return t.ImportState(data)
}
