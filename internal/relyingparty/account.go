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

package relyingparty

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/go-webauthn/webauthn/webauthn"
)

// account is one enrolled user. It implements webauthn.User. Access is
// guarded by the server mutex; the webauthn library only reads it during
// a ceremony.
type account struct {
	id          string
	name        string
	displayName string
	credentials []webauthn.Credential

	// nicknames maps credential IDs to the caller-supplied nickname.
	nicknames map[string]string
}

func (a *account) WebAuthnID() []byte {
	return []byte(a.id)
}

func (a *account) WebAuthnName() string {
	return a.name
}

func (a *account) WebAuthnDisplayName() string {
	return a.displayName
}

func (a *account) WebAuthnCredentials() []webauthn.Credential {
	return a.credentials
}

// addCredential stores a freshly registered credential with its nickname.
func (a *account) addCredential(cred *webauthn.Credential, nickname string) {
	a.credentials = append(a.credentials, *cred)
	if nickname != "" {
		if a.nicknames == nil {
			a.nicknames = make(map[string]string)
		}
		a.nicknames[string(cred.ID)] = nickname
	}
}

// updateCredential replaces the stored copy after a sign-in advanced its
// authenticator state.
func (a *account) updateCredential(cred *webauthn.Credential) {
	for i := range a.credentials {
		if string(a.credentials[i].ID) == string(cred.ID) {
			a.credentials[i] = *cred
			return
		}
	}
}

func randomID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func randomSecret() ([]byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return raw, nil
}
