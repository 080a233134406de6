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

// Package authenticator defines the local authenticator capability the
// ceremony client depends on, along with two implementations: SoftToken,
// an in-process software authenticator, and Virtual, an adapter over the
// descope virtual WebAuthn emulator.
package authenticator

import "context"

// Authenticator is the platform capability that creates and retrieves
// public-key credentials. Implementations receive fully decoded options
// (raw bytes, no wire encoding) and return credentials whose binary fields
// are likewise raw.
//
// Both operations honor context cancellation: an aborted ceremony must
// cause a pending prompt to return ctx.Err().
type Authenticator interface {
	// CreateCredential creates a new credential from registration options.
	CreateCredential(ctx context.Context, opts *CreationOptions) (*Credential, error)

	// GetCredential retrieves an existing credential for sign-in.
	// The mediation mode is only meaningful for autofill flows.
	GetCredential(ctx context.Context, opts *RequestOptions, mediation Mediation) (*Credential, error)
}

// Capabilities reports what the local environment supports. All three
// checks are side-effect-free queries.
type Capabilities interface {
	// Supported reports whether public-key credentials are available at all.
	Supported() bool

	// PlatformAuthenticatorAvailable reports whether a built-in
	// user-verifying authenticator is present. Always false when
	// Supported is false.
	PlatformAuthenticatorAvailable(ctx context.Context) (bool, error)

	// ConditionalMediationAvailable reports whether autofill-mediated
	// sign-in is supported.
	ConditionalMediationAvailable(ctx context.Context) (bool, error)
}
