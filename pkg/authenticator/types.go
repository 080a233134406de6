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

// Mediation selects the prompting mode for a credential retrieval.
type Mediation string

const (
	// MediationDefault lets the platform choose its normal modal prompt.
	MediationDefault Mediation = ""

	// MediationConditional requests autofill-style non-blocking prompting.
	MediationConditional Mediation = "conditional"
)

// RelyingParty identifies the relying party in creation options.
type RelyingParty struct {
	ID   string
	Name string
}

// UserEntity identifies the account a credential is being created for.
// ID is the raw user handle.
type UserEntity struct {
	ID          []byte
	Name        string
	DisplayName string
}

// CredentialParameter describes an acceptable credential algorithm.
type CredentialParameter struct {
	Type string
	Alg  int
}

// CredentialDescriptor references an existing credential by its raw ID.
type CredentialDescriptor struct {
	Type       string
	ID         []byte
	Transports []string
}

// AuthenticatorSelection constrains which authenticators may service a
// credential creation.
type AuthenticatorSelection struct {
	Attachment       string
	ResidentKey      string
	UserVerification string
}

// CreationOptions is the decoded form of the backend's registration
// options: every binary field holds raw bytes, ready for the
// authenticator's credential API.
type CreationOptions struct {
	Challenge              []byte
	RelyingParty           RelyingParty
	User                   UserEntity
	Parameters             []CredentialParameter
	ExcludeCredentials     []CredentialDescriptor
	AuthenticatorSelection *AuthenticatorSelection
	Attestation            string
	TimeoutMillis          int
}

// RequestOptions is the decoded form of the backend's sign-in options.
type RequestOptions struct {
	Challenge        []byte
	RelyingPartyID   string
	AllowCredentials []CredentialDescriptor
	UserVerification string
	TimeoutMillis    int
}

// AttestationResponse carries the binary registration payload produced by
// the authenticator.
type AttestationResponse struct {
	AttestationObject []byte
	ClientDataJSON    []byte
}

// AssertionResponse carries the binary sign-in payload produced by the
// authenticator.
type AssertionResponse struct {
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte
	UserHandle        []byte
}

// Credential is the result of a local authenticator operation. Exactly one
// of Attestation or Assertion is set, depending on the ceremony.
type Credential struct {
	ID         string
	RawID      []byte
	Type       string
	Extensions map[string]any

	Attestation *AttestationResponse
	Assertion   *AssertionResponse
}
