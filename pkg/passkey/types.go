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

// Wire types for the four backend endpoints. Binary fields are base64url
// text on the wire; the session token is opaque and threaded through
// unmodified.

type wireRelyingParty struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type wireUser struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

type wireParameter struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

type wireDescriptor struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Transports []string `json:"transports,omitempty"`
}

type wireAuthenticatorSelection struct {
	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
	ResidentKey             string `json:"residentKey,omitempty"`
	UserVerification        string `json:"userVerification,omitempty"`
}

// registrationOptions is the server-issued challenge material for a
// registration ceremony, still text-encoded.
type registrationOptions struct {
	RP                     wireRelyingParty            `json:"rp"`
	User                   wireUser                    `json:"user"`
	Challenge              string                      `json:"challenge"`
	PubKeyCredParams       []wireParameter             `json:"pubKeyCredParams"`
	Timeout                int                         `json:"timeout,omitempty"`
	Attestation            string                      `json:"attestation,omitempty"`
	AuthenticatorSelection *wireAuthenticatorSelection `json:"authenticatorSelection,omitempty"`
	ExcludeCredentials     []wireDescriptor            `json:"excludeCredentials,omitempty"`
}

// assertionOptions is the server-issued challenge material for a sign-in
// ceremony, still text-encoded.
type assertionOptions struct {
	Challenge        string           `json:"challenge"`
	Timeout          int              `json:"timeout,omitempty"`
	RPID             string           `json:"rpId"`
	AllowCredentials []wireDescriptor `json:"allowCredentials,omitempty"`
	UserVerification string           `json:"userVerification,omitempty"`
}

type registerBeginRequest struct {
	Token  string `json:"token"`
	RPID   string `json:"rpId"`
	Origin string `json:"origin"`
}

type registerBeginResponse struct {
	Data    registrationOptions `json:"data"`
	Session string              `json:"session"`
}

type signinBeginRequest struct {
	UserID string `json:"userId,omitempty"`
	Alias  string `json:"alias,omitempty"`
	RPID   string `json:"rpId"`
	Origin string `json:"origin"`
}

type signinBeginResponse struct {
	Data    assertionOptions `json:"data"`
	Session string           `json:"session"`
}

// wireAttestationPayload carries the text-encoded binary fields of a
// created credential.
type wireAttestationPayload struct {
	AttestationObject string `json:"attestationObject"`
	ClientDataJSON    string `json:"clientDataJson"`
}

// wireAssertionPayload carries the text-encoded binary fields of a
// retrieved credential.
type wireAssertionPayload struct {
	AuthenticatorData string `json:"authenticatorData"`
	ClientDataJSON    string `json:"clientDataJson"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle,omitempty"`
}

type wireAttestationCredential struct {
	ID         string                 `json:"id"`
	RawID      string                 `json:"rawId"`
	Type       string                 `json:"type"`
	Extensions map[string]any         `json:"extensions"`
	Response   wireAttestationPayload `json:"response"`
}

type wireAssertionCredential struct {
	ID         string               `json:"id"`
	RawID      string               `json:"rawId"`
	Type       string               `json:"type"`
	Extensions map[string]any       `json:"extensions"`
	Response   wireAssertionPayload `json:"response"`
}

type registerCompleteRequest struct {
	Session  string                    `json:"session"`
	Response wireAttestationCredential `json:"response"`
	Nickname string                    `json:"nickname"`
	RPID     string                    `json:"rpId"`
	Origin   string                    `json:"origin"`
}

type signinCompleteRequest struct {
	Session  string                  `json:"session"`
	Response wireAssertionCredential `json:"response"`
	RPID     string                  `json:"rpId"`
	Origin   string                  `json:"origin"`
}

// VerifiedToken is the backend's response to a completed ceremony. The
// token is consumed by the caller's backend to finish verification.
type VerifiedToken struct {
	Token string `json:"token"`
}
