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
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/golang-jwt/jwt/v5"
)

// Request and response shapes for the ceremony endpoints. Binary
// credential fields arrive base64url-encoded; the protocol package
// consumes them in browser JSON form.

type beginEnvelope struct {
	Data    any    `json:"data"`
	Session string `json:"session"`
}

type registerBeginRequest struct {
	Token  string `json:"token"`
	Origin string `json:"origin"`
}

type attestationPayload struct {
	AttestationObject string `json:"attestationObject"`
	ClientDataJSON    string `json:"clientDataJson"`
}

type assertionPayload struct {
	AuthenticatorData string `json:"authenticatorData"`
	ClientDataJSON    string `json:"clientDataJson"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle"`
}

type attestationCredential struct {
	ID       string             `json:"id"`
	RawID    string             `json:"rawId"`
	Type     string             `json:"type"`
	Response attestationPayload `json:"response"`
}

type assertionCredential struct {
	ID       string           `json:"id"`
	RawID    string           `json:"rawId"`
	Type     string           `json:"type"`
	Response assertionPayload `json:"response"`
}

type registerCompleteRequest struct {
	Session  string                `json:"session"`
	Response attestationCredential `json:"response"`
	Nickname string                `json:"nickname"`
}

type signinBeginRequest struct {
	UserID string `json:"userId"`
	Alias  string `json:"alias"`
}

type signinCompleteRequest struct {
	Session  string              `json:"session"`
	Response assertionCredential `json:"response"`
}

type verifiedResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	var req registerBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	user, err := s.upsertUser(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_token", err.Error())
		return
	}

	// Exclude already-enrolled credentials so the authenticator refuses
	// duplicate enrollment.
	exclusions := make([]protocol.CredentialDescriptor, 0, len(user.WebAuthnCredentials()))
	for _, cred := range user.WebAuthnCredentials() {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
		})
	}

	options, sessionData, err := s.wa.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "begin_failed", err.Error())
		return
	}

	sessionID, err := s.saveSession(sessionData, user.id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session_failed", err.Error())
		return
	}

	s.log.Debug("registration begun", "user", user.id)
	writeJSON(w, beginEnvelope{Data: options.Response, Session: sessionID})
}

func (s *Server) handleRegisterComplete(w http.ResponseWriter, r *http.Request) {
	var req registerCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	sess, ok := s.takeSession(req.Session)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_session", "unknown or expired session")
		return
	}

	s.mu.Lock()
	user, ok := s.users[sess.userID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_user", "session references an unknown user")
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(browserAttestationJSON(&req.Response)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_credential", err.Error())
		return
	}

	credential, err := s.wa.CreateCredential(user, *sess.data, parsed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "verification_failed", err.Error())
		return
	}

	s.mu.Lock()
	user.addCredential(credential, req.Nickname)
	s.mu.Unlock()

	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_failed", err.Error())
		return
	}

	s.log.Info("credential registered", "user", user.id)
	writeJSON(w, verifiedResponse{Token: token})
}

func (s *Server) handleSigninBegin(w http.ResponseWriter, r *http.Request) {
	var req signinBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	var (
		options     *protocol.CredentialAssertion
		sessionData *webauthn.SessionData
		userID      string
		err         error
	)
	if req.UserID == "" && req.Alias == "" {
		// Discoverable sign-in: the authenticator names the user.
		options, sessionData, err = s.wa.BeginDiscoverableLogin()
	} else {
		user, ok := s.findUser(req.UserID, req.Alias)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown_user", "no such user")
			return
		}
		userID = user.id
		options, sessionData, err = s.wa.BeginLogin(user)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "begin_failed", err.Error())
		return
	}

	sessionID, err := s.saveSession(sessionData, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session_failed", err.Error())
		return
	}

	writeJSON(w, beginEnvelope{Data: options.Response, Session: sessionID})
}

func (s *Server) handleSigninComplete(w http.ResponseWriter, r *http.Request) {
	var req signinCompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_request", err.Error())
		return
	}

	sess, ok := s.takeSession(req.Session)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_session", "unknown or expired session")
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(browserAssertionJSON(&req.Response)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed_credential", err.Error())
		return
	}

	var user *account
	if sess.userID != "" {
		s.mu.Lock()
		user, ok = s.users[sess.userID]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown_user", "session references an unknown user")
			return
		}

		credential, err := s.wa.ValidateLogin(user, *sess.data, parsed)
		if err != nil {
			writeError(w, http.StatusBadRequest, "verification_failed", err.Error())
			return
		}
		s.mu.Lock()
		user.updateCredential(credential)
		s.mu.Unlock()
	} else {
		credential, err := s.wa.ValidateDiscoverableLogin(
			func(rawID, userHandle []byte) (webauthn.User, error) {
				found, ok := s.findUserByHandle(userHandle)
				if !ok {
					return nil, protocol.ErrBadRequest.WithDetails("unknown user handle")
				}
				user = found
				return found, nil
			},
			*sess.data, parsed)
		if err != nil {
			writeError(w, http.StatusBadRequest, "verification_failed", err.Error())
			return
		}
		s.mu.Lock()
		user.updateCredential(credential)
		s.mu.Unlock()
	}

	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_failed", err.Error())
		return
	}

	s.log.Info("sign-in verified", "user", user.id)
	writeJSON(w, verifiedResponse{Token: token})
}

// browserAttestationJSON rebuilds the browser wire form the protocol
// parser expects; the ceremony contract spells clientDataJson with a
// lowercase "son".
func browserAttestationJSON(cred *attestationCredential) []byte {
	raw, _ := json.Marshal(map[string]any{
		"id":    cred.ID,
		"rawId": cred.RawID,
		"type":  cred.Type,
		"response": map[string]any{
			"attestationObject": cred.Response.AttestationObject,
			"clientDataJSON":    cred.Response.ClientDataJSON,
		},
	})
	return raw
}

func browserAssertionJSON(cred *assertionCredential) []byte {
	response := map[string]any{
		"authenticatorData": cred.Response.AuthenticatorData,
		"clientDataJSON":    cred.Response.ClientDataJSON,
		"signature":         cred.Response.Signature,
	}
	if cred.Response.UserHandle != "" {
		response["userHandle"] = cred.Response.UserHandle
	}
	raw, _ := json.Marshal(map[string]any{
		"id":       cred.ID,
		"rawId":    cred.RawID,
		"type":     cred.Type,
		"response": response,
	})
	return raw
}

// issueToken mints the verification token a completed ceremony returns.
func (s *Server) issueToken(user *account) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  "go-passkey-demo",
		"sub":  user.id,
		"name": user.displayName,
		"iat":  now.Unix(),
		"exp":  now.Add(s.config.TokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errorCode": code,
		"title":     http.StatusText(status),
		"status":    status,
		"detail":    detail,
	})
}
