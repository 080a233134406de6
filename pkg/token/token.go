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

// Package token provides helpers for inspecting the verification token a
// completed ceremony returns. Verification tokens are consumed opaquely by
// the caller's backend; when a backend issues JWT-shaped tokens these
// helpers let a caller peek at claims locally, without any signature
// verification.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned when a verification token is not JWT-shaped.
var ErrNotJWT = errors.New("verification token is not a JWT")

// IsJWT reports whether the token has the three-part compact JWT shape.
// Opaque verification tokens (the common case) return false.
func IsJWT(raw string) bool {
	return strings.Count(raw, ".") == 2
}

// Peek decodes a JWT-shaped verification token's claims WITHOUT verifying
// its signature. The result is informational only; verification belongs
// to the backend that issued the token.
func Peek(raw string) (jwt.MapClaims, error) {
	if !IsJWT(raw) {
		return nil, ErrNotJWT
	}

	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse verification token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}
	return claims, nil
}

// Subject returns the token's subject claim, when present.
func Subject(raw string) (string, error) {
	claims, err := Peek(raw)
	if err != nil {
		return "", err
	}
	return claims.GetSubject()
}

// ExpiresAt returns the token's expiry, when present. The second return
// is false when the token carries no expiry claim.
func ExpiresAt(raw string) (time.Time, bool, error) {
	claims, err := Peek(raw)
	if err != nil {
		return time.Time{}, false, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read expiry claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, false, nil
	}
	return exp.Time, true, nil
}
