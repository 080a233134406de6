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

// Package codec provides the base64url transcoding used on the wire between
// the passkey backend and the local authenticator.
//
// The backend transmits binary material (challenges, user handles, credential
// IDs, attestation and assertion payloads) as URL-safe base64 text with the
// padding stripped. This package converts that text form to raw bytes and
// back. The two directions are exact inverses for all valid inputs.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrNotText is returned when decoding is attempted on a value that is
	// not a string. This guards against double-decoding fields that have
	// already been converted to raw bytes.
	ErrNotText = errors.New("decode input is not text")

	// ErrUnsupportedInput is returned when encoding is attempted on a value
	// that is not a byte sequence, fixed-size byte buffer, or numeric slice.
	ErrUnsupportedInput = errors.New("unsupported encode input")

	// ErrInvalidText is returned when the input is not valid base64url text.
	ErrInvalidText = errors.New("invalid base64url text")
)

// Encode converts raw bytes to unpadded URL-safe base64 text.
// The output never contains '+', '/', or '='. Empty input encodes to "".
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode converts unpadded URL-safe base64 text back to raw bytes.
// Padding is re-derived as (4 - len mod 4) mod 4 before decoding so that
// both padded and stripped variants of the same text decode identically.
// Empty input decodes to an empty byte slice.
func Decode(s string) ([]byte, error) {
	if pad := (4 - len(s)%4) % 4; pad > 0 {
		s += strings.Repeat("=", pad)
	}
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidText, err)
	}
	return b, nil
}

// DecodeAny decodes a dynamically-typed value that must hold base64url text.
// Any non-string input returns ErrNotText. This is used when walking
// untyped JSON material from the backend, where a field may already have
// been decoded in a previous pass.
func DecodeAny(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotText, v)
	}
	return Decode(s)
}

// EncodeAny encodes a dynamically-typed binary value to base64url text.
//
// Accepted shapes are a byte slice, a fixed-size byte array, or a plain
// numeric slice ([]int) whose elements are byte values. Anything else
// returns ErrUnsupportedInput.
func EncodeAny(v any) (string, error) {
	switch b := v.(type) {
	case []byte:
		return Encode(b), nil
	case []int:
		raw := make([]byte, len(b))
		for i, n := range b {
			if n < 0 || n > 255 {
				return "", fmt.Errorf("%w: element %d out of byte range", ErrUnsupportedInput, i)
			}
			raw[i] = byte(n)
		}
		return Encode(raw), nil
	}

	// Fixed-size byte buffers ([16]byte AAGUIDs and the like) arrive as
	// array values, not slices.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		raw := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(raw), rv)
		return Encode(raw), nil
	}

	return "", fmt.Errorf("%w: got %T", ErrUnsupportedInput, v)
}
