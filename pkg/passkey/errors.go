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
	"encoding/json"
	"errors"
	"fmt"
)

// Error origins. Every Problem carries exactly one.
const (
	// FromClient marks failures produced locally: unsupported environment,
	// authenticator failures, cancellation, codec mismatches.
	FromClient = "client"

	// FromServer marks non-success backend responses, passed through
	// verbatim.
	FromServer = "server"
)

// Machine-readable client error codes.
const (
	CodeUnknown                = "unknown"
	CodeFailedCreateCredential = "failed_create_credential"
	CodeFailedGetCredential    = "failed_get_credential"
	CodeAborted                = "aborted"
)

// Sentinel errors for synchronous environment assertions. These are
// returned before any ceremony work begins, so callers can gate UI without
// parsing a Problem.
var (
	// ErrBrowserUnsupported is returned when the environment has no
	// public-key credential capability at all.
	ErrBrowserUnsupported = errors.New("public-key credentials are not supported in this environment")

	// ErrAutofillUnsupported is returned by SigninWithAutofill when
	// conditional mediation is not available.
	ErrAutofillUnsupported = errors.New("autofill authentication is not supported in this environment")
)

// Problem is the normalized error shape for every failed ceremony. Client
// failures carry a machine-readable ErrorCode and a human Title; server
// failures preserve the backend's response body verbatim, with unknown
// fields retained in Extra.
type Problem struct {
	From      string
	ErrorCode string
	Title     string
	Status    int
	Detail    string

	// Extra holds server-supplied fields outside the known set.
	Extra map[string]any
}

// Error implements the error interface.
func (p *Problem) Error() string {
	if p.ErrorCode != "" {
		return fmt.Sprintf("%s error [%s]: %s", p.From, p.ErrorCode, p.Title)
	}
	return fmt.Sprintf("%s error: %s", p.From, p.Title)
}

// IsClient reports whether the failure originated locally.
func (p *Problem) IsClient() bool {
	return p.From == FromClient
}

// IsServer reports whether the failure is a backend response passthrough.
func (p *Problem) IsServer() bool {
	return p.From == FromServer
}

// MarshalJSON flattens known fields and Extra into one object.
func (p *Problem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+5)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["from"] = p.From
	if p.ErrorCode != "" {
		out["errorCode"] = p.ErrorCode
	}
	if p.Title != "" {
		out["title"] = p.Title
	}
	if p.Status != 0 {
		out["status"] = p.Status
	}
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	return json.Marshal(out)
}

// UnmarshalJSON captures known fields and preserves everything else in
// Extra so server bodies survive the round trip untouched.
func (p *Problem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	take := func(key string, dst any) {
		if v, ok := raw[key]; ok {
			if json.Unmarshal(v, dst) == nil {
				delete(raw, key)
			}
		}
	}
	take("from", &p.From)
	take("errorCode", &p.ErrorCode)
	take("title", &p.Title)
	take("status", &p.Status)
	take("detail", &p.Detail)

	if len(raw) > 0 {
		p.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			p.Extra[k] = val
		}
	}
	return nil
}

// AsProblem unwraps err to its *Problem, if it carries one.
func AsProblem(err error) (*Problem, bool) {
	var p *Problem
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// clientProblem builds a local Problem with the given code and title.
func clientProblem(code, title string) *Problem {
	return &Problem{
		From:      FromClient,
		ErrorCode: code,
		Title:     title,
	}
}

// Normalize collapses any failure value into a client Problem. The message
// is taken from the value's error or string form when it has one,
// otherwise from its JSON rendering, falling back to a plain format when
// even that fails. Normalize never panics.
func Normalize(v any) *Problem {
	return clientProblem(CodeUnknown, bestEffortMessage(v))
}

func bestEffortMessage(v any) string {
	switch m := v.(type) {
	case nil:
		return "unknown error"
	case error:
		return m.Error()
	case string:
		return m
	case fmt.Stringer:
		return m.String()
	}

	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}

	// Cyclic or otherwise unserializable values.
	return fmt.Sprintf("%v", v)
}
