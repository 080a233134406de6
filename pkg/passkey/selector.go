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

import "errors"

// ErrAmbiguousSelector is returned when more than one selector
// discriminant is set. At most one of user ID and alias is ever sent to
// the backend, so a selector carrying both is a caller bug.
var ErrAmbiguousSelector = errors.New("sign-in selector must carry exactly one discriminant")

// selectorKind enumerates the sign-in selector variants.
type selectorKind int

const (
	selectDiscoverable selectorKind = iota
	selectUserID
	selectAlias
	selectAutofill
)

// Selector chooses how the backend narrows the candidate credential list
// for a sign-in ceremony. The zero value selects discoverable sign-in.
type Selector struct {
	kind   selectorKind
	userID string
	alias  string
}

// SelectorForID selects sign-in by user ID.
func SelectorForID(userID string) Selector {
	return Selector{kind: selectUserID, userID: userID}
}

// SelectorForAlias selects sign-in by alias.
func SelectorForAlias(alias string) Selector {
	return Selector{kind: selectAlias, alias: alias}
}

// SelectorDiscoverable selects discoverable sign-in: the backend supplies
// no candidate list and the authenticator offers any stored credential.
func SelectorDiscoverable() Selector {
	return Selector{kind: selectDiscoverable}
}

// SelectorAutofill selects autofill-mediated discoverable sign-in.
func SelectorAutofill() Selector {
	return Selector{kind: selectAutofill}
}

// NewSelector builds a selector from loose fields, enforcing that at most
// one discriminant is present. Empty fields with autofill false select
// discoverable sign-in.
func NewSelector(userID, alias string, autofill bool) (Selector, error) {
	set := 0
	if userID != "" {
		set++
	}
	if alias != "" {
		set++
	}
	if autofill {
		set++
	}
	if set > 1 {
		return Selector{}, ErrAmbiguousSelector
	}

	switch {
	case userID != "":
		return SelectorForID(userID), nil
	case alias != "":
		return SelectorForAlias(alias), nil
	case autofill:
		return SelectorAutofill(), nil
	default:
		return SelectorDiscoverable(), nil
	}
}

// beginFields returns the userID/alias pair for the begin request. Both
// are empty for discoverable and autofill sign-in.
func (s Selector) beginFields() (userID, alias string) {
	switch s.kind {
	case selectUserID:
		return s.userID, ""
	case selectAlias:
		return "", s.alias
	default:
		return "", ""
	}
}

// conditional reports whether retrieval should request autofill-style
// mediation.
func (s Selector) conditional() bool {
	return s.kind == selectAutofill
}
