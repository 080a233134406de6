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
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config configures the passkey client. A Config is immutable once a
// Client has been constructed from it; every ceremony reads the same
// values.
type Config struct {
	// BaseURL is the backend base URL, e.g. "https://api.example.com".
	BaseURL string `env:"PASSKEY_API_URL"`

	// APIKey is the public tenant key sent on every request.
	APIKey string `env:"PASSKEY_API_KEY"`

	// RPID is the relying party identifier, typically the domain name.
	// Defaults to the hostname of Origin.
	RPID string `env:"PASSKEY_RP_ID"`

	// Origin is the origin identifier reported to the backend,
	// e.g. "https://example.com".
	Origin string `env:"PASSKEY_ORIGIN"`

	// Debug enables ceremony step tracing.
	Debug bool `env:"PASSKEY_DEBUG"`
}

// SetDefaults fills unset fields from the process environment and derives
// the relying party ID from the origin when only the origin is known.
// Explicitly configured values always win over the environment.
func (c *Config) SetDefaults() error {
	var fromEnv Config
	if err := env.Parse(&fromEnv); err != nil {
		return fmt.Errorf("read environment defaults: %w", err)
	}
	if c.BaseURL == "" {
		c.BaseURL = fromEnv.BaseURL
	}
	if c.APIKey == "" {
		c.APIKey = fromEnv.APIKey
	}
	if c.RPID == "" {
		c.RPID = fromEnv.RPID
	}
	if c.Origin == "" {
		c.Origin = fromEnv.Origin
	}
	if fromEnv.Debug {
		c.Debug = true
	}

	if c.RPID == "" && c.Origin != "" {
		u, err := url.Parse(c.Origin)
		if err != nil {
			return fmt.Errorf("derive RPID from origin: %w", err)
		}
		c.RPID = u.Hostname()
	}

	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("APIKey is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BaseURL must be an http or https URL")
	}
	if c.Origin == "" {
		return fmt.Errorf("Origin is required")
	}
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	return nil
}
