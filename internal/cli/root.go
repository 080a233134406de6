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

// Package cli implements the passkey command-line interface. The CLI
// drives registration and sign-in ceremonies against a passkey backend
// using an in-process software authenticator, which makes it useful for
// exercising a backend tenant without a browser.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passkey/pkg/authenticator"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

var flags struct {
	apiURL   string
	apiKey   string
	rpID     string
	origin   string
	keyStore string
	debug    bool
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "passkey",
	Short: "passkey CLI - passwordless ceremony client",
	Long: `passkey drives WebAuthn registration and sign-in ceremonies against
a passkey relying-party backend using a software authenticator.
Credential key material persists in the key store file, so a
credential enrolled with "passkey register" signs in with
"passkey signin" in later invocations.

Configuration may also come from the environment:
  PASSKEY_API_URL, PASSKEY_API_KEY, PASSKEY_RP_ID, PASSKEY_ORIGIN`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.apiURL, "api-url", "",
		"backend base URL")
	rootCmd.PersistentFlags().StringVar(&flags.apiKey, "api-key", "",
		"public tenant key")
	rootCmd.PersistentFlags().StringVar(&flags.rpID, "rp-id", "",
		"relying party ID (default: origin hostname)")
	rootCmd.PersistentFlags().StringVar(&flags.origin, "origin", "",
		"origin identifier presented to the backend")
	rootCmd.PersistentFlags().StringVar(&flags.keyStore, "key-store", defaultKeyStore(),
		"file holding the software authenticator's credentials")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false,
		"enable ceremony step tracing")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(signinCmd)
}

// newClient builds a passkey client from flags and the environment,
// alongside the software authenticator restored from the key store.
// Zero-valued config fields fall back to the PASSKEY_* environment
// variables in SetDefaults, so a flag wins when both are set.
func newClient() (*passkey.Client, *authenticator.SoftToken, error) {
	cfg := &passkey.Config{
		BaseURL: flags.apiURL,
		APIKey:  flags.apiKey,
		RPID:    flags.rpID,
		Origin:  flags.origin,
		Debug:   flags.debug,
	}
	if err := cfg.SetDefaults(); err != nil {
		return nil, nil, err
	}

	token, err := authenticator.NewSoftToken(cfg.Origin)
	if err != nil {
		return nil, nil, err
	}
	if err := token.LoadState(flags.keyStore); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("load key store %s: %w", flags.keyStore, err)
	}

	client, err := passkey.New(cfg, passkey.WithAuthenticator(token))
	if err != nil {
		return nil, nil, err
	}
	return client, token, nil
}

// defaultKeyStore places the credential file under the user's home
// directory, falling back to the working directory.
func defaultKeyStore() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".passkey", "softtoken.json")
	}
	return "softtoken.json"
}

// printProblem renders a normalized ceremony error with its origin and
// code so backend rejections are distinguishable from local failures.
func printProblem(err error) {
	if p, ok := passkey.AsProblem(err); ok {
		fmt.Fprintf(os.Stderr, "error [%s/%s]: %s\n", p.From, p.ErrorCode, p.Title)
		if p.Detail != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", p.Detail)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
