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

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var registerFlags struct {
	token    string
	nickname string
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new passkey credential",
	Long: `Runs a full registration ceremony: fetches creation options from the
backend, mints a credential on the software authenticator, and submits
the attestation for verification. Prints the resulting verification
token on success.

The registration token comes from your backend's user-provisioning
flow and identifies the user being enrolled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if registerFlags.token == "" {
			return errors.New("--token is required")
		}

		client, token, err := newClient()
		if err != nil {
			printProblem(err)
			return err
		}

		verified, err := client.Register(cmd.Context(), registerFlags.token, registerFlags.nickname)
		if err != nil {
			printProblem(err)
			return err
		}

		// Persist the new key material so later signin invocations can
		// service assertions for this credential.
		if err := token.SaveState(flags.keyStore); err != nil {
			return fmt.Errorf("save key store %s: %w", flags.keyStore, err)
		}

		fmt.Println(verified.Token)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerFlags.token, "token", "",
		"registration token identifying the user to enroll")
	registerCmd.Flags().StringVar(&registerFlags.nickname, "nickname", "",
		"friendly name for the new credential")
}
