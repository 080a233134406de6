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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-passkey/pkg/passkey"
)

var signinFlags struct {
	userID string
	alias  string
}

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with a registered passkey",
	Long: `Runs a sign-in ceremony against the backend. With --user-id or
--alias the backend scopes the assertion to that user's credentials;
with neither, the authenticator is asked for a discoverable
credential. Prints the resulting verification token on success.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		selector, err := passkey.NewSelector(signinFlags.userID, signinFlags.alias, false)
		if err != nil {
			return err
		}

		client, token, err := newClient()
		if err != nil {
			printProblem(err)
			return err
		}

		verified, err := client.Signin(cmd.Context(), selector)
		if err != nil {
			printProblem(err)
			return err
		}

		// Keep the persisted sign counts monotonic across invocations.
		if err := token.SaveState(flags.keyStore); err != nil {
			return fmt.Errorf("save key store %s: %w", flags.keyStore, err)
		}

		fmt.Println(verified.Token)
		return nil
	},
}

func init() {
	signinCmd.Flags().StringVar(&signinFlags.userID, "user-id", "",
		"sign in as the user with this ID")
	signinCmd.Flags().StringVar(&signinFlags.alias, "alias", "",
		"sign in as the user with this alias")
}
