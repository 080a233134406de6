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
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe authenticator capabilities",
	Long: `Reports whether the configured authenticator supports public-key
credentials, platform (user-verifying) authentication, and
conditional-mediation (autofill) sign-in.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			printProblem(err)
			return err
		}

		ctx := cmd.Context()

		fmt.Printf("browser supported:   %v\n", client.IsBrowserSupported())

		platform, err := client.IsPlatformSupported(ctx)
		if err != nil {
			printProblem(err)
			return err
		}
		fmt.Printf("platform supported:  %v\n", platform)

		autofill, err := client.IsAutofillSupported(ctx)
		if err != nil {
			printProblem(err)
			return err
		}
		fmt.Printf("autofill supported:  %v\n", autofill)

		return nil
	},
}
