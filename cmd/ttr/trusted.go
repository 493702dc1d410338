package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/interaction"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

var trustedCmd = &cobra.Command{
	Use:   "trusted",
	Short: "Trusted automation token operations",
}

var trustedVerifyCmd = &cobra.Command{
	Use:   "verify <compose|vote|finish>",
	Short: "Verify a workflow OIDC token and bind it to a project",
	Long: `Verifies a GitHub Actions OIDC token and checks that its workflow is
allowlisted for the given phase by some project's release policy. Prints
the bound project and account uid on success.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase := types.WorkflowPhase(args[0])
		switch phase {
		case types.WorkflowCompose, types.WorkflowVote, types.WorkflowFinish:
		default:
			return fmt.Errorf("phase must be compose, vote or finish, got %q", args[0])
		}

		tokenFile, _ := cmd.Flags().GetString("token-file")
		raw, err := os.ReadFile(tokenFile)
		if err != nil {
			return fmt.Errorf("failed to read token file: %w", err)
		}
		token := strings.TrimSpace(string(raw))

		claims, asfUID, project, err := orch.TrustedJWT(cmd.Context(), "github", token, phase)
		var missing *interaction.ApacheUserMissingError
		if errors.As(err, &missing) {
			return fmt.Errorf("no account is associated with %s", missing.Fingerprint)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]string{
				"project":      project.Name,
				"asf_uid":      asfUID,
				"repository":   claims.Repository,
				"workflow_ref": claims.WorkflowRef,
			})
			return nil
		}
		fmt.Printf("Token verified: %s acting as %s for project %s\n", claims.Repository, asfUID, project.Name)
		return nil
	},
}

func init() {
	trustedVerifyCmd.Flags().String("token-file", "", "File containing the OIDC token")
	_ = trustedVerifyCmd.MarkFlagRequired("token-file")
	trustedCmd.AddCommand(trustedVerifyCmd)
	rootCmd.AddCommand(trustedCmd)
}
