package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/archive"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/config"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/interaction"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

var (
	voteUID      string
	voteFullname string
)

var voteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Start, tabulate and resolve release votes",
}

var voteStartCmd = &cobra.Command{
	Use:   "start <project> <version>",
	Short: "Promote a candidate draft and start its vote thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectName, version := args[0], args[1]
		ctx := cmd.Context()

		release, err := store.GetRelease(ctx, types.ReleaseName(projectName, version))
		if err != nil {
			return err
		}

		emailTo, _ := cmd.Flags().GetString("email-to")
		duration, _ := cmd.Flags().GetInt("duration")
		subject, _ := cmd.Flags().GetString("subject")
		bodyFile, _ := cmd.Flags().GetString("body-file")

		permitted, err := permittedRecipients(ctx, release)
		if err != nil {
			return err
		}
		if emailTo == "" {
			if len(permitted) == 0 {
				return fmt.Errorf("no permitted mailing list for %s, use --email-to", release.Name)
			}
			emailTo = permitted[0]
		}

		displayName := projectName
		if release.Project != nil {
			displayName = release.Project.DisplayName()
		}
		if subject == "" {
			subject = fmt.Sprintf("[VOTE] Release %s %s", displayName, version)
		}
		body, err := readBody(bodyFile)
		if err != nil {
			return err
		}

		err = orch.StartVote(ctx, interaction.StartVoteRequest{
			ProjectName:         projectName,
			VersionName:         version,
			RevisionNumber:      release.LatestRevisionNumber,
			EmailTo:             emailTo,
			PermittedRecipients: permitted,
			VoteDuration:        duration,
			Subject:             subject,
			Body:                body,
			Promote:             true,
			Session:             session(),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Vote started for %s %s, thread will go to %s\n", displayName, version, emailTo)
		return nil
	},
}

var voteTabulateCmd = &cobra.Command{
	Use:   "tabulate <project> <version>",
	Short: "Tabulate the vote thread and print a resolution draft",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectName, version := args[0], args[1]
		ctx := cmd.Context()

		release, err := store.GetRelease(ctx, types.ReleaseName(projectName, version))
		if err != nil {
			return err
		}

		threadID, err := voteThreadID(ctx, cmd, release)
		if err != nil {
			return err
		}

		tabulated, err := orch.Tabulate(ctx, release, threadID, session())
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"votes":   tabulated.Votes.All(),
				"summary": tabulated.Summary,
				"passed":  tabulated.Passed,
				"outcome": tabulated.Outcome,
			})
			return nil
		}

		for _, vote := range tabulated.Votes.All() {
			line := fmt.Sprintf("%s %s (%s)", vote.Vote.Symbol(), vote.ASFUIDOrEmail, vote.Status)
			if vote.Updated {
				line += " [updated]"
			}
			fmt.Println(line)
		}
		fmt.Println()
		fmt.Println(tabulated.Outcome)
		fmt.Println()
		fmt.Println(tabulated.ResolutionDraft)
		return nil
	},
}

var voteResolveCmd = &cobra.Command{
	Use:   "resolve <project> <version> <passed|failed>",
	Short: "Apply a vote result and move the release phase",
	Long: `Applies a vote result to a candidate release.

A passing vote moves the release to the preview phase. A passing podling
vote instead records the PPMC round and automatically starts the
Incubator PMC vote; resolving again after that round moves the phase. A
failing vote returns the release to the candidate draft phase.

The resolution email body is read from --body-file, or rendered from the
vote thread when the flag is omitted.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectName, version := args[0], args[1]
		result := interaction.VoteResult(args[2])
		if result != interaction.VotePassed && result != interaction.VoteFailed {
			return fmt.Errorf("result must be passed or failed, got %q", args[2])
		}
		ctx := cmd.Context()

		release, err := store.GetRelease(ctx, types.ReleaseName(projectName, version))
		if err != nil {
			return err
		}

		bodyFile, _ := cmd.Flags().GetString("body-file")
		body := ""
		if bodyFile != "" {
			raw, err := os.ReadFile(bodyFile)
			if err != nil {
				return fmt.Errorf("failed to read body file: %w", err)
			}
			body = string(raw)
		} else {
			threadID, err := voteThreadID(ctx, cmd, release)
			if err != nil {
				return err
			}
			tabulated, err := orch.Tabulate(ctx, release, threadID, session())
			if err != nil {
				return err
			}
			body = tabulated.ResolutionDraft
		}

		req := interaction.ResolveRequest{
			ProjectName: projectName,
			VersionName: version,
			Result:      result,
			Body:        body,
			Session:     session(),
		}

		voteThreadURL, _ := cmd.Flags().GetString("vote-thread")
		resultThreadURL, _ := cmd.Flags().GetString("result-thread")

		var resolution *interaction.Resolution
		if voteThreadURL != "" || resultThreadURL != "" {
			resolution, err = orch.ResolveManual(ctx, req, voteThreadURL, resultThreadURL)
		} else {
			resolution, err = orch.Resolve(ctx, req)
		}
		if err != nil {
			return err
		}

		fmt.Println(resolution.Message)
		if resolution.Warning != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", resolution.Warning)
		}
		fmt.Printf("Release %s is now in phase %s\n", resolution.Release.Name, resolution.Release.Phase)
		return nil
	},
}

// permittedRecipients returns the mailing lists a vote announcement may go
// to: the project's configured mailto addresses, or its dev list.
func permittedRecipients(ctx context.Context, release *types.Release) ([]string, error) {
	if release.Project != nil && release.Project.ReleasePolicy != nil {
		if addresses := release.Project.ReleasePolicy.MailtoAddresses; len(addresses) > 0 {
			return addresses, nil
		}
	}
	committee := release.Committee()
	if committee == nil {
		return nil, fmt.Errorf("release %s has no associated committee", release.Name)
	}
	return []string{fmt.Sprintf("dev@%s.%s", committee.Name, config.FoundationDomain())}, nil
}

// voteThreadID resolves the archive thread of the release's current vote,
// from --thread or the latest finished vote task.
func voteThreadID(ctx context.Context, cmd *cobra.Command, release *types.Release) (string, error) {
	if thread, _ := cmd.Flags().GetString("thread"); thread != "" {
		// Accept either a bare thread id or a full archive URL.
		if strings.Contains(thread, "/") {
			return archive.ThreadIDFromURL(thread), nil
		}
		return thread, nil
	}
	url := orch.VoteThreadURL(ctx, release)
	if url == "" {
		return "", fmt.Errorf("no vote thread found for %s, use --thread", release.Name)
	}
	return archive.ThreadIDFromURL(url), nil
}

func session() interaction.Session {
	return interaction.Session{UID: voteUID, FullName: voteFullname}
}

func init() {
	voteCmd.PersistentFlags().StringVar(&voteUID, "uid", "", "Foundation account uid of the caller")
	voteCmd.PersistentFlags().StringVar(&voteFullname, "fullname", "", "Full name of the caller, used in signatures")

	voteStartCmd.Flags().String("email-to", "", "Mailing list to send the vote to (default: first permitted list)")
	voteStartCmd.Flags().Int("duration", 72, "Announced vote duration in hours")
	voteStartCmd.Flags().String("subject", "", "Vote email subject (default: [VOTE] Release <project> <version>)")
	voteStartCmd.Flags().String("body-file", "", "File containing the vote email body")

	voteTabulateCmd.Flags().String("thread", "", "Archive thread id or URL (default: latest vote task)")

	voteResolveCmd.Flags().String("thread", "", "Archive thread id or URL (default: latest vote task)")
	voteResolveCmd.Flags().String("body-file", "", "File containing the resolution email body")
	voteResolveCmd.Flags().String("vote-thread", "", "Archive URL of a manually run vote thread")
	voteResolveCmd.Flags().String("result-thread", "", "Archive URL of a manually run result thread")

	voteCmd.AddCommand(voteStartCmd)
	voteCmd.AddCommand(voteTabulateCmd)
	voteCmd.AddCommand(voteResolveCmd)
	rootCmd.AddCommand(voteCmd)
}

func readBody(bodyFile string) (string, error) {
	if bodyFile == "" {
		return "", fmt.Errorf("a vote body is required, use --body-file")
	}
	raw, err := os.ReadFile(bodyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read body file: %w", err)
	}
	return string(raw), nil
}
