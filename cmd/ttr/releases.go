package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

var releasesCmd = &cobra.Command{
	Use:   "releases <project>",
	Short: "List a project's releases",
	Long: `Lists releases of a project, newest version first. By default only
releases still moving through the vote lifecycle are shown; --all
includes finished releases.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		project, err := store.GetProject(ctx, args[0])
		if err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		var releases []*types.Release
		if all {
			releases, err = orch.AllReleases(ctx, project)
		} else {
			releases, err = orch.ReleasesInProgress(ctx, project)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(releases)
			return nil
		}
		if len(releases) == 0 {
			fmt.Printf("No releases found for %s\n", project.DisplayName())
			return nil
		}
		for _, release := range releases {
			line := fmt.Sprintf("%-20s %s", release.Version, release.Phase)
			if release.VoteStarted != nil {
				line += fmt.Sprintf("  (vote started %s)", release.VoteStarted.Format("2006-01-02"))
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	releasesCmd.Flags().Bool("all", false, "Include finished releases")
	rootCmd.AddCommand(releasesCmd)
}
