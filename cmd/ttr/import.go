package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/types"
)

// seedFile is the shape of an import file: committees, projects and
// release policies, typically exported from the foundation directory.
type seedFile struct {
	Committees []*types.Committee     `json:"committees"`
	Projects   []*types.Project       `json:"projects"`
	Policies   []*types.ReleasePolicy `json:"policies"`
	Releases   []*types.Release       `json:"releases"`
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import committees, projects and policies from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}
		var seed seedFile
		if err := json.Unmarshal(raw, &seed); err != nil {
			return fmt.Errorf("failed to decode import file %s: %w", args[0], err)
		}

		ctx := cmd.Context()
		for _, committee := range seed.Committees {
			if err := store.CreateCommittee(ctx, committee); err != nil {
				return fmt.Errorf("failed to import committee %s: %w", committee.Name, err)
			}
		}
		for _, project := range seed.Projects {
			if err := store.CreateProject(ctx, project); err != nil {
				return fmt.Errorf("failed to import project %s: %w", project.Name, err)
			}
		}
		for _, policy := range seed.Policies {
			if err := store.SetReleasePolicy(ctx, policy); err != nil {
				return fmt.Errorf("failed to import policy for %s: %w", policy.ProjectName, err)
			}
		}
		for _, release := range seed.Releases {
			if release.Name == "" {
				release.Name = types.ReleaseName(release.ProjectName, release.Version)
			}
			if release.Phase == "" {
				release.Phase = types.PhaseCandidateDraft
			}
			if err := store.CreateRelease(ctx, release); err != nil {
				return fmt.Errorf("failed to import release %s: %w", release.Name, err)
			}
		}

		fmt.Printf("Imported %d committees, %d projects, %d policies, %d releases\n",
			len(seed.Committees), len(seed.Projects), len(seed.Policies), len(seed.Releases))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
