// ttr coordinates release votes: starting vote threads, tabulating ballots
// from the mail archive, and resolving release phases.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrewmusselman/tooling-trusted-releases/internal/archive"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/config"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/directory"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/interaction"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/logging"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/storage/sqlite"
	"github.com/andrewmusselman/tooling-trusted-releases/internal/tabulate"
)

var (
	// Global flags
	dbPath     string
	jsonOutput bool
	logLevel   string

	logger *zap.Logger
	store  storage.Storage
	orch   *interaction.Orchestrator
)

var rootCmd = &cobra.Command{
	Use:   "ttr",
	Short: "Trusted release vote coordination",
	Long: `ttr manages the release vote lifecycle for foundation projects:
starting vote threads, tabulating ballots from the mail archive,
and moving releases between phases when votes resolve.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// version needs no config, logger or database
		if cmd.Name() == "version" {
			return nil
		}

		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if dbPath != "" {
			config.Set("db", dbPath)
		}
		if logLevel != "" {
			config.Set("log-level", logLevel)
		}

		var err error
		logger, err = logging.New(logging.Options{
			Level: config.GetString("log-level"),
			File:  config.GetString("log-file"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		store, err = sqlite.New(cmd.Context(), config.GetString("db"))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		orch, err = buildOrchestrator(store, logger)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// buildOrchestrator wires the archive, directory and verifier from
// configuration.
func buildOrchestrator(store storage.Storage, logger *zap.Logger) (*interaction.Orchestrator, error) {
	archiveClient := archive.NewHTTPClient(config.GetString("archive-base-url"), logger)

	var dir *directory.Static
	if path := config.GetString("directory-file"); path != "" {
		loaded, err := directory.FromFile(path)
		if err != nil {
			return nil, err
		}
		dir = loaded
	} else {
		dir = directory.NewStatic(nil)
	}

	var verifier interaction.TokenVerifier
	if keyPath := config.GetString("oidc-public-key-file"); keyPath != "" {
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read OIDC public key: %w", err)
		}
		publicKey, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse OIDC public key: %w", err)
		}
		verifier = interaction.NewGitHubVerifier(
			config.GetString("oidc-issuer"),
			config.GetString("oidc-audience"),
			func(*jwt.Token) (any, error) { return publicKey, nil },
		)
	}

	tabulator := tabulate.New(archiveClient, dir, config.FoundationDomain(), logger)
	return interaction.New(store, archiveClient, tabulator, dir, verifier, interaction.Config{
		DevEnvironment:             config.DevEnvironment(),
		ArchiveBaseURL:             config.GetString("archive-base-url"),
		IncubatorList:              config.IncubatorList(),
		FoundationDomain:           config.FoundationDomain(),
		AutomatedReleaseCommittees: config.AutomatedReleaseCommittees(),
	}, logger), nil
}

func outputJSON(value any) {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to encode JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
