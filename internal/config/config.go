// Package config holds the viper configuration singleton.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: ./ttr.yaml > ~/.config/ttr/config.yaml
	configFileSet := false
	if _, err := os.Stat("ttr.yaml"); err == nil {
		v.SetConfigFile("ttr.yaml")
		configFileSet = true
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "ttr", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over the config file.
	// E.g., TTR_DB, TTR_DEV_ENVIRONMENT, TTR_FOUNDATION_DOMAIN.
	v.SetEnvPrefix("TTR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "ttr.db")
	v.SetDefault("dev-environment", false)
	v.SetDefault("foundation-domain", "apache.org")
	v.SetDefault("archive-base-url", "https://lists.apache.org")
	v.SetDefault("incubator-list", "general@incubator.apache.org")
	v.SetDefault("automated-release-committees", []string{"tooling"})
	v.SetDefault("oidc-issuer", "https://token.actions.githubusercontent.com")
	v.SetDefault("oidc-audience", "")
	v.SetDefault("oidc-public-key-file", "")
	v.SetDefault("directory-file", "")
	v.SetDefault("log-file", "")
	v.SetDefault("log-level", "info")
	v.SetDefault("ephemeral-key-dir", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

func ensure() {
	if v == nil {
		_ = Initialize()
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	ensure()
	return v.GetString(key)
}

// GetBool returns a boolean config value.
func GetBool(key string) bool {
	ensure()
	return v.GetBool(key)
}

// GetInt returns an integer config value.
func GetInt(key string) int {
	ensure()
	return v.GetInt(key)
}

// GetStringSlice returns a string slice config value.
func GetStringSlice(key string) []string {
	ensure()
	return v.GetStringSlice(key)
}

// Set sets a config value at runtime. Used by flag binding and tests.
func Set(key string, value any) {
	ensure()
	v.Set(key, value)
}

// DevEnvironment reports whether the dev environment relaxations apply.
func DevEnvironment() bool {
	return GetBool("dev-environment")
}

// FoundationDomain returns the email domain whose local parts are account
// uids, apache.org by default.
func FoundationDomain() string {
	return GetString("foundation-domain")
}

// IncubatorList returns the incubator-wide voting list address.
func IncubatorList() string {
	return GetString("incubator-list")
}

// AutomatedReleaseCommittees returns the committees allowed to use trusted
// automation.
func AutomatedReleaseCommittees() []string {
	return GetStringSlice("automated-release-committees")
}
