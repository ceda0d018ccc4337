package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orrn/printdesk/internal/config"
)

var version = "dev"

// BuildCLI assembles the printdesk command tree.
func BuildCLI() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "printdesk",
		Short:        "printdesk: a shared-printer job service with monthly paper quotas",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "printdesk.yaml", "config file path (YAML, or TOML for .toml)")

	load := func() (*config.Config, error) {
		return loadConfig(configFile)
	}

	rootCmd.AddCommand(buildServeCommand(load))
	rootCmd.AddCommand(buildUserCommand(load))
	rootCmd.AddCommand(buildReconcileCommand(load))

	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
