package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/switchboard/pkg/cli"
	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/relay"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file with environment overrides applied and report
every validation problem. Boilerplate patterns are compiled as well.

Examples:
  # Validate the default config.yaml
  switchboard validate

  # Validate a specific file
  switchboard validate --config /etc/switchboard/config.yaml`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(out, "✗ %s has %d problem(s):\n", cfgFile, len(verr.Errors))
			for _, fe := range verr.Errors {
				fmt.Fprintf(out, "  - %s: %s\n", fe.Field, fe.Message)
			}
		}
		return err
	}

	if _, err := relay.NewShaper(cfg.Relay.BoilerplatePatterns); err != nil {
		return cli.NewConfigError("relay.boilerplate_patterns", err.Error())
	}

	fmt.Fprintf(out, "✓ %s is valid\n", cfgFile)
	if verbose {
		fmt.Fprintf(out, "  listen address:  %s\n", cfg.Server.ListenAddress)
		fmt.Fprintf(out, "  stream path:     %s\n", cfg.Server.StreamPath)
		fmt.Fprintf(out, "  upstream:        %s (%s)\n", cfg.Upstream.Name, cfg.Upstream.BaseURL)
		fmt.Fprintf(out, "  conversation store: %s\n", cfg.Conversation.Store)
	}
	return nil
}

// loadConfig loads a configuration file without touching the process-wide
// singleton.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, &cli.ConfigError{Message: err.Error(), Err: err}
	}
	return cfg, nil
}
