package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/autoclient/internal/config"
)

const redacted = "[REDACTED]"

// newConfigCmd creates the "autoclient config" command group.
func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(newConfigCheckCmd(flags), newConfigShowCmd(flags))
	return cmd
}

func newConfigCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			digest, err := config.ComputeBlake3Hash(flags.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %s %s\n", cfg.Name, cfg.Version)
			fmt.Fprintf(out, "  transports: ws=%t http=%t\n", cfg.WS.Enabled, cfg.HTTP.Enabled)
			if cfg.Cluster.Enabled {
				fmt.Fprintf(out, "  cluster: %d workers, %d concurrent each, backoff threshold %d\n",
					cfg.Cluster.Workers, cfg.Cluster.MaxConcurrentPerWorker, cfg.BackoffThreshold())
			}
			fmt.Fprintf(out, "  blake3: %s\n", digest)
			return nil
		},
	}
}

func newConfigShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(redactConfig(cfg))
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func redactConfig(cfg *config.Config) *config.Config {
	out := *cfg
	if out.APIKey != "" {
		out.APIKey = redacted
	}
	if out.HTTP.EventSecret != "" {
		out.HTTP.EventSecret = redacted
	}
	if len(cfg.HTTP.Auth.Tokens) > 0 {
		out.HTTP.Auth.Tokens = make([]config.Token, len(cfg.HTTP.Auth.Tokens))
		for i, tok := range cfg.HTTP.Auth.Tokens {
			out.HTTP.Auth.Tokens[i] = config.Token{Token: redacted, Scopes: tok.Scopes}
		}
	}
	return &out
}
