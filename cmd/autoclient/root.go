package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/autoclient/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

// newRootCmd creates the root autoclient command with all subcommands attached.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "autoclient",
		Short: "Automation client runtime",
		Long: "autoclient connects command and event handlers to the automation backend\n" +
			"over WebSocket and HTTP, optionally spreading work across worker processes.",
		Version:       fmt.Sprintf("autoclient %s", currentVersionInfo().Version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(flags),
		newWorkerCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)

	return cmd
}

// load resolves the configuration. Without --config the defaults are used.
func (f *globalFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath == "" {
		cfg = config.Defaults()
	} else if cfg, err = config.Load(f.configPath); err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	return cfg, nil
}
