package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/autoclient/internal/client"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/log"
	"github.com/mattjoyce/autoclient/internal/websocket"
)

// newRunCmd creates the "autoclient run" subcommand.
func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the client in the foreground",
		Long: `Registers the built-in handlers with the backend and serves commands and
events until interrupted. With cluster.enabled the handlers run in worker
processes started from this executable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			log.Setup(cfg.Log.Level)

			server, err := builtinHandlers()
			if err != nil {
				return fmt.Errorf("register handlers: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := client.New(config.NewStore(cfg), server, client.Options{
				ConfigPath: flags.configPath,
			}, log.Get())
			if err := c.Run(ctx); err != nil {
				if errors.Is(err, websocket.ErrFatalRegistration) {
					return fmt.Errorf("backend rejected registration, check api_key and workspace_ids: %w", err)
				}
				return err
			}
			log.Info("autoclient stopped")
			return nil
		},
	}
}
