package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/autoclient/internal/client"
	"github.com/mattjoyce/autoclient/internal/config"
	"github.com/mattjoyce/autoclient/internal/log"
)

// newWorkerCmd creates the hidden "autoclient worker" subcommand.
// It is started by the cluster master, never by hand: stdin and stdout
// carry the master protocol, so logs go to stderr.
func newWorkerCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:    "worker",
		Short:  "Run a cluster worker process",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			log.SetupWriter(cfg.Log.Level, os.Stderr)

			server, err := builtinHandlers()
			if err != nil {
				return fmt.Errorf("register handlers: %w", err)
			}
			return client.RunWorker(cmd.Context(), config.NewStore(cfg), server, client.WorkerOptions{
				In:  cmd.InOrStdin(),
				Out: cmd.OutOrStdout(),
			}, log.Get())
		},
	}
}
