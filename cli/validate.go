package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pulse-labs/pulse/bus"
	"github.com/pulse-labs/pulse/sched"
	"github.com/pulse-labs/pulse/server"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a config file without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return exitError(exitFileNotFound, "file not found: %s", path)
	}

	cfg, err := server.LoadConfig(path)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}

	// LoadConfig checks topics; cron expressions are only parsed when
	// registered, so dry-run them against a throwaway scheduler.
	if len(cfg.Schedules) > 0 {
		b := bus.New(bus.Config{Logger: slog.New(slog.DiscardHandler)})
		defer func() {
			_ = b.Close()
		}()
		scheduler := sched.New(b, slog.New(slog.DiscardHandler))
		for i, entry := range cfg.Schedules {
			if err := scheduler.Add(entry.Cron, entry.Topic, entry.Payload); err != nil {
				return exitError(exitConfig, "schedules[%d]: %v", i, err)
			}
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d schedule(s))\n", path, len(cfg.Schedules))
	return nil
}
