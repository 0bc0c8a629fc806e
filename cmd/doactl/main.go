// Command doactl administers the delegation-of-authority matrix and talks to
// a running spend approvals service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-spend-approvals/internal/app"
	"github.com/pesio-ai/be-spend-approvals/internal/config"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "doactl",
		Short: "Delegation-of-authority administration for spend approvals",
		Long: `doactl manages the approval rule matrix, previews approval chains and
drives spend requests on a running service.

Local commands read the same DB_* environment variables as the server.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if off, _ := cmd.Flags().GetBool("no-color"); off {
			color.NoColor = true
		}
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(rulesCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(requestsCmd())
	root.AddCommand(versionCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the doactl version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "doactl", version)
		},
	}
}

// loadConfig reads the environment and builds a stderr logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level, _ := cmd.Flags().GetString("log-level")
	log := logger.New(logger.Config{
		Level:       level,
		Environment: "production",
		ServiceName: "doactl",
		Version:     version,
		Output:      cmd.ErrOrStderr(),
	})
	return cfg, log, nil
}

// initServices opens the configured store and builds the services.
func initServices(cmd *cobra.Command) (*app.Services, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	svcs, err := app.NewServices(cmd.Context(), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return svcs, nil
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }

var (
	heading = color.New(color.Bold).SprintFunc()
	warn    = color.New(color.FgYellow)
)
