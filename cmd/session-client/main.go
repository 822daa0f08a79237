package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-client/cmd/session-client/keeper"
	"github.com/openkcm/session-client/cmd/session-client/logout"
	"github.com/openkcm/session-client/cmd/session-client/whoami"
	"github.com/openkcm/session-client/internal/cmdutils"
)

var (
	// BuildInfo will be set by the build system
	BuildInfo = "{}"

	gracefulShutdown time.Duration
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build information",
		Annotations: map[string]string{
			skipShutdownDelay: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := utils.ExtractFromComplexValue(BuildInfo)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)

			return err
		},
	}
}

// skipShutdownDelay marks commands that exit without the graceful shutdown
// delay.
const skipShutdownDelay = "skip-shutdown-delay"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "session-client",
		Short:        "Session Client",
		Long:         "Session Client keeps an access credential in memory and renews it transparently.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().DurationVar(&gracefulShutdown, "graceful-shutdown", 1*time.Second, "graceful shutdown")
	cmd.PersistentFlags().String(cmdutils.ConfigDirFlag, "", "directory searched first for config.yaml")

	cmd.AddCommand(
		versionCmd(),
		keeper.Cmd(BuildInfo),
		whoami.Cmd(BuildInfo),
		logout.Cmd(BuildInfo),
	)

	return cmd
}

func execute() error {
	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancelOnSignal()

	executed, err := rootCmd().ExecuteContextC(ctx)
	if err != nil {
		slogctx.Error(ctx, "failed to start the application", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)

		return err
	}

	if executed.Annotations[skipShutdownDelay] == "" {
		_, _ = fmt.Fprintf(os.Stderr, "Graceful shutdown in %s\n", gracefulShutdown)
		time.Sleep(gracefulShutdown)
	}

	return nil
}

func main() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}
