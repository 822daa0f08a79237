package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-client/internal/business"
	"github.com/openkcm/session-client/internal/config"
)

var (
	BuildInfo = "{}"

	versionFlag = flag.Bool("version", false, "print version information")
)

func run(ctx context.Context) error {
	// Load Configuration
	defaultValues := map[string]any{}
	cfg := new(config.Config)

	err := commoncfg.LoadConfig(cfg, defaultValues, "/etc/session-client", "$HOME/.session-client", ".")
	if err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to load the configuration")
	}

	err = commoncfg.UpdateConfigVersion(&cfg.BaseConfig, BuildInfo)
	if err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to update the version configuration")
	}

	err = logger.InitAsDefault(cfg.Logger, cfg.Application)
	if err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to initialise the logger")
	}

	slogctx.Info(ctx, "Starting session keeper")

	return business.KeeperMain(ctx, cfg)
}

func main() {
	flag.Parse()

	if *versionFlag {
		value, err := utils.ExtractFromComplexValue(BuildInfo)
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		fmt.Println(value)
		os.Exit(0)
	}

	ctx, cancelOnSignal := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancelOnSignal()

	if err := run(ctx); err != nil {
		slogctx.Error(ctx, "Session keeper stopped", "error", err)
		cancelOnSignal()
		os.Exit(1)
	}
}
