package cmdutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/openkcm/common-sdk/pkg/status"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-client/internal/config"
)

const (
	healthStatusTimeout = 5 * time.Second

	// ConfigDirFlag names the flag pointing at an extra directory searched
	// for config.yaml before the default locations.
	ConfigDirFlag = "config-dir"

	readinessCheckName = "session"
)

var ErrNotReady = errors.New("not ready")

// Readiness holds the check the status server answers readiness requests
// with. Until the business logic sets one, the service is not ready.
type Readiness struct {
	check atomic.Pointer[func(context.Context) error]
}

// Set replaces the readiness check.
func (r *Readiness) Set(check func(context.Context) error) {
	r.check.Store(&check)
}

// Check runs the current readiness check.
func (r *Readiness) Check(ctx context.Context) error {
	check := r.check.Load()
	if check == nil {
		return ErrNotReady
	}

	return (*check)(ctx)
}

type readinessKey struct{}

// WithReadiness makes r the target of SetReadiness calls made with ctx.
func WithReadiness(ctx context.Context, r *Readiness) context.Context {
	return context.WithValue(ctx, readinessKey{}, r)
}

// SetReadiness registers check with the status server started for ctx.
// Without a status server it does nothing.
func SetReadiness(ctx context.Context, check func(context.Context) error) {
	r, ok := ctx.Value(readinessKey{}).(*Readiness)
	if !ok {
		return
	}

	r.Set(check)
}

func CobraCommand(
	use, short, long, buildInfo string,
	wrapperFunc func(context.Context, func(context.Context, *config.Config) error, *config.Config) error,
	businessFunc func(context.Context, *config.Config) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// the flag is only defined when the root command carries it
			configDir, _ := cmd.Flags().GetString(ConfigDirFlag)

			cfg, err := loadConfig(buildInfo, configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			err = wrapperFunc(cmd.Context(), businessFunc, cfg)
			if err != nil {
				return fmt.Errorf("running %s: %w", use, err)
			}

			return nil
		},
	}
}

func RunAsService(ctx context.Context, fn func(context.Context, *config.Config) error, cfg *config.Config) error {
	return run(ctx, true, true, fn, cfg)
}

func RunAsJob(ctx context.Context, fn func(context.Context, *config.Config) error, cfg *config.Config) error {
	return run(ctx, false, false, fn, cfg)
}

func run(ctx context.Context, withTelemetry, withStatusServer bool, fn func(context.Context, *config.Config) error, cfg *config.Config) error {
	// LoggerConfig
	err := logger.InitAsDefault(cfg.Logger, cfg.Application)
	if err != nil {
		return oops.In("main").
			Wrapf(err, "Failed to initialise the logger")
	}
	slogctx.Debug(ctx, "Starting the application", slog.Any("config", cfg))

	// OpenTelemetry
	if withTelemetry {
		err = otlp.Init(ctx, &cfg.Application, &cfg.Telemetry, &cfg.Logger)
		if err != nil {
			return oops.In("main").Wrapf(err, "Failed to load the telemetry")
		}
	}

	// Status Server
	if withStatusServer {
		readiness := &Readiness{}
		ctx = WithReadiness(ctx, readiness)

		go func() {
			err := startStatusServer(ctx, cfg, readiness)
			if err != nil {
				slogctx.Error(ctx, "Failure on the status server", "error", err)
				_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			}
		}()
	}

	// Business Logic
	err = fn(ctx, cfg)
	if err != nil {
		return oops.In("main").Wrapf(err, "Failed to start the main business application")
	}

	return nil
}

func loadConfig(buildInfo, configDir string) (*config.Config, error) {
	defaultValues := map[string]any{}
	cfg := &config.Config{}

	paths := []string{"/etc/session-client", "$HOME/.session-client", "."}
	if configDir != "" {
		paths = append([]string{configDir}, paths...)
	}

	err := commoncfg.LoadConfig(cfg, defaultValues, paths...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	// Update Version
	err = commoncfg.UpdateConfigVersion(
		&cfg.BaseConfig,
		buildInfo,
	)
	if err != nil {
		return nil, fmt.Errorf("updating the version configuration: %w", err)
	}

	return cfg, nil
}

func startStatusServer(ctx context.Context, cfg *config.Config, readiness *Readiness) error {
	liveness := status.WithLiveness(
		health.NewHandler(
			health.NewChecker(health.WithDisabledAutostart()),
		),
	)

	readinessProbe := status.WithReadiness(
		health.NewHandler(
			health.NewChecker(readinessOptions(readiness)...),
		),
	)

	err := status.Start(ctx, &cfg.BaseConfig, liveness, readinessProbe)
	if err != nil {
		return fmt.Errorf("starting status server: %w", err)
	}

	return nil
}

// readinessOptions configure a checker that is up only while the readiness
// check passes. Results are not cached so the endpoint follows the session.
func readinessOptions(readiness *Readiness) []health.Option {
	return []health.Option{
		health.WithDisabledAutostart(),
		health.WithDisabledCache(),
		health.WithTimeout(healthStatusTimeout),
		health.WithStatusListener(statusListener),
		health.WithCheck(health.Check{
			Name:  readinessCheckName,
			Check: readiness.Check,
		}),
	}
}

func statusListener(ctx context.Context, state health.State) {
	attrs := make([]any, 0, 2*len(state.CheckState)+2)
	attrs = append(attrs, "status", state.Status)
	for name, check := range state.CheckState {
		attrs = append(attrs, name, check.Status)
	}

	slogctx.Info(ctx, "readiness status changed", attrs...)
}
