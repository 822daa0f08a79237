package business

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-client/internal/cmdutils"
	"github.com/openkcm/session-client/internal/config"
	"github.com/openkcm/session-client/pkg/session"
)

const (
	logoutTimeout         = 5 * time.Second
	defaultProbePath      = "/api/whoami"
	defaultKeeperInterval = time.Minute
)

var errNotAuthenticated = errors.New("session is not authenticated")

// KeeperMain keeps a session alive by probing protected endpoints on an
// interval. Expired credentials are renewed on the way; a lost session is
// re-established with the configured credentials.
func KeeperMain(ctx context.Context, cfg *config.Config) error {
	sessionManager, err := initSessionManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise the session manager: %w", err)
	}

	if err := establishSession(ctx, sessionManager, cfg.SessionClient.Credentials); err != nil {
		return fmt.Errorf("establishing a session: %w", err)
	}

	cmdutils.SetReadiness(ctx, sessionReadiness(sessionManager))

	if cfg.Keeper.LogoutOnExit {
		defer func() {
			logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
			defer cancel()

			if err := sessionManager.Logout(logoutCtx); err != nil {
				slogctx.Error(ctx, "Failed to log out", "error", err)
			}
		}()
	}

	paths := cfg.Keeper.ProbePaths
	if len(paths) == 0 {
		paths = []string{defaultProbePath}
		if cfg.SessionClient.Endpoints.WhoAmI != "" {
			paths = []string{cfg.SessionClient.Endpoints.WhoAmI}
		}
	}

	// Start the keeper loop
	c := time.Tick(keeperInterval(ctx, cfg.Keeper.Interval))
	for {
		if session.Guard(sessionManager.Snapshot()) == session.AccessDenied {
			slogctx.Info(ctx, "Session lost; logging in again")
			if err := login(ctx, sessionManager, cfg.SessionClient.Credentials); err != nil {
				return fmt.Errorf("re-establishing the session: %w", err)
			}
		}

		if err := probe(ctx, sessionManager, paths, cfg.Keeper.Concurrency); err != nil {
			slogctx.Error(ctx, "Error while probing the session", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

// keeperInterval falls back to the default for a non-positive interval,
// which time.Tick would turn into a channel that never fires.
func keeperInterval(ctx context.Context, interval time.Duration) time.Duration {
	if interval > 0 {
		return interval
	}

	slogctx.Warn(ctx, "Keeper interval must be positive; using the default",
		"interval", interval, "default", defaultKeeperInterval)

	return defaultKeeperInterval
}

// sessionReadiness reports the session as ready while it is authenticated.
func sessionReadiness(sessionManager *session.Manager) func(context.Context) error {
	return func(context.Context) error {
		if session.Guard(sessionManager.Snapshot()) != session.AccessGranted {
			return errNotAuthenticated
		}

		return nil
	}
}

// probe requests every path with at most limit requests in flight.
func probe(ctx context.Context, sessionManager *session.Manager, paths []string, limit int) error {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, path := range paths {
		g.Go(func() error {
			status, err := sessionManager.Probe(ctx, path)
			if err != nil {
				return fmt.Errorf("probing %s: %w", path, err)
			}

			slogctx.Debug(ctx, "Probed", "path", path, "status", status)

			return nil
		})
	}

	return g.Wait()
}
