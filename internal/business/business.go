package business

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-client/internal/config"
	"github.com/openkcm/session-client/pkg/session"
)

const (
	clientAuthDefault  = "default"
	clientAuthMTLS     = "mtls"
	clientAuthInsecure = "insecure"
)

var ErrUnknownClientAuth = errors.New("unknown client auth type")

// out receives the command results meant for the user.
var out io.Writer = os.Stdout

// WhoAmIMain establishes a session and prints the identity behind it.
func WhoAmIMain(ctx context.Context, cfg *config.Config) error {
	sessionManager, err := initSessionManager(cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	if err := establishSession(ctx, sessionManager, cfg.SessionClient.Credentials); err != nil {
		return fmt.Errorf("establishing a session: %w", err)
	}

	identity, err := sessionManager.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("looking up the identity: %w", err)
	}

	_, _ = fmt.Fprintln(out, identity.Username)

	return nil
}

// LogoutMain revokes the session that can be rehydrated, if any.
func LogoutMain(ctx context.Context, cfg *config.Config) error {
	sessionManager, err := initSessionManager(cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	if len(sessionManager.SessionReference()) == 0 {
		slogctx.Info(ctx, "No session reference held; nothing to log out from")
		return nil
	}

	sessionManager.Rehydrate(ctx)

	snapshot, err := sessionManager.Await(ctx)
	if err != nil {
		return err
	}

	if session.Guard(snapshot) != session.AccessGranted {
		slogctx.Info(ctx, "No active session to log out from")
		return nil
	}

	return sessionManager.Logout(ctx)
}

// establishSession restores the session from the session reference and logs
// in with the configured credentials when nothing could be restored.
func establishSession(ctx context.Context, sessionManager *session.Manager, creds config.Credentials) error {
	sessionManager.Rehydrate(ctx)

	snapshot, err := sessionManager.Await(ctx)
	if err != nil {
		return err
	}

	if session.Guard(snapshot) == session.AccessGranted {
		return nil
	}

	return login(ctx, sessionManager, creds)
}

func login(ctx context.Context, sessionManager *session.Manager, creds config.Credentials) error {
	username, password, err := config.LoadCredentials(creds)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	return sessionManager.Login(ctx, username, password)
}

func initSessionManager(cfg *config.Config) (*session.Manager, error) {
	base, err := loadBaseTransport(&cfg.SessionClient.ClientAuth)
	if err != nil {
		return nil, fmt.Errorf("loading base transport: %w", err)
	}

	sessionManager, err := session.NewManager(&cfg.SessionClient, base)
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	return sessionManager, nil
}

// loadBaseTransport returns the transport the session transport sends
// through.
func loadBaseTransport(cfg *config.ClientAuth) (http.RoundTripper, error) {
	switch cfg.Type {
	case clientAuthDefault, "":
		return http.DefaultTransport, nil
	case clientAuthMTLS:
		if cfg.MTLS == nil {
			return nil, errors.New("mtls client auth requires an mtls section")
		}

		tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading mTLS config: %w", err)
		}

		transport := cloneDefaultTransport()
		transport.TLSClientConfig = tlsConfig

		return transport, nil
	case clientAuthInsecure:
		transport := cloneDefaultTransport()
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec
		}

		return transport, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClientAuth, cfg.Type)
	}
}

func cloneDefaultTransport() *http.Transport {
	//nolint:forcetypeassert
	return http.DefaultTransport.(*http.Transport).Clone()
}
