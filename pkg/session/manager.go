package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/net/publicsuffix"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-client/internal/config"
	"github.com/openkcm/session-client/internal/serviceerr"
)

const (
	defaultLoginPath   = "/api/login"
	defaultRefreshPath = "/api/refresh"
	defaultLogoutPath  = "/api/logout"
	defaultWhoAmIPath  = "/api/whoami"

	defaultIdentityTTL = time.Minute
)

// Manager owns the client-side session: the in-memory credential, its
// renewal and the HTTP client every API call goes through.
type Manager struct {
	state      *State
	renewer    *Renewer
	client     *http.Client
	jar        http.CookieJar
	identities *cache.Cache

	baseURL     *url.URL
	loginURL    string
	logoutURL   string
	whoamiURL   string
	refreshPath string

	rehydrate sync.Once
}

// NewManager builds a session manager for cfg. base is the transport that
// actually talks to the network; nil means http.DefaultTransport.
func NewManager(cfg *config.SessionClient, base http.RoundTripper) (*Manager, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", cfg.BaseURL)
	}

	m := &Manager{
		state:       NewState(),
		baseURL:     baseURL,
		refreshPath: orDefault(cfg.Endpoints.Refresh, defaultRefreshPath),
	}

	refreshURL := baseURL.JoinPath(m.refreshPath).String()
	m.loginURL = baseURL.JoinPath(orDefault(cfg.Endpoints.Login, defaultLoginPath)).String()
	m.logoutURL = baseURL.JoinPath(orDefault(cfg.Endpoints.Logout, defaultLogoutPath)).String()
	m.whoamiURL = baseURL.JoinPath(orDefault(cfg.Endpoints.WhoAmI, defaultWhoAmIPath)).String()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	m.jar = jar

	reference, err := config.LoadSessionReference(cfg.SessionReference)
	if err != nil {
		return nil, err
	}
	if reference != nil {
		jar.SetCookies(baseURL, []*http.Cookie{reference})
	}

	// the renewer uses the same client so the renewal call passes through
	// the transport like every other request
	m.client = &http.Client{Timeout: cfg.RequestTimeout}

	m.renewer, err = NewRenewer(m.client, refreshURL, m.state, cfg.RenewalTimeout)
	if err != nil {
		return nil, fmt.Errorf("creating renewer: %w", err)
	}

	transport, err := NewTransport(base, m.state, m.renewer,
		WithCookieJar(jar),
		WithRenewalPath(m.refreshPath),
		WithAPIHost(baseURL.Host),
	)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	m.client.Transport = transport

	ttl := cfg.IdentityCacheTTL
	if ttl <= 0 {
		ttl = defaultIdentityTTL
	}
	m.identities = cache.New(ttl, 2*ttl)

	m.state.Subscribe(func(s Snapshot) {
		if !s.Authenticated() {
			m.identities.Flush()
		}
	})

	return m, nil
}

// State returns the shared session state.
func (m *Manager) State() *State {
	return m.state
}

// Snapshot returns a consistent copy of the session state.
func (m *Manager) Snapshot() Snapshot {
	return m.state.Snapshot()
}

// SetCredential stores value as the access credential. The empty string
// clears it.
func (m *Manager) SetCredential(value string) {
	m.state.SetCredential(value)
}

// Client returns the HTTP client carrying and renewing the credential.
func (m *Manager) Client() *http.Client {
	return m.client
}

// SessionReference returns the cookies the jar sends to the API.
func (m *Manager) SessionReference() []*http.Cookie {
	return m.jar.Cookies(m.baseURL)
}

// Renew renews the credential, sharing an in-flight renewal if any.
func (m *Manager) Renew(ctx context.Context) (string, error) {
	return m.renewer.Renew(ctx)
}

// Rehydrate tries once to restore the session from the session reference
// held by the cookie jar. Whatever the outcome, loading is over afterwards.
// Later calls are no-ops.
func (m *Manager) Rehydrate(ctx context.Context) {
	m.rehydrate.Do(func() {
		defer m.state.finishLoading()

		if _, err := m.renewer.Renew(ctx); err != nil {
			slogctx.Info(ctx, "No session could be rehydrated", "error", err)
			return
		}

		slogctx.Info(ctx, "Rehydrated the session")
	})
}

// Await blocks until loading is over and returns the settled state.
func (m *Manager) Await(ctx context.Context) (Snapshot, error) {
	select {
	case <-m.state.Ready():
		return m.state.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Login exchanges username and password for a credential and stores it.
// The server answers with the session reference cookie as well.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(WithoutRecovery(ctx), http.MethodPost, m.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return serviceerr.ErrInvalidCredentials
	}
	if !successful(resp.StatusCode) {
		return fmt.Errorf("%w: login endpoint returned status %d",
			serviceerr.FromHTTPStatus(resp.StatusCode), resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("%w: decoding login response: %w", serviceerr.ErrInvalidResponse, err)
	}
	token, err := tokens.credential()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	m.state.SetCredential(token)
	slogctx.Info(ctx, "Logged in", "username", username)

	return nil
}

// Logout revokes the server-side session. The local credential is cleared
// regardless of the outcome.
func (m *Manager) Logout(ctx context.Context) error {
	defer m.state.SetCredential("")

	req, err := http.NewRequestWithContext(WithoutRecovery(ctx), http.MethodPost, m.logoutURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating logout request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing logout request: %w", err)
	}
	defer resp.Body.Close()

	if !successful(resp.StatusCode) {
		return fmt.Errorf("%w: logout endpoint returned status %d",
			serviceerr.FromHTTPStatus(resp.StatusCode), resp.StatusCode)
	}

	slogctx.Info(ctx, "Logged out")

	return nil
}

// WhoAmI returns the identity behind the current credential. Answers are
// cached per credential.
func (m *Manager) WhoAmI(ctx context.Context) (Identity, error) {
	if credential, ok := m.state.Credential(); ok {
		if cached, found := m.identities.Get(credential); found {
			//nolint:forcetypeassert
			return cached.(Identity), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.whoamiURL, http.NoBody)
	if err != nil {
		return Identity{}, fmt.Errorf("creating whoami request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("executing whoami request: %w", err)
	}
	defer resp.Body.Close()

	if !successful(resp.StatusCode) {
		return Identity{}, fmt.Errorf("%w: whoami endpoint returned status %d",
			serviceerr.FromHTTPStatus(resp.StatusCode), resp.StatusCode)
	}

	var msg messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return Identity{}, fmt.Errorf("%w: decoding whoami response: %w", serviceerr.ErrInvalidResponse, err)
	}

	identity := Identity{Username: msg.Message}

	// the request may have renewed the credential, so key by the current one
	if credential, ok := m.state.Credential(); ok {
		m.identities.Set(credential, identity, cache.DefaultExpiration)
	}

	return identity, nil
}

// Probe issues a GET to path relative to the base URL and reports the
// response status. It is used to keep a session warm.
func (m *Manager) Probe(ctx context.Context, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL.JoinPath(path).String(), http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("creating probe request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing probe request: %w", err)
	}
	discard(resp)

	if !successful(resp.StatusCode) {
		return resp.StatusCode, fmt.Errorf("%w: probe returned status %d",
			serviceerr.FromHTTPStatus(resp.StatusCode), resp.StatusCode)
	}

	return resp.StatusCode, nil
}

// IsUnauthenticated reports whether err means the session is gone and a new
// login is required.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, serviceerr.ErrRenewalFailed) || errors.Is(err, serviceerr.ErrUnauthorized)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
