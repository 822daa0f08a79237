package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"go.opentelemetry.io/otel"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-client/internal/serviceerr"
)

// drainLimit bounds how much of a discarded 401 body is read so the
// connection can be reused.
const drainLimit = 4 << 10

// CredentialRenewer renews the access credential. *Renewer satisfies it.
type CredentialRenewer interface {
	Renew(ctx context.Context) (string, error)
}

// Transport is an http.RoundTripper that attaches the current credential and
// the session cookies to every request and recovers from an authorization
// failure by renewing the credential and re-issuing the request once.
type Transport struct {
	base        http.RoundTripper
	state       *State
	renewer     CredentialRenewer
	jar         http.CookieJar
	renewalPath string
	apiHost     string

	metrics *metrics
}

var _ http.RoundTripper = (*Transport)(nil)

type TransportOption func(*Transport)

// WithCookieJar makes the transport carry the jar's cookies on every request
// and store the cookies set by responses.
func WithCookieJar(jar http.CookieJar) TransportOption {
	return func(t *Transport) { t.jar = jar }
}

// WithRenewalPath identifies the renewal call by the suffix of its URL path.
// A failed renewal call is never recovered.
func WithRenewalPath(path string) TransportOption {
	return func(t *Transport) { t.renewalPath = path }
}

// WithAPIHost restricts the credential to requests for host. Requests to
// any other host, redirects included, are sent without it.
func WithAPIHost(host string) TransportOption {
	return func(t *Transport) { t.apiHost = host }
}

func NewTransport(base http.RoundTripper, state *State, renewer CredentialRenewer, opts ...TransportOption) (*Transport, error) {
	if base == nil {
		base = http.DefaultTransport
	}

	m, err := newMetrics(otel.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}

	t := &Transport{
		base:    base,
		state:   state,
		renewer: renewer,
		metrics: m,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	return t, nil
}

// envelope is an outgoing request together with the number of times it has
// already been re-issued. A non-empty credential overrides the stored one.
type envelope struct {
	req        *http.Request
	attempt    int
	credential string
}

// retry returns the envelope for re-issuing the request with credential.
func (e envelope) retry(credential string) (envelope, error) {
	req := e.req
	if hasBody(req) {
		body, err := req.GetBody()
		if err != nil {
			return envelope{}, err
		}

		req = req.Clone(req.Context())
		req.Body = body
	}

	return envelope{req: req, attempt: e.attempt + 1, credential: credential}, nil
}

type recovery int

const (
	passThrough recovery = iota
	renewalRequestFailed
	unauthorizedFirstAttempt
)

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := slogctx.With(req.Context(),
		commoncfg.AttrRequestID, uuid.NewString(),
		"method", req.Method,
		"path", req.URL.Path,
	)

	env := envelope{req: req}
	for {
		resp, err := t.send(ctx, env)

		switch t.classify(ctx, env, resp, err) {
		case renewalRequestFailed:
			slogctx.Warn(ctx, "Renewal call failed; the session is no longer authenticated")
			t.state.clear()

			return resp, err
		case unauthorizedFirstAttempt:
			discard(resp)

			slogctx.Info(ctx, "Request was not authorized; renewing the access credential")
			token, err := t.renewer.Renew(ctx)
			if err != nil {
				// a caller that stopped waiting says nothing about the renewal
				if ctx.Err() == nil {
					t.state.clear()
				}

				return nil, err
			}

			env, err = env.retry(token)
			if err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}

			t.metrics.retries.Add(ctx, 1)
			slogctx.Debug(ctx, "Re-issuing request with the renewed credential", "attempt", env.attempt)
		default:
			return resp, err
		}
	}
}

func (t *Transport) classify(ctx context.Context, env envelope, resp *http.Response, err error) recovery {
	if t.isRenewalCall(env.req) {
		if err != nil || !successful(resp.StatusCode) {
			return renewalRequestFailed
		}

		return passThrough
	}

	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return passThrough
	}

	// the attempt counter is checked first: a request is re-issued at most once
	if env.attempt > 0 || recoveryDisabled(ctx) {
		return passThrough
	}

	if hasBody(env.req) && env.req.GetBody == nil {
		slogctx.Warn(ctx, "Request body cannot be replayed; returning the authorization failure")
		return passThrough
	}

	return unauthorizedFirstAttempt
}

// send applies the attachment rules to a copy of the request and sends it.
func (t *Transport) send(ctx context.Context, env envelope) (*http.Response, error) {
	out := env.req.Clone(ctx)

	credential := env.credential
	if credential == "" {
		credential, _ = t.state.Credential()
	}
	if credential != "" && t.forAPI(out.URL) {
		out.Header.Set("Authorization", "Bearer "+credential)
	}

	if t.jar != nil {
		for _, c := range t.jar.Cookies(out.URL) {
			out.AddCookie(c)
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", serviceerr.ErrTransport, err)
	}

	if t.jar != nil {
		if cookies := resp.Cookies(); len(cookies) > 0 {
			t.jar.SetCookies(out.URL, cookies)
		}
	}

	return resp, nil
}

func (t *Transport) forAPI(u *url.URL) bool {
	return t.apiHost == "" || strings.EqualFold(u.Host, t.apiHost)
}

func (t *Transport) isRenewalCall(req *http.Request) bool {
	return t.renewalPath != "" && strings.HasSuffix(req.URL.Path, t.renewalPath)
}

func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}
