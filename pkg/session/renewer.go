package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-client/internal/serviceerr"
)

const (
	instrumentationName = "github.com/openkcm/session-client/pkg/session"

	renewalKey = "renewal"
)

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Renewer obtains a new access credential from the renewal endpoint. The
// session reference travels with the client's cookies and is never passed
// explicitly. At most one renewal call is in flight at any time: callers
// arriving while one is pending share its outcome.
type Renewer struct {
	client   HTTPDoer
	endpoint string
	state    *State
	timeout  time.Duration

	group   singleflight.Group
	waiters atomic.Int64

	metrics *metrics
	tracer  trace.Tracer
}

// NewRenewer creates a renewer posting to endpoint. A zero timeout leaves
// the renewal call bounded only by the client.
func NewRenewer(client HTTPDoer, endpoint string, state *State, timeout time.Duration) (*Renewer, error) {
	meter := otel.Meter(instrumentationName)

	m, err := newMetrics(meter)
	if err != nil {
		return nil, err
	}

	r := &Renewer{
		client:   client,
		endpoint: endpoint,
		state:    state,
		timeout:  timeout,
		metrics:  m,
		tracer:   otel.Tracer(instrumentationName),
	}

	if err := observeWaiters(meter, r); err != nil {
		return nil, err
	}

	return r, nil
}

// Renew returns a fresh credential. Success stores it in the state, failure
// clears the stored credential. The underlying call is not bound to ctx so
// that one caller giving up does not fail the others; ctx only limits how
// long this caller waits.
func (r *Renewer) Renew(ctx context.Context) (string, error) {
	ch := r.group.DoChan(renewalKey, func() (any, error) {
		return r.renew(context.WithoutCancel(ctx))
	})

	r.waiters.Add(1)
	defer r.waiters.Add(-1)

	select {
	case res := <-ch:
		if res.Shared {
			r.metrics.coalesced.Add(ctx, 1)
		}
		if res.Err != nil {
			return "", res.Err
		}

		//nolint:forcetypeassert
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Waiters returns the number of callers currently waiting on a renewal.
func (r *Renewer) Waiters() int64 {
	return r.waiters.Load()
}

func (r *Renewer) renew(ctx context.Context) (string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ctx, span := r.tracer.Start(ctx, "renew-credential",
		trace.WithAttributes(attribute.String("http.url", r.endpoint)),
	)
	defer span.End()

	slogctx.Debug(ctx, "Renewing the access credential")

	token, err := r.call(ctx)
	if err != nil {
		r.state.SetCredential("")
		r.metrics.renewal(ctx, outcomeFailure)
		span.RecordError(err)
		span.SetStatus(codes.Error, "renewal failed")
		slogctx.Warn(ctx, "Could not renew the access credential", "error", err)

		return "", fmt.Errorf("%w: %w", serviceerr.ErrRenewalFailed, err)
	}

	r.state.SetCredential(token)
	r.metrics.renewal(ctx, outcomeSuccess)
	slogctx.Info(ctx, "Renewed the access credential")

	return token, nil
}

func (r *Renewer) call(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("creating renewal request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing renewal request: %w", err)
	}
	defer resp.Body.Close()

	if !successful(resp.StatusCode) {
		return "", fmt.Errorf("%w: renewal endpoint returned status %d",
			serviceerr.FromHTTPStatus(resp.StatusCode), resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return "", fmt.Errorf("%w: decoding renewal response: %w", serviceerr.ErrInvalidResponse, err)
	}

	token, err := tokens.credential()
	if err != nil {
		return "", fmt.Errorf("renewal: %w", err)
	}

	return token, nil
}

func successful(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
