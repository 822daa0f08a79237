package business

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/openkcm/session-client/internal/config"
)

const (
	testUsername  = "alice"
	testPassword  = "s3cret" // NOSONAR
	testReference = "refresh-reference"
)

// fakeAPI issues "token-<n>" on login and refresh and accepts only the
// latest token on protected paths.
type fakeAPI struct {
	*httptest.Server

	mu      sync.Mutex
	issued  int
	token   string
	revoked bool
	hits    map[string]int
}

func startFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	api := &fakeAPI{hits: make(map[string]int)}
	api.Server = httptest.NewServer(http.HandlerFunc(api.serveHTTP))
	t.Cleanup(api.Close)

	return api
}

func (api *fakeAPI) serveHTTP(w http.ResponseWriter, r *http.Request) {
	api.mu.Lock()
	defer api.mu.Unlock()

	api.hits[r.URL.Path]++

	switch r.URL.Path {
	case "/api/login":
		if r.PostFormValue("username") != testUsername || r.PostFormValue("password") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		api.revoked = false
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: testReference, Path: "/"})
		api.issue(w)
	case "/api/refresh":
		c, err := r.Cookie("refresh_token")
		if err != nil || c.Value != testReference || api.revoked {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		api.issue(w)
	case "/api/logout":
		api.revoked = true
		api.token = ""
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Logged out successfully"})
	default:
		if api.token == "" || r.Header.Get("Authorization") != "Bearer "+api.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"message": testUsername})
	}
}

// issue must be called with mu held.
func (api *fakeAPI) issue(w http.ResponseWriter) {
	api.issued++
	api.token = "token-" + strconv.Itoa(api.issued)

	_ = json.NewEncoder(w).Encode(map[string]string{"access_token": api.token, "token_type": "bearer"})
}

// expire invalidates the current access token.
func (api *fakeAPI) expire() {
	api.mu.Lock()
	defer api.mu.Unlock()

	api.token = ""
}

func (api *fakeAPI) hitCount(path string) int {
	api.mu.Lock()
	defer api.mu.Unlock()

	return api.hits[path]
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		SessionClient: config.SessionClient{
			BaseURL:        baseURL,
			RequestTimeout: 5 * time.Second,
			RenewalTimeout: 5 * time.Second,
			ClientAuth:     config.ClientAuth{Type: "default"},
			Credentials: config.Credentials{
				Username: testUsername,
				Password: commoncfg.SourceRef{Source: "embedded", Value: testPassword},
			},
		},
		Keeper: config.Keeper{
			Interval:    10 * time.Millisecond,
			Concurrency: 2,
		},
	}
}

func withSessionReference(cfg *config.Config, value string) *config.Config {
	cfg.SessionClient.SessionReference = config.SessionReference{
		Cookie: config.CookieTemplate{Name: "refresh_token", Path: "/"},
		Value:  commoncfg.SourceRef{Source: "embedded", Value: value},
	}

	return cfg
}
