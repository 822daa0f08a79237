//go:build integration

package integration_test

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	username  = "alice"
	password  = "s3cret" // NOSONAR
	reference = "refresh-reference"
)

const configTemplate = `application:
  name: session-client
  environment: integration
logger:
  level: info
  format: json
sessionClient:
  baseURL: %s
  requestTimeout: 5s
  renewalTimeout: 5s
  clientAuth:
    type: default
  credentials:
    username: %s
    password:
      source: embedded
      value: %s
%s`

const sessionReferenceTemplate = `  sessionReference:
    cookie:
      name: refresh_token
      path: /
    value:
      source: embedded
      value: %s
`

type infraStat struct {
	ConfigFilePath string
	Procdir        string
	API            *fakeAPI
}

func initInfra(t *testing.T, exeName string) (istat infraStat) {
	t.Helper()

	// Since the config is read from the file $PWD/config.yaml,
	// we're running a process in a subdirectory so that we aren't interferring with the other tests.
	wd, err := os.Getwd()
	require.NoError(t, err, "failed to get wd")
	istat.Procdir = filepath.Join(wd, exeName+"-test")
	istat.ConfigFilePath = filepath.Join(istat.Procdir, "config.yaml")

	err = os.MkdirAll(istat.Procdir, fs.ModePerm)
	require.NoError(t, err, "failed to create a dir for the process")

	istat.API = startFakeAPI(t)

	return istat
}

// PrepareConfig writes a config file pointing at the fake API. A non-empty
// ref seeds the session reference cookie.
func (istat *infraStat) PrepareConfig(t *testing.T, ref string) {
	t.Helper()

	seeded := ""
	if ref != "" {
		seeded = fmt.Sprintf(sessionReferenceTemplate, ref)
	}

	content := fmt.Sprintf(configTemplate, istat.API.URL, username, password, seeded)
	err := os.WriteFile(istat.ConfigFilePath, []byte(content), fs.ModePerm)
	require.NoError(t, err, "failed to write config file")
}

func (istat *infraStat) Close() {
	os.Remove(istat.ConfigFilePath)
	os.RemoveAll(istat.Procdir)
}

type fakeAPI struct {
	*httptest.Server

	mu     sync.Mutex
	issued int
	token  string
	hits   map[string]int
}

func startFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()

	api := &fakeAPI{hits: make(map[string]int)}
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()

		api.hits[r.URL.Path]++

		switch r.URL.Path {
		case "/api/login":
			if r.PostFormValue("username") != username || r.PostFormValue("password") != password {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: reference, Path: "/"})
			api.issue(w)
		case "/api/refresh":
			if c, err := r.Cookie("refresh_token"); err != nil || c.Value != reference {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			api.issue(w)
		case "/api/logout":
			api.token = ""
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Logged out successfully"})
		case "/api/whoami":
			if api.token == "" || r.Header.Get("Authorization") != "Bearer "+api.token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			_ = json.NewEncoder(w).Encode(map[string]string{"message": username})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(api.Close)

	return api
}

// issue must be called with mu held.
func (api *fakeAPI) issue(w http.ResponseWriter) {
	api.issued++
	api.token = fmt.Sprintf("token-%d", api.issued)

	_ = json.NewEncoder(w).Encode(map[string]string{"access_token": api.token, "token_type": "bearer"})
}

func (api *fakeAPI) hitCount(path string) int {
	api.mu.Lock()
	defer api.mu.Unlock()

	return api.hits[path]
}
