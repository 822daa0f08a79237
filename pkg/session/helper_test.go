package session_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const (
	testUsername  = "alice"
	testPassword  = "s3cret" // NOSONAR
	testReference = "refresh-reference"
	refreshCookie = "refresh_token"
)

// authServer mimics the API: it issues access tokens on login and refresh,
// keys sessions by the refresh cookie and protects /api/whoami and /api/data.
type authServer struct {
	*httptest.Server

	mu          sync.Mutex
	issued      int
	validToken  string
	references  map[string]bool
	refreshGate chan struct{}
	denyData    bool
	logoutFails bool

	hits        map[string]int
	authHeaders []string
	bodies      []string
}

type authServerOption func(*authServer)

// withReference makes ref a valid session reference.
func withReference(ref string) authServerOption {
	return func(s *authServer) { s.references[ref] = true }
}

// withRefreshGate holds every refresh call until gate is closed.
func withRefreshGate(gate chan struct{}) authServerOption {
	return func(s *authServer) { s.refreshGate = gate }
}

// withDataDenied answers 401 on /api/data whatever the credential.
func withDataDenied() authServerOption {
	return func(s *authServer) { s.denyData = true }
}

func withFailingLogout() authServerOption {
	return func(s *authServer) { s.logoutFails = true }
}

func StartAuthServer(t *testing.T, opts ...authServerOption) *authServer {
	t.Helper()

	s := &authServer{
		references: make(map[string]bool),
		hits:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)

	return s
}

func (s *authServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.mu.Unlock()

	switch r.URL.Path {
	case "/api/login":
		s.login(w, r)
	case "/api/refresh":
		s.refresh(w, r)
	case "/api/logout":
		s.logout(w, r)
	case "/api/whoami":
		if !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": testUsername})
	case "/api/data":
		s.data(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *authServer) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	if r.PostForm.Get("username") != testUsername || r.PostForm.Get("password") != testPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}

	s.mu.Lock()
	s.references[testReference] = true
	token := s.issueLocked()
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: testReference, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "bearer"})
}

func (s *authServer) refresh(w http.ResponseWriter, r *http.Request) {
	if s.refreshGate != nil {
		<-s.refreshGate
	}

	cookie, err := r.Cookie(refreshCookie)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Refresh token missing"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.references[cookie.Value] {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token expired or revoked"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"access_token": s.issueLocked(), "token_type": "bearer"})
}

func (s *authServer) logout(w http.ResponseWriter, r *http.Request) {
	if s.logoutFails {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "boom"})
		return
	}

	cookie, err := r.Cookie(refreshCookie)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Refresh token missing"})
		return
	}

	s.mu.Lock()
	delete(s.references, cookie.Value)
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *authServer) data(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))
	s.bodies = append(s.bodies, string(body))
	deny := s.denyData
	s.mu.Unlock()

	if deny || !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *authServer) authorized(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.validToken != "" && r.Header.Get("Authorization") == "Bearer "+s.validToken
}

// issueLocked must be called with mu held. Issuing a token invalidates the
// previous one.
func (s *authServer) issueLocked() string {
	s.issued++
	s.validToken = fmt.Sprintf("token-%d", s.issued)

	return s.validToken
}

// expire invalidates the current access token.
func (s *authServer) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.validToken = ""
}

func (s *authServer) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hits[path]
}

func (s *authServer) seenAuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.authHeaders...)
}

func (s *authServer) seenBodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.bodies...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
