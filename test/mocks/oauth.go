package mocks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

// OAuthServer is a stand-in OAuth token endpoint for refresh grants.
// Responses are configurable per test; every refresh request is recorded.
type OAuthServer struct {
	srv *httptest.Server

	mu               sync.Mutex
	accessToken      string
	refreshToken     string
	expiresIn        int64
	failStatus       int
	requests         int
	lastRefreshToken string
}

// NewOAuthServer starts a token endpoint that issues the given access
// token with a one hour lifetime. Close it when the test is done.
func NewOAuthServer(accessToken string) *OAuthServer {
	o := &OAuthServer{
		accessToken: accessToken,
		expiresIn:   3600,
	}
	o.srv = httptest.NewServer(http.HandlerFunc(o.handle))
	return o
}

func (o *OAuthServer) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	o.mu.Lock()
	o.requests++
	o.lastRefreshToken = r.PostFormValue("refresh_token")
	status := o.failStatus
	body := map[string]any{
		"access_token": o.accessToken,
		"expires_in":   o.expiresIn,
		"token_type":   "Bearer",
	}
	if o.refreshToken != "" {
		body["refresh_token"] = o.refreshToken
	}
	o.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// URL returns the token endpoint address.
func (o *OAuthServer) URL() string {
	return o.srv.URL
}

// Close shuts down the endpoint.
func (o *OAuthServer) Close() {
	o.srv.Close()
}

// SetAccessToken changes the access token issued by future grants.
func (o *OAuthServer) SetAccessToken(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accessToken = token
}

// SetRefreshToken sets the rotated refresh token included in responses.
// Empty means the response omits refresh_token, as Google does on
// non-initial grants.
func (o *OAuthServer) SetRefreshToken(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshToken = token
}

// SetExpiresIn overrides the issued token lifetime in seconds.
func (o *OAuthServer) SetExpiresIn(seconds int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expiresIn = seconds
}

// SetFailStatus makes the endpoint respond with the given HTTP status
// instead of a token. Zero restores normal behavior.
func (o *OAuthServer) SetFailStatus(status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failStatus = status
}

// Requests returns how many token requests the endpoint has served.
func (o *OAuthServer) Requests() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests
}

// LastRefreshToken returns the refresh token presented on the most
// recent grant.
func (o *OAuthServer) LastRefreshToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRefreshToken
}
