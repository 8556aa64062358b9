package session

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-backoffice-client/credentials"
	"github.com/jrsteele09/go-backoffice-client/dispatch"
	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
	"github.com/jrsteele09/go-backoffice-client/users"
	"github.com/rs/zerolog/log"
)

const (
	LoginPath  = "/api/auth/login"
	LogoutPath = "/api/auth/logout"
)

// CredentialStore is the part of the credential store the controller uses.
type CredentialStore interface {
	MultiGet(ctx context.Context, keys ...string) (credentials.Values, error)
	MultiSet(ctx context.Context, entries map[string]any) error
	Clear(ctx context.Context) error
}

// Credential is an authenticated session.
type Credential struct {
	User         users.Profile
	AccessToken  string
	RefreshToken string
}

// State is a snapshot of the session.
type State struct {
	IsAuthenticated   bool
	IsInitialized     bool
	User              users.Profile
	AccessToken       string
	RefreshToken      string
	AccessTokenExpiry time.Time // zero when the token carries no exp claim
	IsLoading         bool
	Error             string
}

// TokenExpired reports whether the access token has a known expiry before now.
func (s State) TokenExpired(now time.Time) bool {
	return !s.AccessTokenExpiry.IsZero() && now.After(s.AccessTokenExpiry)
}

// Controller owns the session state and is the only writer of login
// credentials. Login and logout go straight to the dispatcher so their
// 401s never reach the refresh coordinator.
type Controller struct {
	store CredentialStore
	send  dispatch.SendFunc

	mu        sync.Mutex
	state     State
	listeners []func(State)
}

func NewController(store CredentialStore, send dispatch.SendFunc) *Controller {
	return &Controller{
		store: store,
		send:  send,
	}
}

// OnChange registers fn to receive a snapshot after every state change.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates and persists the returned credentials. Nothing is
// written unless the response parses completely.
func (c *Controller) Login(ctx context.Context, username, password string) (*Credential, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, c.fail(apperrors.NewAuthError(apperrors.ErrEmptyCredentials))
	}

	c.update(func(s *State) {
		s.IsLoading = true
		s.Error = ""
	})

	resp, err := c.send(ctx, dispatch.Descriptor{
		Method: http.MethodPost,
		Path:   LoginPath,
		Body:   loginRequest{Username: username, Password: password},
		NoAuth: true,
	})
	if err != nil {
		log.Err(err).Str("username", username).Msg("Login request failed")
		return nil, c.fail(loginError(err))
	}

	parsed, err := parseLoginResponse(resp.Body)
	if err != nil {
		log.Err(err).Str("username", username).Msg("Unexpected login response")
		return nil, c.fail(err)
	}

	entries := map[string]any{
		credentials.KeyUser:        parsed.user,
		credentials.KeyToken:       parsed.user,
		credentials.KeyAccessToken: parsed.accessToken,
	}
	if parsed.refreshToken != "" {
		entries[credentials.KeyRefreshToken] = parsed.refreshToken
	}
	if err := c.store.MultiSet(ctx, entries); err != nil {
		return nil, c.fail(err)
	}

	cred := &Credential{
		User:         parsed.user,
		AccessToken:  parsed.accessToken,
		RefreshToken: parsed.refreshToken,
	}
	c.update(func(s *State) {
		s.authenticate(cred)
		s.IsInitialized = true
		s.IsLoading = false
		s.Error = ""
	})
	log.Info().Str("username", parsed.user.Username()).Str("shape", parsed.shape.String()).Msg("Login successful")
	return cred, nil
}

// loginError maps a failed login call to an AuthError. Network failures keep
// their own kind.
func loginError(err error) error {
	var httpErr *apperrors.HTTPError
	if !apperrors.As(err, &httpErr) {
		return err
	}
	if httpErr.Status == http.StatusTooManyRequests {
		return &apperrors.AuthError{Reason: apperrors.ErrTooManyRequests.Error(), Err: err}
	}
	if msg := serverMessage(httpErr.Body); msg != "" {
		return &apperrors.AuthError{Reason: msg, Err: err}
	}
	return &apperrors.AuthError{Reason: apperrors.ErrLoginFailed.Error(), Err: err}
}

// Logout ends the session locally. The server is told on a best-effort
// basis; a failure there is logged and not returned.
func (c *Controller) Logout(ctx context.Context) error {
	token := c.State().AccessToken
	if token == "" {
		values, err := c.store.MultiGet(ctx, credentials.KeyAccessToken)
		if err == nil {
			token = values.String(credentials.KeyAccessToken)
		}
	}
	token = dispatch.CleanToken(token)

	if token != "" {
		desc := dispatch.Descriptor{Method: http.MethodPost, Path: LogoutPath}.WithAuthorization(token)
		if _, err := c.send(ctx, desc); err != nil {
			log.Warn().Err(err).Msg("Logout API call failed")
		}
	}

	if err := c.store.Clear(ctx); err != nil {
		log.Err(err).Msg("Failed to clear credentials on logout")
	}
	c.update(func(s *State) {
		s.reset()
	})
	return nil
}

// CheckAuth restores the session from the store. The controller is
// initialized afterwards whatever the outcome.
func (c *Controller) CheckAuth(ctx context.Context) (*Credential, error) {
	c.update(func(s *State) {
		s.IsLoading = true
	})

	values, err := c.store.MultiGet(ctx, credentials.KeyUser, credentials.KeyAccessToken, credentials.KeyRefreshToken)
	if err != nil {
		c.update(func(s *State) {
			s.reset()
			s.IsInitialized = true
		})
		return nil, err
	}

	var user users.Profile
	found, err := values.Decode(credentials.KeyUser, &user)
	accessToken := dispatch.CleanToken(values.String(credentials.KeyAccessToken))
	if err != nil || !found || user == nil || accessToken == "" {
		c.update(func(s *State) {
			s.reset()
			s.IsInitialized = true
		})
		return nil, apperrors.NewAuthError(apperrors.ErrNoStoredCredentials)
	}

	cred := &Credential{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: dispatch.CleanToken(values.String(credentials.KeyRefreshToken)),
	}
	c.update(func(s *State) {
		s.authenticate(cred)
		s.IsInitialized = true
		s.IsLoading = false
	})
	return cred, nil
}

// UpdateTokens records tokens obtained outside Login, such as by a refresh.
// An empty refresh token keeps the current one. The store is not written.
func (c *Controller) UpdateTokens(accessToken, refreshToken string) {
	c.update(func(s *State) {
		s.AccessToken = dispatch.CleanToken(accessToken)
		s.AccessTokenExpiry = tokenExpiry(s.AccessToken)
		if refreshToken != "" {
			s.RefreshToken = dispatch.CleanToken(refreshToken)
		}
	})
}

// UpdateUser merges fields into the current user and persists the result.
func (c *Controller) UpdateUser(ctx context.Context, fields map[string]any) error {
	c.mu.Lock()
	if c.state.User == nil {
		c.mu.Unlock()
		return apperrors.NewAuthError(apperrors.ErrNoStoredCredentials)
	}
	merged := c.state.User.Merge(fields)
	c.mu.Unlock()

	if err := c.store.MultiSet(ctx, map[string]any{
		credentials.KeyUser:  merged,
		credentials.KeyToken: merged,
	}); err != nil {
		return err
	}
	c.update(func(s *State) {
		s.User = merged
	})
	return nil
}

// ForceLogout drops the session without contacting the server or the store.
// It is used after a failed token refresh, when the store is already cleared.
func (c *Controller) ForceLogout() {
	log.Info().Msg("Session ended after failed token refresh")
	c.update(func(s *State) {
		s.reset()
	})
}

func (c *Controller) ClearError() {
	c.update(func(s *State) {
		s.Error = ""
	})
}

func (c *Controller) fail(err error) error {
	c.update(func(s *State) {
		s.IsLoading = false
		s.Error = err.Error()
	})
	return err
}

func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	fn(&c.state)
	snap := c.snapshot()
	listeners := append([]func(State){}, c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (c *Controller) snapshot() State {
	s := c.state
	if s.User != nil {
		s.User = s.User.Merge(nil)
	}
	return s
}

func (s *State) authenticate(cred *Credential) {
	s.IsAuthenticated = true
	s.User = cred.User
	s.AccessToken = dispatch.CleanToken(cred.AccessToken)
	s.AccessTokenExpiry = tokenExpiry(s.AccessToken)
	if cred.RefreshToken != "" {
		s.RefreshToken = dispatch.CleanToken(cred.RefreshToken)
	}
}

// reset returns to unauthenticated. IsInitialized is never cleared.
func (s *State) reset() {
	*s = State{IsInitialized: s.IsInitialized}
}

// tokenExpiry reads the exp claim of a JWT access token without verifying it.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	parsed, _, err := jwtlib.NewParser().ParseUnverified(token, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
