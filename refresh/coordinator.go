package refresh

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-backoffice-client/credentials"
	"github.com/jrsteele09/go-backoffice-client/dispatch"
	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
	"github.com/jrsteele09/go-backoffice-client/users"
	"github.com/rs/zerolog/log"
)

// CredentialStore is the part of the credential store the coordinator uses.
type CredentialStore interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	GetString(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value any) error
	Clear(ctx context.Context) error
}

type outcome struct {
	token string
	err   error
}

// pendingRequest is a call that hit 401 while a refresh was in flight.
// done receives exactly one outcome; started is closed by the waiter as its
// replay enters the send function.
type pendingRequest struct {
	id      string
	ctx     context.Context
	desc    dispatch.Descriptor
	done    chan outcome
	started chan struct{}
}

// Coordinator serializes token refreshes. The first 401 starts a refresh;
// 401s arriving while it is in flight wait in a FIFO queue and are replayed
// with the new token, or all rejected with the same error.
type Coordinator struct {
	store       CredentialStore
	refresher   Refresher
	onRefreshed []func(token string)
	onCleared   []func()

	mu         sync.Mutex
	refreshing bool
	queue      []*pendingRequest
	generation uint64
	latest     string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// OnRefreshed registers fn to run with each newly obtained access token,
// before queued calls are released.
func OnRefreshed(fn func(token string)) Option {
	return func(c *Coordinator) {
		c.onRefreshed = append(c.onRefreshed, fn)
	}
}

// OnCleared registers fn to run after a failed refresh has cleared the store.
func OnCleared(fn func()) Option {
	return func(c *Coordinator) {
		c.onCleared = append(c.onCleared, fn)
	}
}

func NewCoordinator(store CredentialStore, refresher Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		refresher: refresher,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Intercept sends desc with next and handles a 401 reply. Calls marked
// NoAuth or Retried fail with an AuthError on 401 instead of refreshing.
func (c *Coordinator) Intercept(ctx context.Context, desc dispatch.Descriptor, next dispatch.SendFunc) (*dispatch.Response, error) {
	gen := c.currentGeneration()
	resp, err := next(ctx, desc)
	if err == nil || !apperrors.IsUnauthorized(err) {
		return resp, err
	}
	if desc.Retried || desc.NoAuth {
		return nil, &apperrors.AuthError{Reason: apperrors.ErrUnauthorized.Error(), Err: err}
	}
	return c.handleUnauthorized(ctx, desc, next, gen)
}

// Refreshing reports whether a refresh is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

func (c *Coordinator) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Coordinator) handleUnauthorized(ctx context.Context, desc dispatch.Descriptor, next dispatch.SendFunc, gen uint64) (*dispatch.Response, error) {
	c.mu.Lock()
	if c.refreshing {
		p := &pendingRequest{
			id:      uuid.NewString(),
			ctx:     ctx,
			desc:    desc,
			done:    make(chan outcome, 1),
			started: make(chan struct{}),
		}
		c.queue = append(c.queue, p)
		c.mu.Unlock()
		log.Debug().Str("pending_id", p.id).Str("path", desc.Path).Msg("Queued request until token refresh completes")
		return c.wait(ctx, p, next)
	}
	if c.generation != gen {
		// A refresh completed while this call was in flight; reuse its token.
		token := c.latest
		c.mu.Unlock()
		return c.replay(ctx, desc, token, next)
	}
	c.refreshing = true
	c.mu.Unlock()

	// The refresh outlives a cancelled trigger so queued callers are not
	// failed, and the session not cleared, because of one caller's context.
	refreshCtx := context.WithoutCancel(ctx)

	username, refreshToken, err := c.refreshCredentials(refreshCtx)
	if err != nil {
		authErr := &apperrors.AuthError{Reason: apperrors.ErrNoRefreshToken.Error(), Err: err}
		c.settle(outcome{err: authErr})
		return nil, authErr
	}

	log.Info().Str("username", username).Msg("Attempting token refresh")
	token, err := c.refresher.Refresh(refreshCtx, username, refreshToken)
	if err != nil {
		log.Err(err).Msg("Token refresh failed")
		authErr := &apperrors.AuthError{Reason: "token refresh failed", Err: err}
		if clearErr := c.store.Clear(refreshCtx); clearErr != nil {
			log.Err(clearErr).Msg("Failed to clear credentials after refresh failure")
		}
		for _, fn := range c.onCleared {
			fn()
		}
		c.settle(outcome{err: authErr})
		return nil, authErr
	}

	if err := c.store.Set(refreshCtx, credentials.KeyAccessToken, token); err != nil {
		log.Err(err).Msg("Refreshed access token was not persisted")
	}
	for _, fn := range c.onRefreshed {
		fn(token)
	}
	c.settle(outcome{token: token})
	log.Info().Msg("Token refreshed successfully")

	return c.replay(ctx, desc, token, next)
}

// refreshCredentials reads the refresh token and the username it belongs to.
// Either one missing means there is no session to refresh.
func (c *Coordinator) refreshCredentials(ctx context.Context) (string, string, error) {
	refreshToken, found, err := c.store.GetString(ctx, credentials.KeyRefreshToken)
	if err != nil {
		return "", "", err
	}
	if !found || dispatch.CleanToken(refreshToken) == "" {
		return "", "", apperrors.ErrNoRefreshToken
	}
	var user users.Profile
	found, err = c.store.Get(ctx, credentials.KeyUser, &user)
	if err != nil {
		return "", "", err
	}
	if !found || user == nil {
		return "", "", apperrors.ErrNoRefreshToken
	}
	return user.Username(), refreshToken, nil
}

// settle returns the coordinator to idle, draining the queue under the same
// lock, then hands every queued call its outcome in arrival order. On
// success each waiter must reach the send function with its replay (or give
// up on its context) before the next one is released.
func (c *Coordinator) settle(o outcome) {
	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	c.refreshing = false
	if o.err == nil {
		c.generation++
		c.latest = o.token
	}
	c.mu.Unlock()

	for _, p := range queued {
		p.done <- o
		if o.err != nil {
			continue
		}
		select {
		case <-p.started:
		case <-p.ctx.Done():
		}
	}
	if len(queued) > 0 {
		log.Debug().Int("count", len(queued)).Bool("success", o.err == nil).Msg("Processed refresh queue")
	}
}

func (c *Coordinator) wait(ctx context.Context, p *pendingRequest, next dispatch.SendFunc) (*dispatch.Response, error) {
	select {
	case o := <-p.done:
		if o.err != nil {
			return nil, o.err
		}
		replay := p.desc.WithAuthorization(o.token)
		replay.Retried = true
		var once sync.Once
		release := func() { once.Do(func() { close(p.started) }) }
		defer release()
		return c.Intercept(ctx, replay, func(ctx context.Context, desc dispatch.Descriptor) (*dispatch.Response, error) {
			release()
			return next(ctx, desc)
		})
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) replay(ctx context.Context, desc dispatch.Descriptor, token string, next dispatch.SendFunc) (*dispatch.Response, error) {
	replay := desc.WithAuthorization(token)
	replay.Retried = true
	return c.Intercept(ctx, replay, next)
}
