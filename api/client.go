package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-backoffice-client/credentials"
	"github.com/jrsteele09/go-backoffice-client/dispatch"
	"github.com/jrsteele09/go-backoffice-client/internal/config"
	"github.com/jrsteele09/go-backoffice-client/internal/metrics"
	"github.com/jrsteele09/go-backoffice-client/refresh"
	"github.com/jrsteele09/go-backoffice-client/session"
	"github.com/rs/zerolog/log"
)

const (
	MePath      = "/api/auth/me"
	SummaryPath = "/api/summary"
)

// Client is the authenticated back-office API. Every resource call goes
// through the refresh coordinator; login and logout go through the session.
type Client struct {
	store       *credentials.Store
	dispatcher  *dispatch.Dispatcher
	coordinator *refresh.Coordinator
	session     *session.Controller

	Products     *Products
	Prices       *Prices
	Customers    *Customers
	Reservations *Reservations
}

// New wires a client around an existing store and dispatcher.
func New(store *credentials.Store, dispatcher *dispatch.Dispatcher) *Client {
	c := &Client{
		store:      store,
		dispatcher: dispatcher,
		session:    session.NewController(store, dispatcher.Send),
	}
	c.coordinator = refresh.NewCoordinator(store, refresh.NewHTTPRefresher(dispatcher.Send),
		refresh.OnRefreshed(func(token string) {
			dispatcher.SetDefaultAuthorization(token)
			c.session.UpdateTokens(token, "")
			metrics.RecordRefresh(true)
		}),
		refresh.OnCleared(func() {
			dispatcher.SetDefaultAuthorization("")
			c.session.ForceLogout()
			metrics.RecordRefresh(false)
		}),
	)
	c.Products = &Products{c: c}
	c.Prices = &Prices{c: c}
	c.Customers = &Customers{c: c}
	c.Reservations = &Reservations{c: c}
	return c
}

// NewFromConfig builds the store backend, dispatcher and client from cfg.
// Dispatched calls are recorded by the metrics observer.
func NewFromConfig(cfg config.Config, opts ...dispatch.Option) (*Client, error) {
	backend, err := credentials.NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	store := credentials.New(backend)
	opts = append([]dispatch.Option{dispatch.WithObserver(metrics.Observer{})}, opts...)
	dispatcher := dispatch.NewFromConfig(cfg, store, opts...)
	log.Debug().Str("base_url", dispatcher.BaseURL()).Str("store", cfg.GetStoreType()).Msg("API client created")
	return New(store, dispatcher), nil
}

func (c *Client) Session() *session.Controller {
	return c.session
}

func (c *Client) Store() *credentials.Store {
	return c.store
}

func (c *Client) Login(ctx context.Context, username, password string) (*session.Credential, error) {
	cred, err := c.session.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	c.dispatcher.SetDefaultAuthorization(cred.AccessToken)
	return cred, nil
}

func (c *Client) Logout(ctx context.Context) error {
	defer c.dispatcher.SetDefaultAuthorization("")
	return c.session.Logout(ctx)
}

func (c *Client) CheckAuth(ctx context.Context) (*session.Credential, error) {
	return c.session.CheckAuth(ctx)
}

// Do sends an authenticated call, refreshing the access token on 401.
func (c *Client) Do(ctx context.Context, desc dispatch.Descriptor) (*dispatch.Response, error) {
	return c.coordinator.Intercept(ctx, desc, c.dispatcher.Send)
}

// Me returns the profile of the logged-in user as reported by the server.
func (c *Client) Me(ctx context.Context) (Row, error) {
	return c.getRow(ctx, MePath, nil)
}

// Summary returns the sales summary.
func (c *Client) Summary(ctx context.Context) (Row, error) {
	return c.getRow(ctx, SummaryPath, nil)
}

func (c *Client) Close() error {
	return c.store.Close()
}

func (c *Client) getRow(ctx context.Context, path string, query url.Values) (Row, error) {
	resp, err := c.Do(ctx, dispatch.Descriptor{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	return decodeRow(resp.Body)
}

func (c *Client) sendRow(ctx context.Context, method, path string, body any) (Row, error) {
	resp, err := c.Do(ctx, dispatch.Descriptor{Method: method, Path: path, Body: body})
	if err != nil {
		return nil, err
	}
	return decodeRow(resp.Body)
}
