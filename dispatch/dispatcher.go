package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-backoffice-client/credentials"
	"github.com/jrsteele09/go-backoffice-client/internal/config"
	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const requestIDHeader = "X-Request-ID"

// TokenReader is the read side of the credential store used for the access token.
type TokenReader interface {
	GetString(ctx context.Context, key string) (string, bool, error)
}

// Call is the outcome of one dispatched request, reported to observers.
type Call struct {
	Method   string
	URL      string
	Path     string
	Status   int // 0 when no response was received
	Duration time.Duration
	Err      error
}

// Observer is notified of every dispatched call. Observers must not block.
type Observer interface {
	ObserveCall(call Call)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(call Call)

func (f ObserverFunc) ObserveCall(call Call) { f(call) }

// Dispatcher issues HTTP requests against the API base URL, attaching the
// stored access token. It never retries and never interprets error bodies.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	headers    http.Header
	tokens     TokenReader
	observers  []Observer
	limiter    *rate.Limiter
	timeout    time.Duration

	mu          sync.RWMutex
	defaultAuth string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sends through a copy of c. Its Timeout is replaced by the
// dispatcher timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = c
	}
}

// WithTimeout sets the per-request timeout. It applies to a copy of the HTTP
// client, so a shared client passed to WithHTTPClient is left untouched.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observers = append(d.observers, o)
	}
}

// WithRateLimit throttles outgoing calls to perSecond with the given burst.
// A non-positive rate disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = nil
			return
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New creates a dispatcher for baseURL with a 30s timeout and JSON content type.
func New(baseURL string, tokens TokenReader, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		headers:    http.Header{"Content-Type": []string{"application/json"}},
		tokens:     tokens,
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	client := *d.httpClient
	client.Timeout = d.timeout
	d.httpClient = &client
	return d
}

// NewFromConfig creates a dispatcher from the client configuration.
func NewFromConfig(cfg config.Config, tokens TokenReader, opts ...Option) *Dispatcher {
	base := []Option{
		WithTimeout(cfg.GetTimeout()),
		WithRateLimit(cfg.GetRateLimit(), cfg.GetRateBurst()),
	}
	return New(cfg.GetBaseURL(), tokens, append(base, opts...)...)
}

func (d *Dispatcher) BaseURL() string {
	return d.baseURL
}

// SetDefaultAuthorization sets the token used when the store has none.
// An empty token removes the default.
func (d *Dispatcher) SetDefaultAuthorization(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultAuth = CleanToken(token)
}

func (d *Dispatcher) defaultAuthorization() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.defaultAuth
}

// Send issues desc. Non-2xx replies (401 included) return *errors.HTTPError,
// transport failures and timeouts return *errors.NetworkError.
func (d *Dispatcher) Send(ctx context.Context, desc Descriptor) (*Response, error) {
	if desc.Method == "" {
		desc.Method = http.MethodGet
	}
	u := d.baseURL + desc.Path
	if len(desc.Query) > 0 {
		u += "?" + desc.Query.Encode()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, d.finish(desc, u, 0, time.Now(), &apperrors.NetworkError{URL: u, Err: err})
		}
	}

	body, err := encodeBody(desc.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, desc.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range d.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	for k, v := range desc.Headers {
		req.Header[k] = append([]string(nil), v...)
	}
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, uuid.NewString())
	}
	if desc.NoAuth {
		req.Header.Del("Authorization")
	} else if req.Header.Get("Authorization") == "" {
		d.authorize(ctx, req)
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, d.finish(desc, u, 0, start, &apperrors.NetworkError{URL: u, Err: err})
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, d.finish(desc, u, resp.StatusCode, start, &apperrors.NetworkError{URL: u, Err: err})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, d.finish(desc, u, resp.StatusCode, start, &apperrors.HTTPError{Status: resp.StatusCode, Body: respBody, URL: u})
	}

	_ = d.finish(desc, u, resp.StatusCode, start, nil)
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   respBody,
		URL:    u,
	}, nil
}

// authorize sets the bearer token from the store, falling back to the
// default authorization. A store failure is logged and the call proceeds.
func (d *Dispatcher) authorize(ctx context.Context, req *http.Request) {
	token, found, err := d.tokens.GetString(ctx, credentials.KeyAccessToken)
	if err != nil {
		log.Err(err).Str("url", req.URL.String()).Msg("Failed to read access token")
	}
	token = CleanToken(token)
	if !found || token == "" {
		token = d.defaultAuthorization()
	}
	if token == "" {
		return
	}
	(&oauth2.Token{AccessToken: token}).SetAuthHeader(req)
	log.Debug().Str("url", req.URL.Path).Msg("Added token to request")
}

func (d *Dispatcher) finish(desc Descriptor, u string, status int, start time.Time, err error) error {
	call := Call{
		Method:   desc.Method,
		URL:      u,
		Path:     desc.Path,
		Status:   status,
		Duration: time.Since(start),
		Err:      err,
	}
	if err != nil {
		log.Debug().Err(err).Str("method", call.Method).Str("url", u).Int("status", status).Msg("API Error")
	} else {
		log.Debug().Str("method", call.Method).Str("url", u).Int("status", status).Msg("API Success")
	}
	for _, o := range d.observers {
		o.ObserveCall(call)
	}
	return err
}

func encodeBody(body any) (io.Reader, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
