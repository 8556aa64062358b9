package refresh_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-backoffice-client/credentials"
	"github.com/jrsteele09/go-backoffice-client/dispatch"
	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
	"github.com/jrsteele09/go-backoffice-client/refresh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	staleToken = "stale-token"
	freshToken = "fresh-token"
)

// backend is a fake API: protected calls fail with 401 unless they carry the
// fresh token, the refresh endpoint counts its hits.
type backend struct {
	t *testing.T

	refreshHits   atomic.Int32
	refreshOK     bool
	refreshDelay  time.Duration
	alwaysDeny    bool
	arrivals      sync.WaitGroup
	useBarrier    bool
	mu            sync.Mutex
	replaysByCall map[string]int
	staleHits     atomic.Int32
}

func newBackend(t *testing.T, barrier int) *backend {
	b := &backend{t: t, refreshOK: true, replaysByCall: map[string]int{}}
	if barrier > 0 {
		b.useBarrier = true
		b.arrivals.Add(barrier)
	}
	return b
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case refresh.RefreshPath:
		b.refreshHits.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(b.t, "alice", body["username"])
		assert.Equal(b.t, "refresh-1", body["token"])
		assert.Empty(b.t, r.Header.Get("Authorization"))
		time.Sleep(b.refreshDelay)
		if !b.refreshOK {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"message":"expired"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"success":true,"accessToken":%q}`, freshToken)
	case "/api/auth/login":
		w.WriteHeader(http.StatusUnauthorized)
	default:
		if r.Header.Get("Authorization") == "Bearer "+freshToken && !b.alwaysDeny {
			b.mu.Lock()
			b.replaysByCall[r.URL.Query().Get("n")]++
			b.mu.Unlock()
			_, _ = fmt.Fprintf(w, `{"n":%q}`, r.URL.Query().Get("n"))
			return
		}
		b.staleHits.Add(1)
		if b.useBarrier && r.Header.Get("Authorization") == "Bearer "+staleToken {
			b.arrivals.Done()
			b.arrivals.Wait()
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"jwt expired"}`))
	}
}

type harness struct {
	store       *credentials.Store
	dispatcher  *dispatch.Dispatcher
	coordinator *refresh.Coordinator
	refreshed   atomic.Int32
	cleared     atomic.Int32
	lastToken   atomic.Value
}

func newHarness(t *testing.T, srv *httptest.Server, seed map[string]any) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{store: credentials.New(credentials.NewMemoryBackend())}
	require.NoError(t, h.store.MultiSet(ctx, seed))
	h.dispatcher = dispatch.New(srv.URL, h.store)
	h.coordinator = refresh.NewCoordinator(h.store, refresh.NewHTTPRefresher(h.dispatcher.Send),
		refresh.OnRefreshed(func(token string) {
			h.refreshed.Add(1)
			h.lastToken.Store(token)
		}),
		refresh.OnCleared(func() { h.cleared.Add(1) }),
	)
	return h
}

func (h *harness) do(ctx context.Context, desc dispatch.Descriptor) (*dispatch.Response, error) {
	return h.coordinator.Intercept(ctx, desc, h.dispatcher.Send)
}

func loggedInSeed() map[string]any {
	return map[string]any{
		credentials.KeyUser:         map[string]any{"Login": "alice", "StAdmin": "1"},
		credentials.KeyAccessToken:  staleToken,
		credentials.KeyRefreshToken: "refresh-1",
	}
}

func protected(n int) dispatch.Descriptor {
	return dispatch.Descriptor{
		Method: http.MethodGet,
		Path:   "/api/products/list",
		Query:  url.Values{"n": {fmt.Sprint(n)}},
	}
}

func TestRefreshThenReissueWithNewToken(t *testing.T) {
	be := newBackend(t, 0)
	srv := httptest.NewServer(be)
	defer srv.Close()
	h := newHarness(t, srv, loggedInSeed())

	resp, err := h.do(context.Background(), protected(1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":"1"}`, string(resp.Body))

	assert.EqualValues(t, 1, be.refreshHits.Load())
	assert.EqualValues(t, 1, h.refreshed.Load())
	assert.Equal(t, freshToken, h.lastToken.Load())
	assert.False(t, h.coordinator.Refreshing())

	stored, found, err := h.store.GetString(context.Background(), credentials.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, freshToken, stored)

	// Later calls pick the fresh token up from the store without refreshing.
	_, err = h.do(context.Background(), protected(2))
	require.NoError(t, err)
	assert.EqualValues(t, 1, be.refreshHits.Load())
}

func TestConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	for _, n := range []int{2, 5, 20} {
		t.Run(fmt.Sprintf("%d requests", n), func(t *testing.T) {
			be := newBackend(t, n)
			be.refreshDelay = 50 * time.Millisecond
			srv := httptest.NewServer(be)
			defer srv.Close()
			h := newHarness(t, srv, loggedInSeed())

			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = h.do(context.Background(), protected(i))
				}(i)
			}
			wg.Wait()

			for i, err := range errs {
				assert.NoError(t, err, "request %d", i)
			}
			assert.EqualValues(t, 1, be.refreshHits.Load())
			assert.EqualValues(t, n, be.staleHits.Load())

			be.mu.Lock()
			defer be.mu.Unlock()
			require.Len(t, be.replaysByCall, n)
			for i := 0; i < n; i++ {
				assert.Equal(t, 1, be.replaysByCall[fmt.Sprint(i)], "request %d replayed once", i)
			}
		})
	}
}

func TestConcurrentUnauthorizedRefreshFailure(t *testing.T) {
	const n = 8
	be := newBackend(t, n)
	be.refreshOK = false
	be.refreshDelay = 50 * time.Millisecond
	srv := httptest.NewServer(be)
	defer srv.Close()
	h := newHarness(t, srv, loggedInSeed())

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.do(context.Background(), protected(i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.Error(t, err, "request %d", i)
		assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err), "request %d", i)
	}
	assert.EqualValues(t, 1, be.refreshHits.Load())
	assert.EqualValues(t, 1, h.cleared.Load())
	assert.EqualValues(t, 0, h.refreshed.Load())
	assert.False(t, h.coordinator.Refreshing())

	keys, err := h.store.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)

	be.mu.Lock()
	assert.Empty(t, be.replaysByCall)
	be.mu.Unlock()
}

func TestQueuedRequestsReplayInArrivalOrder(t *testing.T) {
	be := newBackend(t, 0)
	be.refreshDelay = 400 * time.Millisecond
	srv := httptest.NewServer(be)
	defer srv.Close()
	h := newHarness(t, srv, loggedInSeed())

	var mu sync.Mutex
	var replayed []string
	send := func(ctx context.Context, desc dispatch.Descriptor) (*dispatch.Response, error) {
		if desc.Retried {
			mu.Lock()
			replayed = append(replayed, desc.Query.Get("n"))
			mu.Unlock()
		}
		return h.dispatcher.Send(ctx, desc)
	}

	const calls = 6
	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = h.coordinator.Intercept(context.Background(), protected(n), send)
		}(i)
		if i == 0 {
			require.Eventually(t, h.coordinator.Refreshing, time.Second, time.Millisecond)
			continue
		}
		require.Eventually(t, func() bool { return be.staleHits.Load() == int32(i+1) }, time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), be.refreshHits.Load())
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "0"}, replayed)
}

func TestRetriedRequestNeverRefreshesTwice(t *testing.T) {
	be := newBackend(t, 0)
	be.alwaysDeny = true
	srv := httptest.NewServer(be)
	defer srv.Close()
	h := newHarness(t, srv, loggedInSeed())

	_, err := h.do(context.Background(), protected(1))
	require.Error(t, err)

	var authErr *apperrors.AuthError
	require.True(t, apperrors.As(err, &authErr))
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.EqualValues(t, 1, be.refreshHits.Load())
	assert.EqualValues(t, 2, be.staleHits.Load())

	desc := protected(2)
	desc.Retried = true
	_, err = h.do(context.Background(), desc)
	assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err))
	assert.EqualValues(t, 1, be.refreshHits.Load())
}

func TestNoAuthUnauthorizedIsAuthError(t *testing.T) {
	be := newBackend(t, 0)
	srv := httptest.NewServer(be)
	defer srv.Close()
	h := newHarness(t, srv, loggedInSeed())

	_, err := h.do(context.Background(), dispatch.Descriptor{
		Method: http.MethodPost,
		Path:   "/api/auth/login",
		NoAuth: true,
	})
	assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err))
	assert.EqualValues(t, 0, be.refreshHits.Load())
}

func TestMissingRefreshCredentials(t *testing.T) {
	tests := map[string]map[string]any{
		"no refresh token": {
			credentials.KeyUser:        map[string]any{"Login": "alice"},
			credentials.KeyAccessToken: staleToken,
		},
		"no user": {
			credentials.KeyAccessToken:  staleToken,
			credentials.KeyRefreshToken: "refresh-1",
		},
	}
	for name, seed := range tests {
		t.Run(name, func(t *testing.T) {
			be := newBackend(t, 0)
			srv := httptest.NewServer(be)
			defer srv.Close()
			h := newHarness(t, srv, seed)

			_, err := h.do(context.Background(), protected(1))
			require.Error(t, err)
			assert.Equal(t, apperrors.KindAuth, apperrors.KindOf(err))
			assert.True(t, apperrors.Is(err, apperrors.ErrNoRefreshToken))
			assert.EqualValues(t, 0, be.refreshHits.Load())
			assert.EqualValues(t, 0, h.cleared.Load())
			assert.False(t, h.coordinator.Refreshing())

			// Storage is left alone.
			token, found, err := h.store.GetString(context.Background(), credentials.KeyAccessToken)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, staleToken, token)
		})
	}
}

func TestNonAuthErrorsPassThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	h := newHarness(t, srv, loggedInSeed())

	_, err := h.do(context.Background(), protected(1))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindHTTP, apperrors.KindOf(err))
	assert.EqualValues(t, 0, h.refreshed.Load())
}

func TestQueuedCallerCancelled(t *testing.T) {
	be := newBackend(t, 0)
	be.refreshDelay = 100 * time.Millisecond
	srv := httptest.NewServer(be)
	defer srv.Close()
	h := newHarness(t, srv, loggedInSeed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var errs [2]error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = h.do(context.Background(), protected(0))
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = h.do(ctx, protected(1))
	}()
	// Cancel while the refresh is in flight.
	time.Sleep(40 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.EqualValues(t, 1, be.refreshHits.Load())
	assert.False(t, h.coordinator.Refreshing())
	// The refresh completes for the caller that kept its context.
	assert.NoError(t, errs[0])
	stored, _, err := h.store.GetString(context.Background(), credentials.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, freshToken, stored)
}
