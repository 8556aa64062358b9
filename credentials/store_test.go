package credentials_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jrsteele09/go-backoffice-client/credentials"
	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend wraps a memory backend and fails the configured operations.
type failingBackend struct {
	*credentials.MemoryBackend
	failSet    map[string]bool
	failGet    bool
	failRemove bool
	failClear  bool
}

var errDisk = errors.New("disk unavailable")

func (f *failingBackend) Set(ctx context.Context, key, value string) error {
	if f.failSet[key] {
		return errDisk
	}
	return f.MemoryBackend.Set(ctx, key, value)
}

func (f *failingBackend) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errDisk
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *failingBackend) Remove(ctx context.Context, key string) error {
	if f.failRemove {
		return errDisk
	}
	return f.MemoryBackend.Remove(ctx, key)
}

func (f *failingBackend) Clear(ctx context.Context) error {
	if f.failClear {
		return errDisk
	}
	return f.MemoryBackend.Clear(ctx)
}

func TestStoreRoundTripObject(t *testing.T) {
	ctx := context.Background()
	store := credentials.New(credentials.NewMemoryBackend())

	require.NoError(t, store.Set(ctx, credentials.KeyUser, map[string]any{"Code": "C1", "Name": "Test"}))

	var user map[string]any
	found, err := store.Get(ctx, credentials.KeyUser, &user)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"Code": "C1", "Name": "Test"}, user)

	var generic any
	found, err = store.Get(ctx, credentials.KeyUser, &generic)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"Code": "C1", "Name": "Test"}, generic)
}

func TestStoreStringsPassThrough(t *testing.T) {
	ctx := context.Background()
	backend := credentials.NewMemoryBackend()
	store := credentials.New(backend)

	require.NoError(t, store.Set(ctx, credentials.KeyAccessToken, "abc.def.ghi"))
	raw, _, _ := backend.Get(ctx, credentials.KeyAccessToken)
	assert.Equal(t, "abc.def.ghi", raw, "strings must not be JSON encoded")

	tok, found, err := store.GetString(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc.def.ghi", tok)

	// A value that was JSON-encoded by an older client is unwrapped once.
	require.NoError(t, backend.Set(ctx, credentials.KeyRefreshToken, `"def"`))
	tok, _, err = store.GetString(ctx, credentials.KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "def", tok)

	// Numeric-looking tokens stay strings.
	require.NoError(t, store.Set(ctx, credentials.KeyAccessToken, "12345"))
	tok, _, err = store.GetString(ctx, credentials.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "12345", tok)
}

func TestStoreMissingKey(t *testing.T) {
	store := credentials.New(credentials.NewMemoryBackend())

	var user map[string]any
	found, err := store.Get(context.Background(), credentials.KeyUser, &user)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, user)
}

func TestStoreFailuresAreStorageErrors(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{
		MemoryBackend: credentials.NewMemoryBackend(),
		failSet:       map[string]bool{credentials.KeyAccessToken: true},
		failGet:       true,
		failRemove:    true,
		failClear:     true,
	}
	store := credentials.New(backend)

	tests := []struct {
		name string
		op   string
		call func() error
	}{
		{"set", "set", func() error { return store.Set(ctx, credentials.KeyAccessToken, "abc") }},
		{"get", "get", func() error { _, _, err := store.GetString(ctx, credentials.KeyAccessToken); return err }},
		{"remove", "remove", func() error { return store.Remove(ctx, credentials.KeyAccessToken) }},
		{"clear", "clear", func() error { return store.Clear(ctx) }},
		{"encode", "set", func() error { return store.Set(ctx, credentials.KeyUser, make(chan int)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			var storageErr *apperrors.StorageError
			require.True(t, apperrors.As(err, &storageErr))
			assert.Equal(t, tt.op, storageErr.Op)
			assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))
		})
	}
}

func TestStoreDecodeFailure(t *testing.T) {
	ctx := context.Background()
	backend := credentials.NewMemoryBackend()
	require.NoError(t, backend.Set(ctx, credentials.KeyUser, "not json"))
	store := credentials.New(backend)

	var user map[string]any
	found, err := store.Get(ctx, credentials.KeyUser, &user)
	assert.False(t, found)
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))
}

func TestStoreMultiSetAndMultiGet(t *testing.T) {
	ctx := context.Background()
	store := credentials.New(credentials.NewMemoryBackend())

	require.NoError(t, store.MultiSet(ctx, map[string]any{
		credentials.KeyUser:        map[string]any{"Login": "alice"},
		credentials.KeyAccessToken: "abc",
	}))

	values, err := store.MultiGet(ctx, credentials.KeyUser, credentials.KeyAccessToken, credentials.KeyRefreshToken)
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Equal(t, "abc", values.String(credentials.KeyAccessToken))
	assert.Equal(t, "", values.String(credentials.KeyRefreshToken))

	var user map[string]any
	found, err := values.Decode(credentials.KeyUser, &user)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", user["Login"])
}

func TestStoreMultiSetContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{
		MemoryBackend: credentials.NewMemoryBackend(),
		failSet:       map[string]bool{credentials.KeyAccessToken: true},
	}
	store := credentials.New(backend)

	err := store.MultiSet(ctx, map[string]any{
		credentials.KeyAccessToken:  "abc",
		credentials.KeyRefreshToken: "def",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))

	tok, found, err := store.GetString(ctx, credentials.KeyRefreshToken)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "def", tok)
}

func TestStoreMultiSetEncodesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	store := credentials.New(credentials.NewMemoryBackend())

	err := store.MultiSet(ctx, map[string]any{
		credentials.KeyAccessToken: "abc",
		credentials.KeyUser:        func() {},
	})
	require.Error(t, err)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	store := credentials.New(credentials.NewMemoryBackend())
	for _, k := range credentials.SessionKeys {
		require.NoError(t, store.Set(ctx, k, "v"))
	}

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"accessToken", "refreshToken", "token", "user"}, keys)

	require.NoError(t, store.Clear(ctx))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
