package credentials

import (
	"context"
	"encoding/json"
	"sort"

	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
	"github.com/rs/zerolog/log"
)

// Keys of the persisted session entries. Each is stored independently so a
// token without a user (or the reverse) is representable.
const (
	KeyUser         = "user"
	KeyToken        = "token" // legacy alias of KeyUser
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// SessionKeys lists every entry written by a login.
var SessionKeys = []string{KeyUser, KeyToken, KeyAccessToken, KeyRefreshToken}

// Backend is raw string key/value persistence.
type Backend interface {
	Set(ctx context.Context, key, value string) error
	// Get returns found=false with a nil error for a missing key.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Store encodes values on top of a Backend. Strings are written verbatim so
// tokens are never double encoded; everything else is JSON. Every backend
// failure is logged and returned as *errors.StorageError.
type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Set persists value under key. A non-nil error means the value was not
// durably saved.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	raw, err := encode(value)
	if err != nil {
		return s.fail("set", key, err)
	}
	if err := s.backend.Set(ctx, key, raw); err != nil {
		return s.fail("set", key, err)
	}
	log.Debug().Str("key", key).Msg("Saved to storage")
	return nil
}

// Get decodes the value stored under key into out. A *string target receives
// the stored string; other targets are JSON-decoded. Missing keys report
// found=false and leave out untouched.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, s.fail("get", key, err)
	}
	if !found {
		return false, nil
	}
	if err := decode(raw, out); err != nil {
		return false, s.fail("decode", key, err)
	}
	return true, nil
}

// GetString returns the string stored under key.
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	var v string
	found, err := s.Get(ctx, key, &v)
	return v, found, err
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.Remove(ctx, key); err != nil {
		return s.fail("remove", key, err)
	}
	log.Debug().Str("key", key).Msg("Removed from storage")
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return s.fail("clear", "", err)
	}
	log.Debug().Msg("Storage cleared")
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, s.fail("keys", "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Values holds raw entries returned by MultiGet.
type Values map[string]string

// Decode decodes the entry for key into out with the same rules as Store.Get.
func (v Values) Decode(key string, out any) (bool, error) {
	raw, ok := v[key]
	if !ok {
		return false, nil
	}
	if err := decode(raw, out); err != nil {
		return false, &apperrors.StorageError{Op: "decode", Key: key, Err: err}
	}
	return true, nil
}

// String returns the decoded string entry for key, "" when absent.
func (v Values) String(key string) string {
	var s string
	if ok, err := v.Decode(key, &s); !ok || err != nil {
		return ""
	}
	return s
}

// MultiGet reads several keys. Missing keys are omitted from the result;
// failures are joined into the returned error while the remaining keys are still read.
func (s *Store) MultiGet(ctx context.Context, keys ...string) (Values, error) {
	values := make(Values, len(keys))
	var errs []error
	for _, key := range keys {
		raw, found, err := s.backend.Get(ctx, key)
		if err != nil {
			errs = append(errs, s.fail("get", key, err))
			continue
		}
		if found {
			values[key] = raw
		}
	}
	return values, apperrors.Join(errs...)
}

// MultiSet encodes every value before writing any of them, then writes them
// in key order. Write failures are joined and do not stop later writes.
func (s *Store) MultiSet(ctx context.Context, entries map[string]any) error {
	keys := make([]string, 0, len(entries))
	encoded := make(map[string]string, len(entries))
	for key, value := range entries {
		raw, err := encode(value)
		if err != nil {
			return s.fail("set", key, err)
		}
		keys = append(keys, key)
		encoded[key] = raw
	}
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		if err := s.backend.Set(ctx, key, encoded[key]); err != nil {
			errs = append(errs, s.fail("set", key, err))
		}
	}
	if len(errs) == 0 {
		log.Debug().Strs("keys", keys).Msg("Multi set successful")
	}
	return apperrors.Join(errs...)
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) fail(op, key string, err error) error {
	log.Err(err).Str("op", op).Str("key", key).Msg("Credential storage failure")
	return &apperrors.StorageError{Op: op, Key: key, Err: err}
}

func encode(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(raw string, out any) error {
	switch target := out.(type) {
	case *string:
		*target = decodeString(raw)
		return nil
	case *any:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			*target = raw
			return nil
		}
		*target = v
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

// decodeString unwraps a JSON-encoded string and passes anything else through.
func decodeString(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	return raw
}
