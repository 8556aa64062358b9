package errors

import (
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can branch without matching messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindStorage
	KindHTTP
	KindAuth
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindHTTP:
		return "http"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

type kinded interface {
	Kind() Kind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k kinded
	if As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// StorageError is a local persistence failure.
type StorageError struct {
	Op  string // "set", "get", "remove", "clear", "keys"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
func (e *StorageError) Kind() Kind    { return KindStorage }

// HTTPError is a non-2xx response, returned verbatim.
type HTTPError struct {
	Status int
	Body   []byte
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (URL: %s)", e.Status, http.StatusText(e.Status), e.URL)
}

func (e *HTTPError) Kind() Kind { return KindHTTP }

// IsUnauthorized reports whether err carries an HTTP 401 response.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return As(err, &httpErr) && httpErr.Status == http.StatusUnauthorized
}

// AuthError is an authentication failure: bad login, no stored session,
// or a failed token refresh.
type AuthError struct {
	Reason string
	Err    error
}

// NewAuthError wraps err as an authentication failure. The sentinel's text is
// used as the reason when err is one of the package sentinels.
func NewAuthError(err error) *AuthError {
	return &AuthError{Reason: err.Error(), Err: err}
}

func (e *AuthError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }
func (e *AuthError) Kind() Kind    { return KindAuth }

// NetworkError is a transport failure or timeout.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (URL: %s): %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Kind() Kind    { return KindNetwork }
