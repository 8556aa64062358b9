package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// Descriptor describes one API call relative to the dispatcher's base URL.
type Descriptor struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any // JSON-encoded unless []byte or json.RawMessage
	Headers http.Header

	// NoAuth marks calls that never carry an access token (login, refresh).
	// A 401 on such a call is never handed to the refresh coordinator.
	NoAuth bool
	// Retried is set once the call has been reissued after a token refresh.
	Retried bool
}

// Clone returns a copy whose headers and query can be modified independently.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Headers != nil {
		c.Headers = d.Headers.Clone()
	}
	if d.Query != nil {
		c.Query = make(url.Values, len(d.Query))
		for k, v := range d.Query {
			c.Query[k] = append([]string(nil), v...)
		}
	}
	return c
}

// WithAuthorization returns a copy carrying an explicit bearer token.
func (d Descriptor) WithAuthorization(token string) Descriptor {
	c := d.Clone()
	if c.Headers == nil {
		c.Headers = make(http.Header)
	}
	c.Headers.Set("Authorization", BearerHeader(token))
	return c
}

// SendFunc issues a request. Dispatcher.Send is the terminal SendFunc.
type SendFunc func(ctx context.Context, desc Descriptor) (*Response, error)

// Response is a 2xx reply with its body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// CleanToken strips the wrapping quotes left when a plain string token was
// JSON-encoded before being stored.
func CleanToken(token string) string {
	return strings.Trim(token, `"`)
}

// BearerHeader returns the Authorization header value for token.
func BearerHeader(token string) string {
	t := &oauth2.Token{AccessToken: CleanToken(token)}
	return t.Type() + " " + t.AccessToken
}
