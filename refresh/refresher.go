package refresh

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-backoffice-client/dispatch"
	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
)

// RefreshPath is the token refresh endpoint.
const RefreshPath = "/api/auth/refresh"

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, username, refreshToken string) (string, error)
}

type refreshRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

type refreshResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"accessToken"`
}

// HTTPRefresher calls the refresh endpoint with a raw SendFunc so the call
// itself never passes through the coordinator.
type HTTPRefresher struct {
	send dispatch.SendFunc
}

var _ Refresher = (*HTTPRefresher)(nil)

func NewHTTPRefresher(send dispatch.SendFunc) *HTTPRefresher {
	return &HTTPRefresher{send: send}
}

func (r *HTTPRefresher) Refresh(ctx context.Context, username, refreshToken string) (string, error) {
	resp, err := r.send(ctx, dispatch.Descriptor{
		Method: http.MethodPost,
		Path:   RefreshPath,
		Body: refreshRequest{
			Username: username,
			Token:    dispatch.CleanToken(refreshToken),
		},
		NoAuth: true,
	})
	if err != nil {
		return "", err
	}

	var body refreshResponse
	if err := resp.Decode(&body); err != nil {
		return "", apperrors.Wrapf(apperrors.ErrInvalidRefreshResponse, "decode: %v", err)
	}
	if !body.Success || body.AccessToken == "" {
		return "", apperrors.ErrInvalidRefreshResponse
	}
	return body.AccessToken, nil
}
