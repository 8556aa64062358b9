package session

import (
	"encoding/json"

	apperrors "github.com/jrsteele09/go-backoffice-client/internal/errors"
	"github.com/jrsteele09/go-backoffice-client/users"
	"github.com/tidwall/gjson"
)

// Field names accepted for tokens in the legacy login response, in order.
var (
	AccessTokenAliases  = []string{"accessToken", "access_token", "token"}
	RefreshTokenAliases = []string{"refreshToken", "refresh_token"}
)

// ResponseShape identifies which login response variant was matched.
type ResponseShape int

const (
	// ShapeDirect is {success: true, user, accessToken, refreshToken}.
	ShapeDirect ResponseShape = iota + 1
	// ShapeLegacy carries the user row at result[0][0] and tokens at the top level.
	ShapeLegacy
)

func (s ResponseShape) String() string {
	switch s {
	case ShapeDirect:
		return "direct"
	case ShapeLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

type loginResponse struct {
	shape        ResponseShape
	user         users.Profile
	accessToken  string
	refreshToken string
}

// parseLoginResponse matches body against the two known shapes. Anything
// else fails closed.
func parseLoginResponse(body []byte) (*loginResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, apperrors.NewAuthError(apperrors.ErrInvalidResponseShape)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, apperrors.NewAuthError(apperrors.ErrInvalidResponseShape)
	}

	var parsed loginResponse
	var userField gjson.Result
	switch {
	case root.Get("success").Bool():
		parsed.shape = ShapeDirect
		userField = root.Get("user")
		parsed.accessToken = root.Get("accessToken").String()
		parsed.refreshToken = root.Get("refreshToken").String()
	case root.Get("result.0.0").Exists():
		parsed.shape = ShapeLegacy
		userField = root.Get("result.0.0")
		parsed.accessToken = firstString(root, AccessTokenAliases)
		parsed.refreshToken = firstString(root, RefreshTokenAliases)
	default:
		return nil, apperrors.NewAuthError(apperrors.ErrInvalidResponseShape)
	}

	if !userField.IsObject() || parsed.accessToken == "" {
		return nil, apperrors.NewAuthError(apperrors.ErrMissingUserOrToken)
	}
	if err := json.Unmarshal([]byte(userField.Raw), &parsed.user); err != nil {
		return nil, apperrors.NewAuthError(apperrors.ErrMissingUserOrToken)
	}
	return &parsed, nil
}

func firstString(root gjson.Result, fields []string) string {
	for _, f := range fields {
		if v := root.Get(f); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// serverMessage extracts the message field of an error body.
func serverMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "message").String()
}
