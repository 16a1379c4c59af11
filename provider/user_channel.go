package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/pkg/errors"
)

const maxUserBytes = 1 << 20

// UserChannel asks the provider's REST API who the bound token belongs to (GET /user).
type UserChannel struct {
	userURL string
	client  *http.Client
}

// NewUserChannel creates a fallback channel against baseURL. Requests go through the binder's
// client so they carry whatever credential is bound when they are sent.
func NewUserChannel(baseURL string, binder *Binder) (*UserChannel, error) {
	if binder == nil {
		return nil, errors.New("[NewUserChannel] binder is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[NewUserChannel] invalid base url %q", baseURL)
	}
	return &UserChannel{
		userURL: strings.TrimRight(baseURL, "/") + "/user",
		client:  binder.Client(),
	}, nil
}

// nativeUser is the provider's own representation of the authenticated user.
type nativeUser struct {
	ID        session.PrincipalID `json:"id"`
	NodeID    string              `json:"node_id"`
	Login     string              `json:"login"`
	Name      string              `json:"name"`
	AvatarURL string              `json:"avatar_url"`
	CreatedAt string              `json:"created_at"`
	UpdatedAt string              `json:"updated_at"`
}

type nativeError struct {
	Message string `json:"message"`
}

// Authenticated returns the principal for the bound token.
func (c *UserChannel) Authenticated(ctx context.Context) (session.Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userURL, nil)
	if err != nil {
		return session.Principal{}, errors.Wrap(err, "[UserChannel.Authenticated] http.NewRequest")
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return session.Principal{}, autherr.Transport(autherr.ChannelFallback, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUserBytes))
	if err != nil {
		return session.Principal{}, autherr.Transport(autherr.ChannelFallback, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ne nativeError
		_ = json.Unmarshal(raw, &ne)
		payload := autherr.Payload{}
		if ne.Message != "" {
			payload.Errors = []autherr.PayloadError{{Message: ne.Message}}
		}
		return session.Principal{}, autherr.FromResponse(autherr.ChannelFallback, resp.StatusCode, payload)
	}

	var user nativeUser
	if err := json.Unmarshal(raw, &user); err != nil {
		return session.Principal{}, &autherr.ProtocolError{
			Channel: autherr.ChannelFallback,
			Status:  resp.StatusCode,
			Err:     errors.Wrap(err, "malformed response"),
		}
	}

	principal := session.Principal{
		ID:        user.ID,
		NodeID:    user.NodeID,
		Login:     user.Login,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
		CreatedAt: session.ParseTimestamp(user.CreatedAt),
		UpdatedAt: session.ParseTimestamp(user.UpdatedAt),
	}
	if !principal.Valid() {
		return session.Principal{}, autherr.Invalid(autherr.ChannelFallback, "principal id and login are required")
	}
	return principal, nil
}
