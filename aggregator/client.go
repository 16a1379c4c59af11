// Package aggregator is the primary authentication channel: one GraphQL call to the aggregating
// backend that exchanges a provider token for an application session.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/pkg/errors"
)

const maxResponseBytes = 1 << 20

const loginQuery = `query auth($providerToken: String, $providerScope: [String!], $providerTokenType: String) {
  login(providerToken: $providerToken, providerScope: $providerScope, providerTokenType: $providerTokenType) {
    appToken
    user {
      _id
      github {
        scope
        tokenType
        user {
          id
          nodeId
          login
          name
          avatarUrl
          createdAt
          updatedAt
        }
      }
      createdAt
      updatedAt
      lastLoginAt
    }
  }
}`

// StatusPolicy decides whether a failed response with the given status may fall through to the
// fallback channel. Unauthorized responses never fall through, whatever the policy says.
type StatusPolicy func(status int) bool

// DefaultStatusPolicy lets every non-unauthorized failure fall through.
func DefaultStatusPolicy(int) bool { return true }

// StrictStatusPolicy only lets 5xx (and statuses outside the HTTP range) fall through; anything in
// [200,500) is treated as a definitive answer from the aggregator.
func StrictStatusPolicy(status int) bool {
	return status < http.StatusOK || status >= http.StatusInternalServerError
}

// Client calls the aggregator's login query.
type Client struct {
	endpoint   string
	httpClient *http.Client
	policy     StatusPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithStatusPolicy replaces DefaultStatusPolicy.
func WithStatusPolicy(p StatusPolicy) Option {
	return func(cl *Client) {
		if p != nil {
			cl.policy = p
		}
	}
}

// New creates a Client for the GraphQL endpoint.
func New(endpoint string, options ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("[aggregator.New] endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("[aggregator.New] invalid endpoint %q", endpoint)
	}

	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		policy:     DefaultStatusPolicy,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type loginResponse struct {
	Data struct {
		Login *loginPayload `json:"login"`
	} `json:"data"`
	Errors []autherr.PayloadError `json:"errors"`
}

type loginPayload struct {
	AppToken string `json:"appToken"`
	User     *struct {
		ID     string `json:"_id"`
		GitHub *struct {
			Scope     []string         `json:"scope"`
			TokenType string           `json:"tokenType"`
			User      principalPayload `json:"user"`
		} `json:"github"`
		CreatedAt   string `json:"createdAt"`
		UpdatedAt   string `json:"updatedAt"`
		LastLoginAt string `json:"lastLoginAt"`
	} `json:"user"`
}

type principalPayload struct {
	ID        session.PrincipalID `json:"id"`
	NodeID    string              `json:"nodeId"`
	Login     string              `json:"login"`
	Name      string              `json:"name"`
	AvatarURL string              `json:"avatarUrl"`
	CreatedAt string              `json:"createdAt"`
	UpdatedAt string              `json:"updatedAt"`
}

func (p principalPayload) principal() session.Principal {
	return session.Principal{
		ID:        p.ID,
		NodeID:    p.NodeID,
		Login:     p.Login,
		Name:      p.Name,
		AvatarURL: p.AvatarURL,
		CreatedAt: session.ParseTimestamp(p.CreatedAt),
		UpdatedAt: session.ParseTimestamp(p.UpdatedAt),
	}
}

// Exchange sends the login query with appToken as bearer credential and returns the normalized
// session. The returned session carries no credential; the caller owns that.
func (c *Client) Exchange(ctx context.Context, appToken string, cred session.Credential) (*session.Session, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: loginQuery,
		Variables: map[string]any{
			"providerToken":     cred.ProviderToken,
			"providerScope":     cred.Scope,
			"providerTokenType": cred.TokenType,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "[aggregator.Exchange] json.Marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "[aggregator.Exchange] http.NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if appToken != "" {
		req.Header.Set("Authorization", "bearer "+appToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, autherr.Transport(autherr.ChannelPrimary, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, autherr.Transport(autherr.ChannelPrimary, err)
	}

	var decoded loginResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok || len(decoded.Errors) > 0 {
		return nil, c.failure(resp.StatusCode, autherr.Payload{Errors: decoded.Errors})
	}
	if decodeErr != nil {
		return nil, c.mark(&autherr.ProtocolError{
			Channel: autherr.ChannelPrimary,
			Status:  resp.StatusCode,
			Err:     errors.Wrap(decodeErr, "malformed response"),
		})
	}

	return toSession(decoded.Data.Login)
}

func (c *Client) failure(status int, payload autherr.Payload) error {
	err := autherr.FromResponse(autherr.ChannelPrimary, status, payload)
	if protocol, ok := err.(*autherr.ProtocolError); ok {
		return c.mark(protocol)
	}
	return err
}

func (c *Client) mark(err *autherr.ProtocolError) error {
	err.Final = !c.policy(err.Status)
	return err
}

func toSession(login *loginPayload) (*session.Session, error) {
	switch {
	case login == nil:
		return nil, autherr.Invalid(autherr.ChannelPrimary, "missing login")
	case login.AppToken == "":
		return nil, autherr.Invalid(autherr.ChannelPrimary, "missing app token")
	case login.User == nil || login.User.GitHub == nil:
		return nil, autherr.Invalid(autherr.ChannelPrimary, "missing user")
	}

	principal := login.User.GitHub.User.principal()
	if !principal.Valid() {
		return nil, autherr.Invalid(autherr.ChannelPrimary, "principal id and login are required")
	}

	s := &session.Session{
		AppToken:    login.AppToken,
		AccountID:   login.User.ID,
		Principal:   principal,
		CreatedAt:   session.ParseTimestamp(login.User.CreatedAt),
		UpdatedAt:   session.ParseTimestamp(login.User.UpdatedAt),
		LastLoginAt: session.ParseTimestamp(login.User.LastLoginAt),
	}
	if exp, ok := AppTokenExpiry(login.AppToken); ok {
		s.AppTokenExpiresAt = exp
	}
	return s, nil
}
