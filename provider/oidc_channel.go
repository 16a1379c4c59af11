package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-provider-session/autherr"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/pkg/errors"
)

// OIDCUserInfoChannel is the fallback channel for OpenID Connect providers: the bound token is
// presented to the issuer's userinfo endpoint.
type OIDCUserInfoChannel struct {
	issuer     string
	binder     *Binder
	httpClient *http.Client

	providerLock sync.RWMutex
	provider     *oidc.Provider
}

// OIDCOption configures an OIDCUserInfoChannel.
type OIDCOption func(*OIDCUserInfoChannel)

// WithOIDCHTTPClient sets the client used for discovery and userinfo requests.
func WithOIDCHTTPClient(c *http.Client) OIDCOption {
	return func(ch *OIDCUserInfoChannel) {
		if c != nil {
			ch.httpClient = c
		}
	}
}

// NewOIDCUserInfoChannel creates the channel. Discovery happens on first use.
func NewOIDCUserInfoChannel(issuer string, binder *Binder, options ...OIDCOption) (*OIDCUserInfoChannel, error) {
	if issuer == "" {
		return nil, errors.New("[NewOIDCUserInfoChannel] issuer is required")
	}
	if binder == nil {
		return nil, errors.New("[NewOIDCUserInfoChannel] binder is required")
	}
	ch := &OIDCUserInfoChannel{
		issuer:     issuer,
		binder:     binder,
		httpClient: &http.Client{},
	}
	for _, opt := range options {
		opt(ch)
	}
	return ch, nil
}

type userInfoClaims struct {
	PreferredUsername string      `json:"preferred_username"`
	Nickname          string      `json:"nickname"`
	Name              string      `json:"name"`
	Picture           string      `json:"picture"`
	UpdatedAt         json.Number `json:"updated_at"`
}

// Authenticated returns the principal for the bound token.
func (c *OIDCUserInfoChannel) Authenticated(ctx context.Context) (session.Principal, error) {
	ctx = oidc.ClientContext(ctx, c.httpClient)

	p, err := c.discover(ctx)
	if err != nil {
		return session.Principal{}, err
	}

	info, err := p.UserInfo(ctx, c.binder)
	if err != nil {
		return session.Principal{}, classifyOIDCError(err)
	}

	var claims userInfoClaims
	if err := info.Claims(&claims); err != nil {
		return session.Principal{}, &autherr.ProtocolError{
			Channel: autherr.ChannelFallback,
			Status:  http.StatusOK,
			Err:     errors.Wrap(err, "malformed userinfo claims"),
		}
	}

	login := claims.PreferredUsername
	if login == "" {
		login = claims.Nickname
	}
	if login == "" {
		login = info.Email
	}

	principal := session.Principal{
		ID:        session.PrincipalID(info.Subject),
		Login:     login,
		Name:      claims.Name,
		AvatarURL: claims.Picture,
	}
	if secs, err := claims.UpdatedAt.Int64(); err == nil && secs > 0 {
		principal.UpdatedAt = time.Unix(secs, 0).UTC()
	}
	if !principal.Valid() {
		return session.Principal{}, autherr.Invalid(autherr.ChannelFallback, "userinfo subject and username are required")
	}
	return principal, nil
}

func (c *OIDCUserInfoChannel) discover(ctx context.Context) (*oidc.Provider, error) {
	c.providerLock.RLock()
	p := c.provider
	c.providerLock.RUnlock()
	if p != nil {
		return p, nil
	}

	p, err := oidc.NewProvider(ctx, c.issuer)
	if err != nil {
		return nil, autherr.Transport(autherr.ChannelFallback, errors.Wrap(err, "oidc discovery"))
	}

	c.providerLock.Lock()
	c.provider = p
	c.providerLock.Unlock()
	return p, nil
}

// classifyOIDCError recovers the status from go-oidc's "<code> <text>: <body>" userinfo errors.
func classifyOIDCError(err error) error {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return autherr.Transport(autherr.ChannelFallback, err)
	}

	code, rest, found := strings.Cut(msg, " ")
	if status, convErr := strconv.Atoi(code); found && convErr == nil && status >= 100 && status < 600 {
		payload := autherr.Payload{Errors: []autherr.PayloadError{{Message: strings.TrimSpace(rest)}}}
		return autherr.FromResponse(autherr.ChannelFallback, status, payload)
	}
	return autherr.Transport(autherr.ChannelFallback, err)
}
