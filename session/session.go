package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"golang.org/x/oauth2"
)

// Credential identifies the holder of a session at the provider.
// It is replaced wholesale, never patched field by field.
type Credential struct {
	ProviderToken string   `json:"providerToken"`       // Opaque provider token used on every authenticated call
	TokenType     string   `json:"tokenType,omitempty"` // Provider defined scheme, e.g. "bearer"
	Scope         []string `json:"scope,omitempty"`     // Granted permissions, in provider order
}

// NewCredential builds a Credential that does not share the scope slice with the caller.
func NewCredential(providerToken, tokenType string, scope []string) Credential {
	return Credential{
		ProviderToken: providerToken,
		TokenType:     tokenType,
		Scope:         slices.Clone(scope),
	}
}

// IsZero reports whether the credential carries no provider token.
func (c Credential) IsZero() bool {
	return c.ProviderToken == ""
}

// Clone returns a deep copy of the credential.
func (c Credential) Clone() Credential {
	return NewCredential(c.ProviderToken, c.TokenType, c.Scope)
}

// Fingerprint is a log-safe identifier for the token: a short prefix plus its length.
func (c Credential) Fingerprint() string {
	if c.ProviderToken == "" {
		return "<none>"
	}
	prefix := c.ProviderToken
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	return fmt.Sprintf("%s…(%d)", prefix, len(c.ProviderToken))
}

// OAuth2Token converts the credential into the token shape used by outbound oauth2 transports.
func (c Credential) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: c.ProviderToken,
		TokenType:   c.TokenType,
	}
}

// PrincipalID is the provider's identifier for a principal. Providers send it either as a JSON
// number (GitHub style) or as a string (OIDC "sub"); both decode into the same value.
type PrincipalID string

func (id *PrincipalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = PrincipalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("principal id: %w", err)
	}
	*id = PrincipalID(n.String())
	return nil
}

func (id PrincipalID) String() string {
	return string(id)
}

// Principal is the authenticated identity as the provider knows it.
type Principal struct {
	ID        PrincipalID `json:"id"`
	NodeID    string      `json:"nodeId,omitempty"`
	Login     string      `json:"login"`
	Name      string      `json:"name,omitempty"`
	AvatarURL string      `json:"avatarUrl,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Valid reports whether the principal is structurally complete: a non-empty id and login.
func (p Principal) Valid() bool {
	return p.ID != "" && p.Login != ""
}

// Session is the application's record of an authenticated principal and its credential.
// Zero timestamps are placeholders for values the issuing channel did not supply.
type Session struct {
	AppToken          string     `json:"appToken,omitempty"`  // Aggregator issued token, absent on the fallback path
	AppTokenExpiresAt time.Time  `json:"appTokenExpiresAt"`   // Read from the app token claims when it is a JWT
	AccountID         string     `json:"accountId,omitempty"` // Aggregator side account id, absent on the fallback path
	Credential        Credential `json:"credential"`
	Principal         Principal  `json:"principal"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	LastLoginAt       time.Time  `json:"lastLoginAt"`
}

// HasAppToken reports whether the session came with an aggregator issued token.
func (s *Session) HasAppToken() bool {
	return s != nil && s.AppToken != ""
}

// Clone returns a deep copy, or nil for a nil session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Credential = s.Credential.Clone()
	return &c
}

// Redacted returns a copy safe to hand to consumers that render the session: the provider
// token is dropped and a present app token is replaced by a marker.
func (s *Session) Redacted() *Session {
	c := s.Clone()
	if c == nil {
		return nil
	}
	if c.AppToken != "" {
		c.AppToken = "redacted"
	}
	c.Credential.ProviderToken = ""
	return c
}

// ParseTimestamp reads an RFC 3339 timestamp as sent by the aggregator or the provider. Empty or
// unparsable values yield the zero time, the placeholder for "not supplied".
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
