package config

import "time"

type ChannelConfig interface {
	GetAggregatorURL() string
	GetProviderAPIURL() string
	GetOIDCIssuerURL() string
	GetPrimaryTimeout() time.Duration
	GetFallbackTimeout() time.Duration
	GetStrictStatusPolicy() bool
}

type Channels struct {
	AggregatorURL      string        `env:"AGGREGATOR_URL"       envDefault:"http://localhost:4000/graphql"`
	ProviderAPIURL     string        `env:"PROVIDER_API_URL"     envDefault:"https://api.github.com"`
	OIDCIssuerURL      string        `env:"OIDC_ISSUER_URL"`
	PrimaryTimeout     time.Duration `env:"PRIMARY_TIMEOUT"      envDefault:"10s"`
	FallbackTimeout    time.Duration `env:"FALLBACK_TIMEOUT"     envDefault:"10s"`
	StrictStatusPolicy bool          `env:"STRICT_STATUS_POLICY" envDefault:"false"`
}

var _ ChannelConfig = Channels{}

func (c Channels) GetAggregatorURL() string {
	return c.AggregatorURL
}

func (c Channels) GetProviderAPIURL() string {
	return c.ProviderAPIURL
}

// GetOIDCIssuerURL is empty unless the provider speaks OpenID Connect.
func (c Channels) GetOIDCIssuerURL() string {
	return c.OIDCIssuerURL
}

func (c Channels) GetPrimaryTimeout() time.Duration {
	return c.PrimaryTimeout
}

func (c Channels) GetFallbackTimeout() time.Duration {
	return c.FallbackTimeout
}

func (c Channels) GetStrictStatusPolicy() bool {
	return c.StrictStatusPolicy
}
