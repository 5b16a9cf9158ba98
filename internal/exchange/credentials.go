package exchange

import (
	"context"

	"signal-engine-go/internal/config"
)

// ConfigCredentialProvider serves the statically configured API credentials
// for every user. It stands in where no credential decryption service is
// wired; the engine side of the contract is identical.
type ConfigCredentialProvider struct {
	cfg *config.Exchange
}

// NewConfigCredentialProvider creates a provider backed by configuration.
func NewConfigCredentialProvider(cfg *config.Exchange) *ConfigCredentialProvider {
	return &ConfigCredentialProvider{cfg: cfg}
}

var _ CredentialProvider = (*ConfigCredentialProvider)(nil)

// DecryptCredentials returns the configured credentials regardless of user.
func (p *ConfigCredentialProvider) DecryptCredentials(_ context.Context, _, _ string) (*Credentials, error) {
	return &Credentials{
		APIKey:    p.cfg.ApiKey,
		APISecret: p.cfg.SecretKey,
	}, nil
}
