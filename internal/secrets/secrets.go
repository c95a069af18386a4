// Package secrets resolves Redis credentials from HashiCorp Vault when
// enabled, adapting the teacher's internal/vault client (which stored and
// fetched per-user exchange API keys) down to the one secret this engine
// ever needs: the queue backend's username and password.
package secrets

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"github.com/xiangxn/perpx/config"
)

// RedisCredentials is the pair resolved either from Vault or straight from
// the TOML config.
type RedisCredentials struct {
	User     string
	Password string
}

// Resolver fetches Redis credentials, optionally backed by a Vault client.
type Resolver struct {
	cfg    config.VaultConfig
	client *api.Client
}

// NewResolver builds a Resolver. When cfg.Enabled is false the returned
// Resolver always falls back to the config-supplied credentials and never
// dials Vault.
func NewResolver(cfg config.VaultConfig) (*Resolver, error) {
	if !cfg.Enabled {
		return &Resolver{cfg: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Resolver{cfg: cfg, client: client}, nil
}

// Resolve returns the Redis credentials to connect with, reading them from
// Vault when enabled and returning the caller-supplied defaults (normally
// the TOML file's redis.user/redis.password) when it is not. A failed or
// empty Vault read is returned as an error; it does not fall back.
func (r *Resolver) Resolve(ctx context.Context, fallback RedisCredentials) (RedisCredentials, error) {
	if !r.cfg.Enabled {
		return fallback, nil
	}

	path := fmt.Sprintf("%s/data/%s", r.cfg.MountPath, r.cfg.SecretPath)
	secret, err := r.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return RedisCredentials{}, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return RedisCredentials{}, fmt.Errorf("secrets: no data at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return RedisCredentials{}, fmt.Errorf("secrets: unexpected secret format at %s", path)
	}

	return RedisCredentials{
		User:     getString(data, "user"),
		Password: getString(data, "password"),
	}, nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
