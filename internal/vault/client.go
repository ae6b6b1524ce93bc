// Package vault reads database credentials from HashiCorp Vault so they
// never sit in the environment of a production deployment.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"raspadinha-platform/config"
)

// DatabaseCredentials is the secret material stored under the configured
// KV path
type DatabaseCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
}

// NewClient creates a new Vault client. With Vault disabled the client is
// inert and credential lookups fall back to the environment config.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// IsEnabled returns whether Vault integration is active
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// GetDatabaseCredentials reads the database credentials from the KV v2
// secret at mount_path/secret_path
func (c *Client) GetDatabaseCredentials(ctx context.Context) (*DatabaseCredentials, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read database credentials: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	// KV v2 nests the payload under "data"
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}

	creds := &DatabaseCredentials{}
	if v, ok := data["username"].(string); ok {
		creds.Username = v
	}
	if v, ok := data["password"].(string); ok {
		creds.Password = v
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("secret at %s is missing username or password", path)
	}
	return creds, nil
}

// Health checks Vault connectivity
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}
