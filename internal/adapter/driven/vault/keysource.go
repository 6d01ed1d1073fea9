// Package vault implements the KeySource port by reading the encryption key
// from a HashiCorp Vault KV v2 secret.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"github.com/ericfisherdev/radcred/internal/domain/errs"
	"github.com/ericfisherdev/radcred/internal/domain/port/driven"
	"github.com/ericfisherdev/radcred/internal/secret"
)

// Compile-time interface satisfaction check.
var _ driven.KeySource = (*KeySource)(nil)

const setting = "vault encryption key"

// KeySource reads a 32-byte key stored hex or base64 encoded under field of
// the KV v2 secret at path (including the "data/" segment).
type KeySource struct {
	client *api.Client
	path   string
	field  string
}

// NewKeySource creates a Vault client for addr authenticated with token.
func NewKeySource(addr, token, path, field string) (*KeySource, error) {
	config := api.DefaultConfig()
	if config.Error != nil {
		return nil, errs.NewConfigurationError(setting, "vault client config", config.Error)
	}
	config.Address = addr

	client, err := api.NewClient(config)
	if err != nil {
		return nil, errs.NewConfigurationError(setting, "create vault client", err)
	}
	client.SetToken(token)

	return &KeySource{client: client, path: path, field: field}, nil
}

// EncryptionKey reads and decodes the key. Every failure is a ConfigurationError.
func (k *KeySource) EncryptionKey(ctx context.Context) ([]byte, error) {
	s, err := k.client.Logical().ReadWithContext(ctx, k.path)
	if err != nil {
		return nil, errs.NewConfigurationError(setting, fmt.Sprintf("read %s", k.path), err)
	}
	if s == nil || s.Data == nil {
		return nil, errs.NewConfigurationError(setting, fmt.Sprintf("no secret at %s", k.path), nil)
	}

	// KV v2 wraps the actual data in a "data" key
	data, ok := s.Data["data"].(map[string]interface{})
	if !ok {
		return nil, errs.NewConfigurationError(setting, fmt.Sprintf("%s is not a KV v2 secret", k.path), nil)
	}

	encoded, ok := data[k.field].(string)
	if !ok || encoded == "" {
		return nil, errs.NewConfigurationError(setting, fmt.Sprintf("field %q missing at %s", k.field, k.path), nil)
	}

	return secret.ParseKey(encoded)
}
