package cryptoutils

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/vault/api"
)

var ErrKeyNotFound = errors.New("key not found")

// VaultKeySource keeps a KeyPair in a Vault KV v2 secret. The token is taken
// from the environment (VAULT_TOKEN) by the Vault client.
type VaultKeySource struct {
	client    *api.Client
	mountPath string
	dataPath  string
}

// NewVaultKeySource creates a key source for the secret at mountPath/dataPath.
func NewVaultKeySource(address, mountPath, dataPath string) (*VaultKeySource, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	return &VaultKeySource{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
	}, nil
}

// NewVaultKeySourceFromURL parses vault://host:port/mount/path[?tls=false].
func NewVaultKeySourceFromURL(u *url.URL) (*VaultKeySource, error) {
	mount, data, found := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !found || mount == "" || data == "" {
		return nil, fmt.Errorf("vault key source must be vault://host/mount/path, got %q", u.String())
	}
	scheme := "https"
	if u.Query().Get("tls") == "false" {
		scheme = "http"
	}
	return NewVaultKeySource(fmt.Sprintf("%s://%s", scheme, u.Host), mount, data)
}

func (s *VaultKeySource) secretPath() string {
	return fmt.Sprintf("%s/data/%s", s.mountPath, s.dataPath)
}

// Load reads and validates the key pair.
func (s *VaultKeySource) Load(ctx context.Context) (*KeyPair, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrKeyNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, errors.New("invalid data format in Vault response")
	}

	field := func(name string) (string, error) {
		v, ok := data[name].(string)
		if !ok {
			return "", fmt.Errorf("%s not found in Vault data", name)
		}
		return v, nil
	}

	key := &KeyPair{}
	if key.Scheme, err = field("scheme"); err != nil {
		return nil, err
	}
	if key.PublicKey, err = field("public_key"); err != nil {
		return nil, err
	}
	if key.PrivateKey, err = field("private_key"); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}

// Store writes the key pair, replacing any previous version.
func (s *VaultKeySource) Store(ctx context.Context, key *KeyPair) error {
	_, err := s.client.Logical().WriteWithContext(ctx, s.secretPath(), map[string]interface{}{
		"data": map[string]interface{}{
			"scheme":      key.Scheme,
			"public_key":  key.PublicKey,
			"private_key": key.PrivateKey,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write to Vault: %w", err)
	}
	return nil
}

// Available reports whether Vault is initialized and unsealed.
func (s *VaultKeySource) Available(ctx context.Context) bool {
	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return false
	}
	return health.Initialized && !health.Sealed
}
