package cryptoutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// KeyPair is a participant or coordinator signing key. Both halves are hex encoded.
type KeyPair struct {
	Scheme     string `json:"scheme"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k *KeyPair) Validate() error {
	if k.PublicKey == "" || k.PrivateKey == "" {
		return errors.New("key pair is missing a key")
	}
	scheme, err := NewSignatureScheme(k.Scheme)
	if err != nil {
		return err
	}
	sig, err := scheme.Sign(k, []byte(k.PublicKey))
	if err != nil {
		return fmt.Errorf("could not sign with key pair: %w", err)
	}
	if err := scheme.Verify(k.PublicKey, []byte(k.PublicKey), sig); err != nil {
		return fmt.Errorf("public key does not match private key: %w", err)
	}
	return nil
}

func LoadKeyFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read key file: %w", err)
	}
	var key KeyPair
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("could not parse key file: %w", err)
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &key, nil
}

func SaveKeyFile(path string, key *KeyPair) error {
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create key directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKeyPair resolves a key source URI. Supported forms:
//
//	file:///path/to/key.json
//	vault://vault.example.com:8200/secret/coordinator?tls=false
//
// A bare path is treated as a file.
func LoadKeyPair(ctx context.Context, source string) (*KeyPair, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid key source: %w", err)
	}
	switch u.Scheme {
	case "", "file":
		path := u.Path
		if u.Scheme == "" {
			path = source
		}
		return LoadKeyFile(path)
	case "vault":
		ks, err := NewVaultKeySourceFromURL(u)
		if err != nil {
			return nil, err
		}
		return ks.Load(ctx)
	default:
		return nil, fmt.Errorf("unsupported key source scheme %q", u.Scheme)
	}
}

// StoreKeyPair writes key to a key source URI accepted by LoadKeyPair.
func StoreKeyPair(ctx context.Context, dest string, key *KeyPair) error {
	u, err := url.Parse(dest)
	if err != nil {
		return fmt.Errorf("invalid key destination: %w", err)
	}
	switch u.Scheme {
	case "":
		return SaveKeyFile(dest, key)
	case "file":
		return SaveKeyFile(u.Path, key)
	case "vault":
		ks, err := NewVaultKeySourceFromURL(u)
		if err != nil {
			return err
		}
		return ks.Store(ctx, key)
	default:
		return fmt.Errorf("unsupported key destination scheme %q", u.Scheme)
	}
}
