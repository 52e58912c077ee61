package cryptoutils

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownScheme    = errors.New("unknown signature scheme")
)

// SignatureScheme signs and verifies participant messages. Public keys and
// signatures travel hex encoded. A public key is the participant's identity,
// so Verify accepts only its canonical form: lowercase hex without a prefix
// of the compressed point.
type SignatureScheme interface {
	Name() string
	GenerateKey() (*KeyPair, error)
	Sign(key *KeyPair, msg []byte) (string, error)
	Verify(pubkey string, msg []byte, signature string) error
}

const (
	SchemeSecp256k1 = "secp256k1"
	SchemeBLS       = "bls12381"
)

// NewSignatureScheme returns the scheme registered under name.
func NewSignatureScheme(name string) (SignatureScheme, error) {
	switch name {
	case SchemeSecp256k1, "":
		return Secp256k1Scheme{}, nil
	case SchemeBLS:
		return BLSScheme{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}

// decodePublicKey decodes a canonically encoded public key of size bytes.
func decodePublicKey(pubkey string, size int) ([]byte, error) {
	raw, err := hex.DecodeString(pubkey)
	if err != nil || len(raw) != size || hex.EncodeToString(raw) != pubkey {
		return nil, ErrInvalidPublicKey
	}
	return raw, nil
}
