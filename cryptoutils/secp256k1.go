package cryptoutils

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const compressedPubkeySize = 33

// Secp256k1Scheme signs keccak256(msg) with a recoverable secp256k1 signature.
// Public keys are 33-byte compressed points.
type Secp256k1Scheme struct{}

func (Secp256k1Scheme) Name() string {
	return SchemeSecp256k1
}

func (Secp256k1Scheme) GenerateKey() (*KeyPair, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("could not generate secp256k1 key: %w", err)
	}
	return &KeyPair{
		Scheme:     SchemeSecp256k1,
		PublicKey:  hex.EncodeToString(crypto.CompressPubkey(&priv.PublicKey)),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(priv)),
	}, nil
}

func (Secp256k1Scheme) Sign(key *KeyPair, msg []byte) (string, error) {
	privBytes, err := hex.DecodeString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key encoding: %w", err)
	}
	priv, err := crypto.ToECDSA(privBytes)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	sig, err := crypto.Sign(crypto.Keccak256(msg), priv)
	if err != nil {
		return "", fmt.Errorf("could not sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

func (Secp256k1Scheme) Verify(pubkey string, msg []byte, signature string) error {
	pub, err := decodePublicKey(pubkey, compressedPubkeySize)
	if err != nil {
		return err
	}
	if _, err := crypto.DecompressPubkey(pub); err != nil {
		return ErrInvalidPublicKey
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrInvalidSignature
	}
	if !crypto.VerifySignature(pub, crypto.Keccak256(msg), sig[:crypto.RecoveryIDOffset]) {
		return ErrInvalidSignature
	}
	return nil
}
