package cryptoutils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	blst "github.com/supranational/blst/bindings/go"
)

// BLSDomain is the hash-to-curve domain separation tag for participant signatures.
var BLSDomain = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// BLSScheme uses min-pk BLS12-381 signatures: 48-byte G1 public keys and
// 96-byte G2 signatures.
type BLSScheme struct{}

func (BLSScheme) Name() string {
	return SchemeBLS
}

func (BLSScheme) GenerateKey() (*KeyPair, error) {
	ikm := make([]byte, 32)
	if _, err := rand.Read(ikm); err != nil {
		return nil, fmt.Errorf("could not read key material: %w", err)
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, errors.New("could not derive bls key")
	}
	pk := new(blst.P1Affine).From(sk)
	return &KeyPair{
		Scheme:     SchemeBLS,
		PublicKey:  hex.EncodeToString(pk.Compress()),
		PrivateKey: hex.EncodeToString(sk.Serialize()),
	}, nil
}

func (BLSScheme) Sign(key *KeyPair, msg []byte) (string, error) {
	skBytes, err := hex.DecodeString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("invalid private key encoding: %w", err)
	}
	sk := new(blst.SecretKey).Deserialize(skBytes)
	if sk == nil {
		return "", errors.New("invalid bls private key")
	}
	sig := new(blst.P2Affine).Sign(sk, msg, BLSDomain)
	return hex.EncodeToString(sig.Compress()), nil
}

func (BLSScheme) Verify(pubkey string, msg []byte, signature string) error {
	pkBytes, err := decodePublicKey(pubkey, blst.BLST_P1_COMPRESS_BYTES)
	if err != nil {
		return err
	}
	pk := new(blst.P1Affine).Uncompress(pkBytes)
	if pk == nil {
		return ErrInvalidPublicKey
	}

	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sigBytes) != blst.BLST_P2_COMPRESS_BYTES {
		return ErrInvalidSignature
	}
	sig := new(blst.P2Affine).Uncompress(sigBytes)
	if sig == nil {
		return ErrInvalidSignature
	}

	if !sig.Verify(true, pk, true, msg, BLSDomain) {
		return ErrInvalidSignature
	}
	return nil
}
