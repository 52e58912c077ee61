package cryptoutils

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DigestAlgorithm is the only content digest algorithm accepted in request headers.
const DigestAlgorithm = "sha-256"

var (
	ErrWrongDigestEncoding = errors.New("wrong digest encoding")
	ErrMismatchingChecksum = errors.New("mismatching checksum")
)

// ContentDigest returns the "sha-256=<base64>" digest header value for body.
func ContentDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return DigestAlgorithm + "=" + base64.StdEncoding.EncodeToString(sum[:])
}

// ParseContentDigest decodes a digest header value into its raw hash.
func ParseContentDigest(header string) ([]byte, error) {
	algorithm, encoded, found := strings.Cut(header, "=")
	if !found || !strings.EqualFold(algorithm, DigestAlgorithm) {
		return nil, ErrWrongDigestEncoding
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrWrongDigestEncoding
	}
	return raw, nil
}

// CheckContentDigest compares a digest header value with the digest of body.
func CheckContentDigest(header string, body []byte) error {
	declared, err := ParseContentDigest(header)
	if err != nil {
		return err
	}
	actual := sha256.Sum256(body)
	if !bytes.Equal(declared, actual[:]) {
		return ErrMismatchingChecksum
	}
	return nil
}

// TranscriptHashSize is the size of the hash prefix of every transcript.
const TranscriptHashSize = blake2b.Size

// HashTranscript returns the 64-byte blake2b digest of a transcript.
func HashTranscript(data []byte) []byte {
	sum := blake2b.Sum512(data)
	return sum[:]
}

// TranscriptHashHex is HashTranscript hex encoded, as stored in signatures and state.
func TranscriptHashHex(data []byte) string {
	return hex.EncodeToString(HashTranscript(data))
}

// PrettyHash shortens a hex digest for logs.
func PrettyHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:8] + ".." + h[len(h)-8:]
}
