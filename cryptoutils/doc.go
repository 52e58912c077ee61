// Package cryptoutils implements the signature schemes participants sign
// requests and contributions with (secp256k1 and BLS12-381), request body
// digests, transcript hashing, and key pair loading from files or Vault.
package cryptoutils
