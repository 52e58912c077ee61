// Package auth authenticates ceremony participants on every request.
//
// Participants hold no session. Each request carries the caller's public key
// and a signature; requests with a body also carry its length and a
// "sha-256=<base64>" digest:
//
//	ATS-Pubkey:     <hex public key>
//	ATS-Signature:  <hex signature over pubkey || content length || digest>
//	Content-Length: <body length>
//	Digest:         sha-256=<base64 digest of the body>
//
// The digest is compared with the received body before the body is decoded,
// and the signature covers the digest, so a verified request proves both the
// caller's identity and the body's integrity.
package auth
