// Package storage provides Locator-keyed byte storage for ceremony transcripts
// with pluggable backends.
//
// Every object the coordinator persists (challenges, responses, detached
// contribution signatures, coordinator state, contribution info) is addressed
// by an interfaces.Locator whose Path is the object name in every backend:
//
//	round_1/chunk_0/contribution_0.verified
//	round_1/chunk_0/contribution_1
//	round_1/chunk_0/contribution_1.signature
//	coordinator_state.json
//
// # Storage URI Format
//
// Backends are created by StorageBackendFactory from URIs:
//
//   - file:///var/lib/ceremony
//   - pebble:///var/lib/ceremony.db
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=http://minio:9000
//
// Adding compress=zstd to any URI wraps the backend in CompressedBackend.
//
// # Mirroring
//
// MirroredBackend writes to a primary backend and replicates every mutation
// to mirrors. Mirror failures are logged and never fail the write. Reads go
// to the primary first and fall back to mirrors; a NotFound from the primary
// is authoritative.
//
// # Publication
//
// IPFSPublisher adds zstd-compressed final transcripts of finished rounds to
// an IPFS node and fetches them back by CID.
package storage
