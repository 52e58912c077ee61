package interfaces

import (
	"fmt"
	"strings"
)

// CurveKind selects the curve arm of the computation collaborator.
type CurveKind string

const (
	CurveBLS12_377 CurveKind = "bls12_377"
	CurveBW6_761   CurveKind = "bw6_761"
	CurveBLS12_381 CurveKind = "bls12_381"
)

func ParseCurveKind(s string) (CurveKind, error) {
	switch CurveKind(strings.ToLower(s)) {
	case CurveBLS12_377:
		return CurveBLS12_377, nil
	case CurveBW6_761:
		return CurveBW6_761, nil
	case CurveBLS12_381:
		return CurveBLS12_381, nil
	default:
		return "", fmt.Errorf("unknown curve %q", s)
	}
}

// Computation transforms and checks chunk transcripts. A transcript is the
// 64-byte hash of the transcript it was derived from followed by the chunk's
// serialized points.
type Computation interface {
	Curve() CurveKind

	// TranscriptSize is the byte size of every challenge and response.
	TranscriptSize() uint64

	// Initialize returns the first challenge of a chunk.
	Initialize(chunkID uint64) ([]byte, error)

	// Contribute derives a response from a challenge using randomness from seed.
	Contribute(challenge []byte, seed []byte) ([]byte, error)

	// Verify checks that response was derived from challenge and returns the
	// next challenge.
	Verify(challenge, response []byte) ([]byte, error)
}
