package computation

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/zeebo/blake3"
)

var (
	ErrTranscriptSize      = errors.New("transcript has unexpected size")
	ErrBrokenHashChain     = errors.New("response does not reference the challenge hash")
	ErrInvalidPoint        = errors.New("transcript contains an invalid point")
	ErrTrivialContribution = errors.New("response does not change the challenge")
)

// group is one curve arm: compressed G1 points and their scalar field.
type group interface {
	pointSize() int
	order() *big.Int
	generator() []byte
	// scale returns point * s, both compressed.
	scale(point []byte, s *big.Int) ([]byte, error)
	// check rejects points off the curve, outside the subgroup or at infinity.
	check(point []byte) error
}

// Computation is the curve-tagged transcript transformation. The arm is
// chosen once at construction and the rest of the code only sees bytes.
type Computation struct {
	curve  interfaces.CurveKind
	powers uint64
	g      group
}

// New returns a computation for chunks of powersPerChunk points on curve.
func New(curve interfaces.CurveKind, powersPerChunk uint64) (*Computation, error) {
	if powersPerChunk == 0 {
		return nil, errors.New("powers per chunk must be positive")
	}

	var g group
	switch curve {
	case interfaces.CurveBLS12_377:
		g = bls12377Group{}
	case interfaces.CurveBW6_761:
		g = bw6761Group{}
	case interfaces.CurveBLS12_381:
		g = bls12381Group{}
	default:
		return nil, fmt.Errorf("unsupported curve %q", curve)
	}

	return &Computation{curve: curve, powers: powersPerChunk, g: g}, nil
}

func (c *Computation) Curve() interfaces.CurveKind {
	return c.curve
}

func (c *Computation) TranscriptSize() uint64 {
	return cryptoutils.TranscriptHashSize + c.powers*uint64(c.g.pointSize())
}

// Initialize returns the blank-hash header followed by powers copies of the generator.
func (c *Computation) Initialize(chunkID uint64) ([]byte, error) {
	out := make([]byte, 0, c.TranscriptSize())
	out = append(out, cryptoutils.HashTranscript(nil)...)
	gen := c.g.generator()
	for i := uint64(0); i < c.powers; i++ {
		out = append(out, gen...)
	}
	return out, nil
}

// Contribute multiplies the i-th point of challenge by tau^(i+1), with tau
// derived from seed and the challenge hash.
func (c *Computation) Contribute(challenge []byte, seed []byte) ([]byte, error) {
	if uint64(len(challenge)) != c.TranscriptSize() {
		return nil, fmt.Errorf("%w: challenge is %d bytes, want %d", ErrTranscriptSize, len(challenge), c.TranscriptSize())
	}

	challengeHash := cryptoutils.HashTranscript(challenge)
	tau := c.deriveTau(seed, challengeHash)

	out := make([]byte, 0, c.TranscriptSize())
	out = append(out, challengeHash...)

	order := c.g.order()
	power := new(big.Int).Set(tau)
	size := c.g.pointSize()
	for i := 0; i < int(c.powers); i++ {
		point := challenge[cryptoutils.TranscriptHashSize+i*size : cryptoutils.TranscriptHashSize+(i+1)*size]
		scaled, err := c.g.scale(point, power)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		out = append(out, scaled...)
		power.Mul(power, tau).Mod(power, order)
	}
	return out, nil
}

// Verify checks that response is a well-formed transformation of challenge
// and returns the next challenge: the hash of response followed by its points.
func (c *Computation) Verify(challenge, response []byte) ([]byte, error) {
	size := c.TranscriptSize()
	if uint64(len(challenge)) != size {
		return nil, fmt.Errorf("%w: challenge is %d bytes, want %d", ErrTranscriptSize, len(challenge), size)
	}
	if uint64(len(response)) != size {
		return nil, fmt.Errorf("%w: response is %d bytes, want %d", ErrTranscriptSize, len(response), size)
	}

	if !bytes.Equal(response[:cryptoutils.TranscriptHashSize], cryptoutils.HashTranscript(challenge)) {
		return nil, ErrBrokenHashChain
	}

	pointSize := c.g.pointSize()
	for i := 0; i < int(c.powers); i++ {
		point := response[cryptoutils.TranscriptHashSize+i*pointSize : cryptoutils.TranscriptHashSize+(i+1)*pointSize]
		if err := c.g.check(point); err != nil {
			return nil, fmt.Errorf("%w: point %d: %v", ErrInvalidPoint, i, err)
		}
	}

	if bytes.Equal(response[cryptoutils.TranscriptHashSize:], challenge[cryptoutils.TranscriptHashSize:]) {
		return nil, ErrTrivialContribution
	}

	next := make([]byte, 0, size)
	next = append(next, cryptoutils.HashTranscript(response)...)
	next = append(next, response[cryptoutils.TranscriptHashSize:]...)
	return next, nil
}

// deriveTau expands seed into a scalar in [2, order).
func (c *Computation) deriveTau(seed, challengeHash []byte) *big.Int {
	h := blake3.New()
	_, _ = h.Write([]byte("ceremony-coordinator tau"))
	_, _ = h.Write(seed)
	_, _ = h.Write(challengeHash)

	wide := make([]byte, 64)
	_, _ = h.Digest().Read(wide)

	bound := new(big.Int).Sub(c.g.order(), big.NewInt(2))
	tau := new(big.Int).SetBytes(wide)
	tau.Mod(tau, bound)
	return tau.Add(tau, big.NewInt(2))
}
