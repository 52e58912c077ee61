package computation

import (
	"testing"

	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/stretchr/testify/require"
)

func TestComputationArms(t *testing.T) {
	curves := []struct {
		curve     interfaces.CurveKind
		pointSize int
	}{
		{interfaces.CurveBLS12_377, 48},
		{interfaces.CurveBW6_761, 96},
		{interfaces.CurveBLS12_381, 48},
	}

	for _, tc := range curves {
		t.Run(string(tc.curve), func(t *testing.T) {
			c, err := New(tc.curve, 3)
			require.NoError(t, err)
			require.Equal(t, tc.curve, c.Curve())
			require.Equal(t, uint64(cryptoutils.TranscriptHashSize+3*tc.pointSize), c.TranscriptSize())

			challenge, err := c.Initialize(0)
			require.NoError(t, err)
			require.Len(t, challenge, int(c.TranscriptSize()))

			response, err := c.Contribute(challenge, []byte("seed-1"))
			require.NoError(t, err)
			require.Len(t, response, int(c.TranscriptSize()))

			next, err := c.Verify(challenge, response)
			require.NoError(t, err)
			require.Equal(t, cryptoutils.HashTranscript(response), next[:cryptoutils.TranscriptHashSize])
			require.Equal(t, response[cryptoutils.TranscriptHashSize:], next[cryptoutils.TranscriptHashSize:])

			// the next challenge can be contributed to again
			second, err := c.Contribute(next, []byte("seed-2"))
			require.NoError(t, err)
			_, err = c.Verify(next, second)
			require.NoError(t, err)

			// a response computed against a different challenge breaks the chain
			_, err = c.Verify(next, response)
			require.ErrorIs(t, err, ErrBrokenHashChain)

			// unchanged points are rejected
			trivial := append(cryptoutils.HashTranscript(challenge), challenge[cryptoutils.TranscriptHashSize:]...)
			_, err = c.Verify(challenge, trivial)
			require.ErrorIs(t, err, ErrTrivialContribution)

			// corrupted point
			corrupted := append([]byte{}, response...)
			for i := cryptoutils.TranscriptHashSize + 1; i < cryptoutils.TranscriptHashSize+tc.pointSize; i++ {
				corrupted[i] = 0xff
			}
			_, err = c.Verify(challenge, corrupted)
			require.ErrorIs(t, err, ErrInvalidPoint)

			_, err = c.Verify(challenge, response[:10])
			require.ErrorIs(t, err, ErrTranscriptSize)
		})
	}
}

func TestContributeIsDeterministicInSeed(t *testing.T) {
	c, err := New(interfaces.CurveBLS12_381, 2)
	require.NoError(t, err)

	challenge, err := c.Initialize(1)
	require.NoError(t, err)

	a, err := c.Contribute(challenge, []byte("seed"))
	require.NoError(t, err)
	b, err := c.Contribute(challenge, []byte("seed"))
	require.NoError(t, err)
	other, err := c.Contribute(challenge, []byte("other seed"))
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, other)
}

func TestUnknownCurve(t *testing.T) {
	_, err := New("bn254", 4)
	require.Error(t, err)
	_, err = New(interfaces.CurveBLS12_377, 0)
	require.Error(t, err)
}
