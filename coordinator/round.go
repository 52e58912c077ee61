package coordinator

import (
	"fmt"
	"time"

	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// Round is one pass of contributions over every chunk.
type Round struct {
	Height uint64 `json:"height"`

	// ExpectedContributionID is the id every chunk must reach for the round
	// to be complete. Contribution 0 is the challenge carried into the round.
	ExpectedContributionID uint64       `json:"expected_contribution_id"`
	Contributors           []string     `json:"contributors"`
	Chunks                 []ChunkState `json:"chunks"`
	StartedAt              time.Time    `json:"started_at"`
	FinishedAt             *time.Time   `json:"finished_at,omitempty"`
}

// ChunkState lists the verified contributions of a chunk, indexed by contribution id.
type ChunkState struct {
	ChunkID       uint64                 `json:"chunk_id"`
	Contributions []VerifiedContribution `json:"contributions"`
}

type VerifiedContribution struct {
	ContributionID    uint64    `json:"contribution_id"`
	Contributor       string    `json:"contributor,omitempty"`
	ResponseHash      string    `json:"response_hash,omitempty"`
	NextChallengeHash string    `json:"next_challenge_hash"`
	VerifiedAt        time.Time `json:"verified_at"`
}

// newRound creates a round whose chunks start from the given challenge hashes.
func newRound(height, expected uint64, challengeHashes []string, verifier string, now time.Time) *Round {
	round := &Round{
		Height:                 height,
		ExpectedContributionID: expected,
		Chunks:                 make([]ChunkState, len(challengeHashes)),
		StartedAt:              now,
	}
	for i, hash := range challengeHashes {
		round.Chunks[i] = ChunkState{
			ChunkID: uint64(i),
			Contributions: []VerifiedContribution{{
				ContributionID:    0,
				Contributor:       verifier,
				NextChallengeHash: hash,
				VerifiedAt:        now,
			}},
		}
	}
	return round
}

// VerifiedID is the highest verified contribution id of the chunk.
func (c *ChunkState) VerifiedID() uint64 {
	return uint64(len(c.Contributions)) - 1
}

// ChallengeHash is the next-challenge hash recorded for a verified contribution.
func (c *ChunkState) ChallengeHash(contributionID uint64) (string, bool) {
	if contributionID >= uint64(len(c.Contributions)) {
		return "", false
	}
	return c.Contributions[contributionID].NextChallengeHash, true
}

func (r *Round) Chunk(chunkID uint64) (*ChunkState, error) {
	if chunkID >= uint64(len(r.Chunks)) {
		return nil, interfaces.Errorf(interfaces.KindNotFound, "%w: chunk %d", interfaces.ErrUnknownTask, chunkID)
	}
	return &r.Chunks[chunkID], nil
}

// IsComplete reports whether every chunk reached the expected contribution id.
func (r *Round) IsComplete() bool {
	for i := range r.Chunks {
		if r.Chunks[i].VerifiedID() < r.ExpectedContributionID {
			return false
		}
	}
	return true
}

// FinalHashes returns the next-challenge hashes of the expected contributions.
func (r *Round) FinalHashes() []string {
	hashes := make([]string, len(r.Chunks))
	for i := range r.Chunks {
		hashes[i] = r.Chunks[i].Contributions[r.ExpectedContributionID].NextChallengeHash
	}
	return hashes
}

func (r *Round) String() string {
	return fmt.Sprintf("round %d", r.Height)
}

// roundTasks returns the tasks of the contributor admitted at index in a round.
func roundTasks(numberOfChunks, index uint64) []interfaces.Task {
	tasks := make([]interfaces.Task, numberOfChunks)
	for chunkID := range numberOfChunks {
		tasks[chunkID] = interfaces.NewTask(chunkID, index+1)
	}
	return tasks
}
