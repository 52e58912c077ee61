package interfaces

import (
	"time"
)

// Role of a ceremony participant.
type Role string

const (
	RoleContributor Role = "contributor"
	RoleVerifier    Role = "verifier"
)

// ParticipantStatus tracks where a participant is in its lifecycle.
type ParticipantStatus string

const (
	StatusQueued   ParticipantStatus = "queued"
	StatusCurrent  ParticipantStatus = "current"
	StatusFinished ParticipantStatus = "finished"
	StatusDropped  ParticipantStatus = "dropped"
)

// Task is one required contribution to one chunk.
type Task struct {
	ChunkID        uint64 `json:"chunk_id"`
	ContributionID uint64 `json:"contribution_id"`
}

func NewTask(chunkID, contributionID uint64) Task {
	return Task{ChunkID: chunkID, ContributionID: contributionID}
}

// ContributorStatusKind is the coarse status reported by queue_status.
type ContributorStatusKind string

const (
	ContributorQueue    ContributorStatusKind = "queue"
	ContributorRound    ContributorStatusKind = "round"
	ContributorFinished ContributorStatusKind = "finished"
	ContributorOther    ContributorStatusKind = "other"
)

type ContributorStatus struct {
	Status        ContributorStatusKind `json:"status"`
	QueuePosition uint64                `json:"queue_position,omitempty"`
	QueueSize     uint64                `json:"queue_size,omitempty"`
}

// ContributionState is the message a ContributionFileSignature signs.
// Hashes are hex encoded 64-byte transcript digests.
type ContributionState struct {
	ChallengeHash     string `json:"challenge_hash"`
	ResponseHash      string `json:"response_hash"`
	NextChallengeHash string `json:"next_challenge_hash,omitempty"`
}

// ContributionFileSignature is stored next to every contribution.
type ContributionFileSignature struct {
	Signature string            `json:"signature"`
	State     ContributionState `json:"contribution_state"`
}

// PostChunkRequest is the body of an upload: the contribution bytes and their signature.
type PostChunkRequest struct {
	ContributionLocator              ContributionLocator          `json:"contribution_locator"`
	Contribution                     []byte                       `json:"contribution"`
	ContributionFileSignatureLocator ContributionSignatureLocator `json:"contribution_file_signature_locator"`
	ContributionFileSignature        ContributionFileSignature    `json:"contribution_file_signature"`
}

// ContributionInfo is self-reported by a contributor once it finished its round.
type ContributionInfo struct {
	PublicKey            string     `json:"public_key"`
	ContributorName      string     `json:"contributor_name,omitempty"`
	IsAnonymous          bool       `json:"is_anonymous"`
	RoundHeight          uint64     `json:"ceremony_round"`
	JoinedQueueTime      *time.Time `json:"joined_queue_time,omitempty"`
	StartedContributing  *time.Time `json:"started_contributing_time,omitempty"`
	FinishedContributing *time.Time `json:"finished_contributing_time,omitempty"`
	Seed                 string     `json:"seed_hash,omitempty"`
	ContributionHashes   []string   `json:"contribution_hashes,omitempty"`
	ContributionHashSig  string     `json:"contribution_hash_signature,omitempty"`
}

// Trim drops the per-chunk details for the public summary.
func (i ContributionInfo) Trim() TrimmedContributionInfo {
	name := i.ContributorName
	if i.IsAnonymous {
		name = ""
	}
	return TrimmedContributionInfo{
		PublicKey:            i.PublicKey,
		ContributorName:      name,
		IsAnonymous:          i.IsAnonymous,
		RoundHeight:          i.RoundHeight,
		FinishedContributing: i.FinishedContributing,
	}
}

type TrimmedContributionInfo struct {
	PublicKey            string     `json:"public_key"`
	ContributorName      string     `json:"contributor_name,omitempty"`
	IsAnonymous          bool       `json:"is_anonymous"`
	RoundHeight          uint64     `json:"ceremony_round"`
	FinishedContributing *time.Time `json:"finished_contributing_time,omitempty"`
}

// RoundArchive records where the final transcripts of a completed round were published.
type RoundArchive struct {
	RoundHeight uint64          `json:"round_height"`
	PublishedAt time.Time       `json:"published_at"`
	Chunks      []ArchivedChunk `json:"chunks"`
	Publisher   string          `json:"publisher"`
}

type ArchivedChunk struct {
	ChunkID uint64 `json:"chunk_id"`
	CID     string `json:"cid"`
	Hash    string `json:"hash"`
}
