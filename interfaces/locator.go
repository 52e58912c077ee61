package interfaces

import (
	"fmt"
	"path"
)

// ContributionLocator addresses one transcript of one chunk.
type ContributionLocator struct {
	RoundHeight    uint64 `json:"round_height"`
	ChunkID        uint64 `json:"chunk_id"`
	ContributionID uint64 `json:"contribution_id"`
	IsVerified     bool   `json:"is_verified"`
}

func NewContributionLocator(roundHeight, chunkID, contributionID uint64, isVerified bool) ContributionLocator {
	return ContributionLocator{
		RoundHeight:    roundHeight,
		ChunkID:        chunkID,
		ContributionID: contributionID,
		IsVerified:     isVerified,
	}
}

func (l ContributionLocator) Locator() Locator {
	return Locator{
		Kind:           ContributionKind,
		RoundHeight:    l.RoundHeight,
		ChunkID:        l.ChunkID,
		ContributionID: l.ContributionID,
		IsVerified:     l.IsVerified,
	}
}

// SignatureLocator returns the locator of the detached signature stored next to this contribution.
func (l ContributionLocator) SignatureLocator() ContributionSignatureLocator {
	return ContributionSignatureLocator(l)
}

func (l ContributionLocator) String() string {
	return l.Locator().Path()
}

// ContributionSignatureLocator addresses the ContributionFileSignature of a contribution.
type ContributionSignatureLocator struct {
	RoundHeight    uint64 `json:"round_height"`
	ChunkID        uint64 `json:"chunk_id"`
	ContributionID uint64 `json:"contribution_id"`
	IsVerified     bool   `json:"is_verified"`
}

func (l ContributionSignatureLocator) Locator() Locator {
	return Locator{
		Kind:           SignatureKind,
		RoundHeight:    l.RoundHeight,
		ChunkID:        l.ChunkID,
		ContributionID: l.ContributionID,
		IsVerified:     l.IsVerified,
	}
}

func (l ContributionSignatureLocator) String() string {
	return l.Locator().Path()
}

// LocatorKind selects the namespace of a stored object.
type LocatorKind int

const (
	ContributionKind LocatorKind = iota
	SignatureKind
	CoordinatorStateKind
	ContributionInfoKind
	ContributionsSummaryKind
	RoundArchiveKind
)

func (k LocatorKind) String() string {
	switch k {
	case ContributionKind:
		return "contribution"
	case SignatureKind:
		return "signature"
	case CoordinatorStateKind:
		return "coordinator_state"
	case ContributionInfoKind:
		return "contribution_info"
	case ContributionsSummaryKind:
		return "contributions_summary"
	case RoundArchiveKind:
		return "round_archive"
	default:
		return "unknown"
	}
}

// Locator is the storage key of every object the coordinator persists.
type Locator struct {
	Kind           LocatorKind
	RoundHeight    uint64
	ChunkID        uint64
	ContributionID uint64
	IsVerified     bool
	Participant    string
}

func CoordinatorStateLocator() Locator {
	return Locator{Kind: CoordinatorStateKind}
}

func ContributionInfoLocator(roundHeight uint64, participant string) Locator {
	return Locator{Kind: ContributionInfoKind, RoundHeight: roundHeight, Participant: participant}
}

func ContributionsSummaryLocator() Locator {
	return Locator{Kind: ContributionsSummaryKind}
}

func RoundArchiveLocator(roundHeight uint64) Locator {
	return Locator{Kind: RoundArchiveKind, RoundHeight: roundHeight}
}

// Path returns the relative slash-separated object name. Backends map it to
// a file path, an object key or a database key.
func (l Locator) Path() string {
	switch l.Kind {
	case ContributionKind:
		return path.Join(l.chunkDir(), l.contributionName())
	case SignatureKind:
		return path.Join(l.chunkDir(), l.contributionName()+".signature")
	case CoordinatorStateKind:
		return "coordinator_state.json"
	case ContributionInfoKind:
		return path.Join(fmt.Sprintf("round_%d", l.RoundHeight), "contribution_info", l.Participant+".json")
	case ContributionsSummaryKind:
		return "contributions_info_summary.json"
	case RoundArchiveKind:
		return path.Join(fmt.Sprintf("round_%d", l.RoundHeight), "archive.json")
	default:
		return fmt.Sprintf("unknown_%d", l.Kind)
	}
}

func (l Locator) String() string {
	return l.Path()
}

func (l Locator) chunkDir() string {
	return path.Join(fmt.Sprintf("round_%d", l.RoundHeight), fmt.Sprintf("chunk_%d", l.ChunkID))
}

func (l Locator) contributionName() string {
	name := fmt.Sprintf("contribution_%d", l.ContributionID)
	if l.IsVerified {
		name += ".verified"
	}
	return name
}

// LockedLocators is returned to a contributor on a successful lock.
type LockedLocators struct {
	CurrentContribution           ContributionLocator          `json:"current_contribution"`
	NextContribution              ContributionLocator          `json:"next_contribution"`
	NextContributionFileSignature ContributionSignatureLocator `json:"next_contribution_file_signature"`
}
