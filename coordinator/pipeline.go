package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/ruteri/ceremony-coordinator/metrics"
)

// PendingVerification is an uploaded contribution waiting for the verifier.
type PendingVerification struct {
	Participant  string          `json:"participant"`
	RoundHeight  uint64          `json:"round_height"`
	Task         interfaces.Task `json:"task"`
	ResponseHash string          `json:"response_hash"`
	UploadedAt   time.Time       `json:"uploaded_at"`
}

func (v PendingVerification) locator() interfaces.ContributionLocator {
	return interfaces.NewContributionLocator(v.RoundHeight, v.Task.ChunkID, v.Task.ContributionID, false)
}

// ContributionPipeline moves contributions from upload through verification
// and advances rounds once every chunk is verified.
type ContributionPipeline struct {
	env         *Environment
	storage     interfaces.ChunkStorage
	computation interfaces.Computation
	scheme      cryptoutils.SignatureScheme
	verifierKey *cryptoutils.KeyPair
	publisher   interfaces.TranscriptPublisher
	metrics     *metrics.CeremonyMetrics
	exec        *executor
	log         *slog.Logger

	registry  *Registry
	locks     *LockManager
	scheduler *TaskScheduler

	round   *Round
	pending []PendingVerification
}

// Initialize writes the first challenge of every chunk and creates round 0,
// which is complete by construction.
func (p *ContributionPipeline) Initialize(ctx context.Context, now time.Time) error {
	hashes := make([]string, p.env.NumberOfChunks)
	for chunkID := range p.env.NumberOfChunks {
		challenge, err := runValue(p.exec, ctx, 0, func(ctx context.Context) ([]byte, error) {
			return p.computation.Initialize(chunkID)
		})
		if err != nil {
			return fmt.Errorf("could not compute initial challenge of chunk %d: %w", chunkID, err)
		}

		loc := interfaces.NewContributionLocator(0, chunkID, 0, true).Locator()
		if err := p.initialize(ctx, loc, p.computation.TranscriptSize()); err != nil {
			return err
		}
		if err := p.write(ctx, loc, challenge); err != nil {
			return err
		}
		if err := p.VerifyInitialization(ctx, loc, challenge); err != nil {
			return err
		}
		hashes[chunkID] = cryptoutils.TranscriptHashHex(challenge)
	}

	p.round = newRound(0, 0, hashes, p.verifierKey.PublicKey, now)
	p.round.FinishedAt = &now
	p.log.Info("Initialized ceremony", slog.Uint64("chunks", p.env.NumberOfChunks), slog.String("curve", string(p.env.Curve)))
	return nil
}

// VerifyInitialization checks that the stored initial challenge is the one
// the computation produced.
func (p *ContributionPipeline) VerifyInitialization(ctx context.Context, loc interfaces.Locator, challenge []byte) error {
	stored, err := p.read(ctx, loc)
	if err != nil {
		return err
	}
	if cryptoutils.TranscriptHashHex(stored) != cryptoutils.TranscriptHashHex(challenge) {
		return interfaces.Errorf(interfaces.KindStorage, "%w: %s", interfaces.ErrInitializationMismatch, loc)
	}
	return nil
}

// VerifyCopy checks that a copied challenge matches the next-challenge hash
// recorded when its source was verified.
func (p *ContributionPipeline) VerifyCopy(ctx context.Context, dst interfaces.Locator, expectedHash string) error {
	copied, err := p.read(ctx, dst)
	if err != nil {
		return err
	}
	if cryptoutils.TranscriptHashHex(copied) != expectedHash {
		return interfaces.Errorf(interfaces.KindStorage, "%w: %s", interfaces.ErrCopyMismatch, dst)
	}
	return nil
}

// AdvanceRound copies the final challenges of the complete round forward and
// admits up to contributors_per_round queued participants into the next one.
func (p *ContributionPipeline) AdvanceRound(ctx context.Context, now time.Time) error {
	if !p.round.IsComplete() {
		return interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrRoundNotComplete)
	}
	queued := p.registry.QueueSize()
	if queued == 0 {
		return nil
	}

	height := p.round.Height
	finals := p.round.FinalHashes()
	for chunkID := range uint64(len(finals)) {
		src := interfaces.NewContributionLocator(height, chunkID, p.round.ExpectedContributionID, true).Locator()
		dst := interfaces.NewContributionLocator(height+1, chunkID, 0, true).Locator()
		if err := p.copy(ctx, src, dst); err != nil {
			return err
		}
		if err := p.VerifyCopy(ctx, dst, finals[chunkID]); err != nil {
			return err
		}
	}

	contributors := min(p.env.ContributorsPerRound, queued)
	next := newRound(height+1, contributors, finals, p.verifierKey.PublicKey, now)
	for index := range contributors {
		id, _ := p.registry.PopQueue()
		p.registry.Promote(id, next.Height, roundTasks(p.env.NumberOfChunks, index), now)
		next.Contributors = append(next.Contributors, id)
	}
	p.round = next
	p.registry.AssignTargets(next.Height, p.env.ContributorsPerRound)

	p.log.Info("Advanced to next round",
		slog.Uint64("round", next.Height),
		slog.Any("contributors", next.Contributors))
	return nil
}

// WriteContribution stores the bytes of the contribution the caller locked.
// The lock stays held until the file signature is written.
func (p *ContributionPipeline) WriteContribution(ctx context.Context, id string, loc interfaces.ContributionLocator, data []byte) error {
	chunk, err := p.round.Chunk(loc.ChunkID)
	if err != nil {
		return err
	}
	if loc.RoundHeight < p.round.Height || (loc.RoundHeight == p.round.Height && chunk.VerifiedID() >= loc.ContributionID) {
		return interfaces.Errorf(interfaces.KindStateConflict, "%w: %s", interfaces.ErrContributionAlreadyVerified, loc)
	}
	if p.findPending(loc.ChunkID, loc.ContributionID) >= 0 {
		return interfaces.Errorf(interfaces.KindStateConflict, "%w: %s", interfaces.ErrContributionAlreadyUploaded, loc)
	}
	if loc.IsVerified {
		return interfaces.Errorf(interfaces.KindStateConflict, "%w: cannot upload to verified locator %s", interfaces.ErrLocatorMismatch, loc)
	}

	lock, err := p.locks.HeldBy(id, loc.ChunkID)
	if err != nil {
		return err
	}
	if loc != lock.Locators.NextContribution {
		return interfaces.Errorf(interfaces.KindStateConflict, "%w: expected %s, got %s", interfaces.ErrLocatorMismatch, lock.Locators.NextContribution, loc)
	}
	if uint64(len(data)) != p.computation.TranscriptSize() {
		return interfaces.Errorf(interfaces.KindVerification, "%w: expected %d bytes, got %d", interfaces.ErrContributionSizeMismatch, p.computation.TranscriptSize(), len(data))
	}

	if err := p.write(ctx, loc.Locator(), data); err != nil {
		return err
	}
	lock.ResponseHash = cryptoutils.TranscriptHashHex(data)
	return nil
}

// WriteContributionFileSignature stores the participant's signature over the
// contribution, queues the contribution for verification and releases the lock.
func (p *ContributionPipeline) WriteContributionFileSignature(ctx context.Context, id string, loc interfaces.ContributionSignatureLocator, signature interfaces.ContributionFileSignature, now time.Time) error {
	lock, err := p.locks.HeldBy(id, loc.ChunkID)
	if err != nil {
		return err
	}
	if loc != lock.Locators.NextContributionFileSignature {
		return interfaces.Errorf(interfaces.KindStateConflict, "%w: expected %s, got %s", interfaces.ErrLocatorMismatch, lock.Locators.NextContributionFileSignature, loc)
	}
	if !lock.uploaded() {
		return interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrContributionMissing)
	}

	if err := p.checkFileSignature(id, signature); err != nil {
		return err
	}
	if signature.State.ResponseHash != lock.ResponseHash {
		return interfaces.Errorf(interfaces.KindVerification, "%w: signed response hash does not match upload", interfaces.ErrHashMismatch)
	}
	chunk, err := p.round.Chunk(loc.ChunkID)
	if err != nil {
		return err
	}
	challengeHash, _ := chunk.ChallengeHash(lock.Task.ContributionID - 1)
	if signature.State.ChallengeHash != challengeHash {
		return interfaces.Errorf(interfaces.KindVerification, "%w: signed challenge hash does not match the issued challenge", interfaces.ErrHashMismatch)
	}

	encoded, err := json.Marshal(signature)
	if err != nil {
		return err
	}
	if err := p.write(ctx, loc.Locator(), encoded); err != nil {
		return err
	}

	if err := p.scheduler.MarkUploaded(id, lock.Task); err != nil {
		return err
	}
	p.pending = append(p.pending, PendingVerification{
		Participant:  id,
		RoundHeight:  loc.RoundHeight,
		Task:         lock.Task,
		ResponseHash: lock.ResponseHash,
		UploadedAt:   now,
	})
	return p.locks.Release(id, loc.ChunkID)
}

// DefaultVerify checks one pending contribution against the challenge it was
// derived from and, on success, stores the verified next challenge.
func (p *ContributionPipeline) DefaultVerify(ctx context.Context, pv PendingVerification, now time.Time) error {
	chunk, err := p.round.Chunk(pv.Task.ChunkID)
	if err != nil {
		return err
	}
	if pv.RoundHeight != p.round.Height || pv.Task.ContributionID != chunk.VerifiedID()+1 {
		p.removePending(pv)
		return interfaces.Errorf(interfaces.KindStateConflict, "%w: %s", interfaces.ErrStaleVerification, pv.locator())
	}

	responseLoc := pv.locator()
	challengeLoc := interfaces.NewContributionLocator(pv.RoundHeight, pv.Task.ChunkID, pv.Task.ContributionID-1, true)
	challengeHash, _ := chunk.ChallengeHash(pv.Task.ContributionID - 1)

	response, err := p.read(ctx, responseLoc.Locator())
	if errors.Is(err, interfaces.ErrNotFound) {
		return p.reject(ctx, pv, err, now)
	} else if err != nil {
		return err
	}
	encoded, err := p.read(ctx, responseLoc.SignatureLocator().Locator())
	if errors.Is(err, interfaces.ErrNotFound) {
		return p.reject(ctx, pv, err, now)
	} else if err != nil {
		return err
	}
	challenge, err := p.read(ctx, challengeLoc.Locator())
	if err != nil {
		return err
	}

	var signature interfaces.ContributionFileSignature
	if err := json.Unmarshal(encoded, &signature); err != nil {
		return p.reject(ctx, pv, fmt.Errorf("%w: %w", interfaces.ErrInvalidFileSignature, err), now)
	}
	if err := p.checkFileSignature(pv.Participant, signature); err != nil {
		return p.reject(ctx, pv, err, now)
	}
	responseHash := cryptoutils.TranscriptHashHex(response)
	if responseHash != pv.ResponseHash || signature.State.ResponseHash != responseHash {
		return p.reject(ctx, pv, fmt.Errorf("%w: response changed since upload", interfaces.ErrHashMismatch), now)
	}
	if cryptoutils.TranscriptHashHex(challenge) != challengeHash || signature.State.ChallengeHash != challengeHash {
		return p.reject(ctx, pv, fmt.Errorf("%w: challenge differs from the one issued", interfaces.ErrHashMismatch), now)
	}

	nextChallenge, err := runValue(p.exec, ctx, 0, func(ctx context.Context) ([]byte, error) {
		return p.computation.Verify(challenge, response)
	})
	if err != nil {
		return p.reject(ctx, pv, err, now)
	}

	nextLoc := interfaces.NewContributionLocator(pv.RoundHeight, pv.Task.ChunkID, pv.Task.ContributionID, true)
	if err := p.write(ctx, nextLoc.Locator(), nextChallenge); err != nil {
		return err
	}
	nextHash := cryptoutils.TranscriptHashHex(nextChallenge)
	if err := p.VerifyCopy(ctx, nextLoc.Locator(), nextHash); err != nil {
		return err
	}
	if err := p.writeVerifierSignature(ctx, nextLoc.SignatureLocator(), interfaces.ContributionState{
		ChallengeHash:     challengeHash,
		ResponseHash:      responseHash,
		NextChallengeHash: nextHash,
	}); err != nil {
		return err
	}

	chunk.Contributions = append(chunk.Contributions, VerifiedContribution{
		ContributionID:    pv.Task.ContributionID,
		Contributor:       pv.Participant,
		ResponseHash:      responseHash,
		NextChallengeHash: nextHash,
		VerifiedAt:        now,
	})
	p.removePending(pv)
	p.countVerification("accepted")

	finished, err := p.scheduler.Complete(pv.Participant, pv.Task, now)
	if err != nil {
		p.log.Warn("Verified task was not awaiting verification", "err", err, "participant", pv.Participant, "task", pv.Task)
	}
	if finished {
		p.log.Info("Participant finished contributing", "participant", pv.Participant, slog.Uint64("round", p.round.Height))
	}
	p.log.Debug("Verified contribution",
		"participant", pv.Participant,
		slog.String("locator", nextLoc.String()),
		slog.String("next_challenge_hash", cryptoutils.PrettyHash(nextHash)))

	if p.round.IsComplete() {
		p.finishRound(ctx, now)
		return p.AdvanceRound(ctx, now)
	}
	return nil
}

// reject discards a failed contribution and hands its task back for another
// attempt. Repeated failures drop the participant.
func (p *ContributionPipeline) reject(ctx context.Context, pv PendingVerification, cause error, now time.Time) error {
	p.countVerification("rejected")
	p.removePending(pv)

	loc := pv.locator()
	if err := p.remove(ctx, loc.Locator()); err != nil {
		p.log.Warn("Failed to remove rejected contribution", "err", err, slog.String("locator", loc.String()))
	}
	if err := p.remove(ctx, loc.SignatureLocator().Locator()); err != nil {
		p.log.Warn("Failed to remove rejected signature", "err", err, slog.String("locator", loc.String()))
	}

	if p.scheduler.Retry(pv.Participant, pv.Task) {
		participant, _ := p.registry.Get(pv.Participant)
		participant.Failures++
		if participant.Failures >= p.env.MaxVerificationFailures {
			p.DropParticipant(pv.Participant, "verification failures", now)
		}
	} else {
		p.scheduler.Reassign([]interfaces.Task{pv.Task}, p.round, now)
	}

	p.log.Warn("Rejected contribution", "err", cause, "participant", pv.Participant, slog.String("locator", loc.String()))
	return interfaces.Errorf(interfaces.KindVerification, "%w: %s: %w", interfaces.ErrVerificationFailed, loc, cause)
}

// DropParticipant releases the participant's locks and reassigns its
// unfinished tasks.
func (p *ContributionPipeline) DropParticipant(id, reason string, now time.Time) error {
	status, ok := p.registry.StatusOf(id)
	if !ok {
		return interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	if status == interfaces.StatusDropped {
		return nil
	}

	tasks, err := p.registry.Drop(id)
	if err != nil {
		return err
	}
	released := p.locks.ReleaseAll(id)
	recipient := p.scheduler.Reassign(tasks, p.round, now)
	p.registry.AssignTargets(p.round.Height, p.env.ContributorsPerRound)
	if p.metrics != nil {
		p.metrics.DroppedParticipants.Inc()
	}

	p.log.Info("Dropped participant",
		"participant", id,
		"reason", reason,
		slog.String("previous_status", string(status)),
		slog.Any("released_chunks", released),
		slog.Int("reassigned_tasks", len(tasks)),
		slog.String("recipient", recipient))
	return nil
}

func (p *ContributionPipeline) finishRound(ctx context.Context, now time.Time) {
	if p.round.FinishedAt != nil {
		return
	}
	p.round.FinishedAt = &now
	p.log.Info("Round complete", slog.Uint64("round", p.round.Height), slog.Duration("duration", now.Sub(p.round.StartedAt)))

	if p.publisher != nil {
		if err := p.publishRound(ctx, now); err != nil {
			p.log.Error("Failed to publish round transcripts", "err", err, slog.Uint64("round", p.round.Height))
		}
	}
}

// publishRound publishes the final transcript of every chunk and records the
// content ids in the round archive.
func (p *ContributionPipeline) publishRound(ctx context.Context, now time.Time) error {
	archive := interfaces.RoundArchive{
		RoundHeight: p.round.Height,
		PublishedAt: now,
		Publisher:   p.publisher.Name(),
	}
	for chunkID, hash := range p.round.FinalHashes() {
		loc := interfaces.NewContributionLocator(p.round.Height, uint64(chunkID), p.round.ExpectedContributionID, true)
		data, err := p.read(ctx, loc.Locator())
		if err != nil {
			return err
		}
		name := fmt.Sprintf("round_%d_chunk_%d", p.round.Height, chunkID)
		cid, err := runValue(p.exec, ctx, p.env.StorageTimeout, func(ctx context.Context) (string, error) {
			return p.publisher.Publish(ctx, name, data)
		})
		if err != nil {
			return fmt.Errorf("could not publish %s: %w", loc, err)
		}
		archive.Chunks = append(archive.Chunks, interfaces.ArchivedChunk{ChunkID: uint64(chunkID), CID: cid, Hash: hash})
	}

	encoded, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return err
	}
	return p.write(ctx, interfaces.RoundArchiveLocator(p.round.Height), encoded)
}

func (p *ContributionPipeline) checkFileSignature(id string, signature interfaces.ContributionFileSignature) error {
	message, err := json.Marshal(signature.State)
	if err != nil {
		return err
	}
	if err := p.scheme.Verify(id, message, signature.Signature); err != nil {
		return interfaces.Errorf(interfaces.KindVerification, "%w: %w", interfaces.ErrInvalidFileSignature, err)
	}
	return nil
}

func (p *ContributionPipeline) writeVerifierSignature(ctx context.Context, loc interfaces.ContributionSignatureLocator, state interfaces.ContributionState) error {
	message, err := json.Marshal(state)
	if err != nil {
		return err
	}
	sig, err := p.scheme.Sign(p.verifierKey, message)
	if err != nil {
		return fmt.Errorf("could not sign verified contribution: %w", err)
	}
	encoded, err := json.Marshal(interfaces.ContributionFileSignature{Signature: sig, State: state})
	if err != nil {
		return err
	}
	return p.write(ctx, loc.Locator(), encoded)
}

func (p *ContributionPipeline) findPending(chunkID, contributionID uint64) int {
	return slices.IndexFunc(p.pending, func(v PendingVerification) bool {
		return v.Task.ChunkID == chunkID && v.Task.ContributionID == contributionID
	})
}

func (p *ContributionPipeline) removePending(pv PendingVerification) {
	p.pending = slices.DeleteFunc(p.pending, func(v PendingVerification) bool {
		return v.Task == pv.Task && v.RoundHeight == pv.RoundHeight
	})
}

func (p *ContributionPipeline) countVerification(outcome string) {
	if p.metrics != nil {
		p.metrics.Verifications.WithLabelValues(outcome).Inc()
	}
}

func (p *ContributionPipeline) read(ctx context.Context, loc interfaces.Locator) ([]byte, error) {
	data, err := runValue(p.exec, ctx, p.env.StorageTimeout, func(ctx context.Context) ([]byte, error) {
		return p.storage.Read(ctx, loc)
	})
	return data, storageError(err)
}

func (p *ContributionPipeline) write(ctx context.Context, loc interfaces.Locator, data []byte) error {
	return storageError(p.exec.run(ctx, p.env.StorageTimeout, func(ctx context.Context) error {
		return p.storage.Write(ctx, loc, data)
	}))
}

func (p *ContributionPipeline) initialize(ctx context.Context, loc interfaces.Locator, size uint64) error {
	return storageError(p.exec.run(ctx, p.env.StorageTimeout, func(ctx context.Context) error {
		return p.storage.Initialize(ctx, loc, size)
	}))
}

func (p *ContributionPipeline) copy(ctx context.Context, src, dst interfaces.Locator) error {
	return storageError(p.exec.run(ctx, p.env.StorageTimeout, func(ctx context.Context) error {
		return p.storage.Copy(ctx, src, dst)
	}))
}

func (p *ContributionPipeline) remove(ctx context.Context, loc interfaces.Locator) error {
	return storageError(p.exec.run(ctx, p.env.StorageTimeout, func(ctx context.Context) error {
		return p.storage.Remove(ctx, loc)
	}))
}

// storageError classifies storage failures. Missing objects are NotFound,
// everything else without a kind is a storage failure.
func storageError(err error) error {
	var cerr *interfaces.CoordinatorError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cerr):
		return err
	case errors.Is(err, interfaces.ErrNotFound):
		return interfaces.NewError(interfaces.KindNotFound, err)
	default:
		return interfaces.NewError(interfaces.KindStorage, err)
	}
}
