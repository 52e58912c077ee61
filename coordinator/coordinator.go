package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/ruteri/ceremony-coordinator/metrics"
	"go.uber.org/atomic"
)

// Config wires the coordinator to its collaborators.
type Config struct {
	Environment *Environment
	Storage     interfaces.ChunkStorage
	Computation interfaces.Computation

	// VerifierKey signs verified contributions. Its public key is the only
	// identity allowed to run maintenance.
	VerifierKey *cryptoutils.KeyPair

	// Publisher is optional. When set, final transcripts of every completed
	// round are published through it.
	Publisher interfaces.TranscriptPublisher
	Metrics   *metrics.CeremonyMetrics
	Workers   int
	Log       *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator owns the ceremony state. Mutating operations hold mu
// exclusively for their whole duration, including storage I/O and
// verification offloaded to the worker pool; queries share it.
type Coordinator struct {
	mu      sync.RWMutex
	stopped atomic.Bool

	env       *Environment
	verifier  string
	registry  *Registry
	locks     *LockManager
	scheduler *TaskScheduler
	pipeline  *ContributionPipeline
	exec      *executor
	metrics   *metrics.CeremonyMetrics
	log       *slog.Logger
	now       func() time.Time
}

// New restores the coordinator from storage, or initializes round 0 when the
// storage holds no state.
func New(ctx context.Context, cfg Config) (*Coordinator, error) {
	if cfg.Environment == nil || cfg.Storage == nil || cfg.Computation == nil || cfg.VerifierKey == nil {
		return nil, errors.New("coordinator requires environment, storage, computation and verifier key")
	}
	if err := cfg.Environment.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if cfg.Computation.Curve() != cfg.Environment.Curve {
		return nil, fmt.Errorf("computation curve %s does not match environment curve %s", cfg.Computation.Curve(), cfg.Environment.Curve)
	}

	scheme, err := cryptoutils.NewSignatureScheme(cfg.Environment.SignatureScheme)
	if err != nil {
		return nil, err
	}
	if cfg.VerifierKey.Scheme != scheme.Name() {
		return nil, fmt.Errorf("verifier key scheme %q does not match %q", cfg.VerifierKey.Scheme, scheme.Name())
	}
	verifier := cfg.Environment.CoordinatorVerifier
	if verifier == "" {
		verifier = cfg.VerifierKey.PublicKey
	} else if verifier != cfg.VerifierKey.PublicKey {
		return nil, errors.New("verifier key does not match coordinator_verifier")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	registry := NewRegistry()
	locks := NewLockManager(registry)
	scheduler := NewTaskScheduler(registry)
	exec := newExecutor(cfg.Workers)

	c := &Coordinator{
		env:       cfg.Environment,
		verifier:  verifier,
		registry:  registry,
		locks:     locks,
		scheduler: scheduler,
		exec:      exec,
		metrics:   cfg.Metrics,
		log:       log,
		now:       now,
		pipeline: &ContributionPipeline{
			env:         cfg.Environment,
			storage:     cfg.Storage,
			computation: cfg.Computation,
			scheme:      scheme,
			verifierKey: cfg.VerifierKey,
			publisher:   cfg.Publisher,
			metrics:     cfg.Metrics,
			exec:        exec,
			log:         log,
			registry:    registry,
			locks:       locks,
			scheduler:   scheduler,
		},
	}

	restored, err := c.load(ctx)
	if err != nil {
		exec.stop()
		return nil, err
	}
	if restored {
		log.Info("Restored coordinator state", slog.Uint64("round", c.pipeline.round.Height), slog.Uint64("queue", registry.QueueSize()))
	} else {
		if err := c.pipeline.Initialize(ctx, now()); err != nil {
			exec.stop()
			return nil, err
		}
		if err := c.save(ctx); err != nil {
			exec.stop()
			return nil, err
		}
	}
	c.observe()
	return c, nil
}

// Verifier is the public key of the coordinator's own verifier.
func (c *Coordinator) Verifier() string {
	return c.verifier
}

func (c *Coordinator) Environment() *Environment {
	return c.env
}

// RoundHeight returns the height of the current round.
func (c *Coordinator) RoundHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pipeline.round.Height
}

// Join adds a contributor to the queue. If the current round is complete the
// next round starts right away, so joining an idle ceremony makes the
// participant current.
func (c *Coordinator) Join(ctx context.Context, id, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}

	if id == c.verifier {
		return interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrVerifierCannotContribute)
	}
	now := c.now()
	position, err := c.registry.AddToQueue(id, address, now)
	if err != nil {
		return err
	}
	c.log.Info("Participant joined queue", "participant", id, slog.Uint64("position", position))

	if c.scheduler.HasOrphans() {
		c.scheduler.AdoptOrphans(c.pipeline.round, now)
	} else if c.pipeline.round.IsComplete() {
		if err := c.pipeline.AdvanceRound(ctx, now); err != nil {
			c.log.Error("Failed to advance round", "err", err)
		}
	}
	c.registry.AssignTargets(c.pipeline.round.Height, c.env.ContributorsPerRound)

	return c.commit(ctx)
}

// Lock acquires the chunk of the participant's next task and returns where
// to read the challenge from and where to write the contribution to.
// Locking the chunk the participant already holds returns the same locators.
func (c *Coordinator) Lock(ctx context.Context, id string) (interfaces.LockedLocators, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return interfaces.LockedLocators{}, err
	}

	status, ok := c.registry.StatusOf(id)
	if !ok {
		return interfaces.LockedLocators{}, interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	if status != interfaces.StatusCurrent {
		return interfaces.LockedLocators{}, interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrParticipantNotCurrent)
	}
	task, err := c.scheduler.NextTask(id)
	if err != nil {
		return interfaces.LockedLocators{}, err
	}

	if holder, locked := c.locks.HolderOf(task.ChunkID); locked {
		if holder != id {
			return interfaces.LockedLocators{}, interfaces.Errorf(interfaces.KindStateConflict, "%w: chunk %d", interfaces.ErrChunkLocked, task.ChunkID)
		}
		existing, _ := c.locks.Get(task.ChunkID)
		return existing.Locators, nil
	}

	chunk, err := c.pipeline.round.Chunk(task.ChunkID)
	if err != nil {
		return interfaces.LockedLocators{}, err
	}
	if chunk.VerifiedID()+1 != task.ContributionID {
		return interfaces.LockedLocators{}, interfaces.Errorf(interfaces.KindStateConflict, "%w: chunk %d is at contribution %d", interfaces.ErrChunkNotReady, task.ChunkID, chunk.VerifiedID())
	}

	height := c.pipeline.round.Height
	next := interfaces.NewContributionLocator(height, task.ChunkID, task.ContributionID, false)
	locators := interfaces.LockedLocators{
		CurrentContribution:           interfaces.NewContributionLocator(height, task.ChunkID, task.ContributionID-1, true),
		NextContribution:              next,
		NextContributionFileSignature: next.SignatureLocator(),
	}

	now := c.now()
	if _, err := c.locks.TryLock(id, task, locators, now); err != nil {
		return interfaces.LockedLocators{}, err
	}
	if err := c.pipeline.initialize(ctx, next.Locator(), c.pipeline.computation.TranscriptSize()); err != nil {
		c.locks.Release(id, task.ChunkID)
		return interfaces.LockedLocators{}, err
	}
	c.registry.RecordHeartbeat(id, now)

	c.log.Debug("Locked chunk", "participant", id, slog.Uint64("chunk", task.ChunkID), slog.Uint64("contribution", task.ContributionID))
	return locators, c.commit(ctx)
}

// NextTask returns the task behind locators the participant holds.
func (c *Coordinator) NextTask(id string, locked interfaces.LockedLocators) (interfaces.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lock, err := c.heldLock(id, locked)
	if err != nil {
		return interfaces.Task{}, err
	}
	return lock.Task, nil
}

// Challenge reads the challenge of a chunk the participant holds.
func (c *Coordinator) Challenge(ctx context.Context, id string, locked interfaces.LockedLocators) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkRunning(); err != nil {
		return nil, err
	}

	lock, err := c.heldLock(id, locked)
	if err != nil {
		return nil, err
	}
	return c.pipeline.read(ctx, lock.Locators.CurrentContribution.Locator())
}

// UploadChunk writes a contribution and its file signature. On success the
// chunk lock is released and the contribution awaits verification.
func (c *Coordinator) UploadChunk(ctx context.Context, id string, req interfaces.PostChunkRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}

	if err := c.pipeline.WriteContribution(ctx, id, req.ContributionLocator, req.Contribution); err != nil {
		return err
	}
	now := c.now()
	if err := c.pipeline.WriteContributionFileSignature(ctx, id, req.ContributionFileSignatureLocator, req.ContributionFileSignature, now); err != nil {
		return err
	}
	c.registry.RecordHeartbeat(id, now)

	c.log.Info("Contribution uploaded", "participant", id, slog.String("locator", req.ContributionLocator.String()))
	return c.commit(ctx)
}

// Contribute returns the locator of the participant's uploaded contribution
// to a chunk, whether still awaiting verification or already verified.
func (c *Coordinator) Contribute(id string, chunkID uint64) (interfaces.ContributionLocator, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.registry.Get(id)
	if !ok {
		return interfaces.ContributionLocator{}, interfaces.NewError(interfaces.KindAuthorization, interfaces.ErrUnknownContributor)
	}
	height := c.pipeline.round.Height
	for _, task := range p.Awaiting {
		if task.ChunkID == chunkID {
			return interfaces.NewContributionLocator(height, chunkID, task.ContributionID, false), nil
		}
	}

	chunk, err := c.pipeline.round.Chunk(chunkID)
	if err != nil {
		return interfaces.ContributionLocator{}, err
	}
	for _, contribution := range chunk.Contributions[1:] {
		if contribution.Contributor == id {
			return interfaces.NewContributionLocator(height, chunkID, contribution.ContributionID, false), nil
		}
	}
	return interfaces.ContributionLocator{}, interfaces.Errorf(interfaces.KindNotFound, "%w: chunk %d", interfaces.ErrUnknownTask, chunkID)
}

// Heartbeat records that the participant is alive. Liveness is not persisted.
func (c *Coordinator) Heartbeat(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}
	return c.registry.RecordHeartbeat(id, c.now())
}

func (c *Coordinator) PendingTasks(id string) ([]interfaces.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scheduler.PendingTasks(id)
}

func (c *Coordinator) Status(id string) interfaces.ContributorStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, _ := c.registry.StatusOf(id)
	switch status {
	case interfaces.StatusQueued:
		position, _ := c.registry.QueuePosition(id, c.pipeline.round.Height)
		return interfaces.ContributorStatus{
			Status:        interfaces.ContributorQueue,
			QueuePosition: position,
			QueueSize:     c.registry.QueueSize(),
		}
	case interfaces.StatusCurrent:
		return interfaces.ContributorStatus{Status: interfaces.ContributorRound}
	case interfaces.StatusFinished:
		return interfaces.ContributorStatus{Status: interfaces.ContributorFinished}
	default:
		return interfaces.ContributorStatus{Status: interfaces.ContributorOther}
	}
}

// Update is the periodic maintenance pass. It drops participants whose
// heartbeat or lock timed out, removes silent queued participants, and
// advances a complete round when someone is waiting.
func (c *Coordinator) Update(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}

	now := c.now()
	var result *multierror.Error
	drop := func(ids []string, reason string) {
		for _, id := range ids {
			if err := c.pipeline.DropParticipant(id, reason, now); err != nil {
				result = multierror.Append(result, fmt.Errorf("could not drop %s: %w", cryptoutils.PrettyHash(id), err))
			}
		}
	}

	seenDeadline := now.Add(-c.env.SeenTimeout)
	drop(c.registry.Unresponsive(interfaces.StatusCurrent, seenDeadline), "heartbeat timeout")
	drop(c.locks.Expired(now.Add(-c.env.LockTimeout)), "lock timeout")
	drop(c.registry.Unresponsive(interfaces.StatusQueued, seenDeadline), "left the queue")

	if c.pipeline.round.IsComplete() {
		c.pipeline.finishRound(ctx, now)
		if err := c.pipeline.AdvanceRound(ctx, now); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not advance round: %w", err))
		}
	}
	c.scheduler.AdoptOrphans(c.pipeline.round, now)
	c.registry.AssignTargets(c.pipeline.round.Height, c.env.ContributorsPerRound)

	if err := c.commit(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// VerifyPending verifies every contribution awaiting verification. Failures
// of individual contributions are collected; the remaining ones are still
// verified.
func (c *Coordinator) VerifyPending(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}

	var result *multierror.Error
	pending := append([]PendingVerification(nil), c.pipeline.pending...)
	for _, pv := range pending {
		if err := c.pipeline.DefaultVerify(ctx, pv, c.now()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := c.commit(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Drop removes a participant on request of the coordinator operator.
func (c *Coordinator) Drop(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkRunning(); err != nil {
		return err
	}

	if err := c.pipeline.DropParticipant(id, "operator request", c.now()); err != nil {
		return err
	}
	return c.commit(ctx)
}

// Shutdown saves the state and stops the worker pool. Every later operation
// fails with ErrCoordinatorStopped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped.Load() {
		return nil
	}

	err := c.save(ctx)
	c.stopped.Store(true)
	c.exec.stop()
	c.log.Info("Coordinator stopped", slog.Uint64("round", c.pipeline.round.Height))
	return err
}

func (c *Coordinator) checkRunning() error {
	if c.stopped.Load() {
		return interfaces.NewError(interfaces.KindInternal, interfaces.ErrCoordinatorStopped)
	}
	return nil
}

// heldLock returns the participant's lock matching the given locators.
func (c *Coordinator) heldLock(id string, locked interfaces.LockedLocators) (*Lock, error) {
	lock, err := c.locks.HeldBy(id, locked.NextContribution.ChunkID)
	if err != nil {
		return nil, err
	}
	if lock.Locators != locked {
		return nil, interfaces.NewError(interfaces.KindStateConflict, interfaces.ErrLocatorMismatch)
	}
	return lock, nil
}

// commit updates metrics and persists the state.
func (c *Coordinator) commit(ctx context.Context) error {
	c.observe()
	return c.save(ctx)
}

func (c *Coordinator) observe() {
	if c.metrics == nil {
		return
	}
	c.metrics.RoundHeight.Set(float64(c.pipeline.round.Height))
	c.metrics.QueueSize.Set(float64(c.registry.QueueSize()))
	c.metrics.CurrentContributors.Set(float64(len(c.registry.Current())))
	c.metrics.ActiveLocks.Set(float64(c.locks.Len()))
	c.metrics.PendingVerifications.Set(float64(len(c.pipeline.pending)))
}
