package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/ceremony-coordinator/computation"
	"github.com/ruteri/ceremony-coordinator/cryptoutils"
	"github.com/ruteri/ceremony-coordinator/interfaces"
	"github.com/ruteri/ceremony-coordinator/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testCeremony struct {
	t           *testing.T
	env         *Environment
	storage     *storage.FileBackend
	computation *computation.Computation
	scheme      cryptoutils.SignatureScheme
	verifier    *cryptoutils.KeyPair
	clock       *fakeClock
	coord       *Coordinator
}

func testEnvironment() *Environment {
	env := DefaultEnvironment()
	env.Curve = interfaces.CurveBLS12_381
	env.NumberOfChunks = 4
	env.PowersPerChunk = 2
	env.SeenTimeout = time.Minute
	env.LockTimeout = 10 * time.Minute
	return env
}

func newTestCeremony(t *testing.T, env *Environment) *testCeremony {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)
	comp, err := computation.New(env.Curve, env.PowersPerChunk)
	require.NoError(t, err)
	scheme, err := cryptoutils.NewSignatureScheme(env.SignatureScheme)
	require.NoError(t, err)
	verifier, err := scheme.GenerateKey()
	require.NoError(t, err)

	tc := &testCeremony{
		t:           t,
		env:         env,
		storage:     backend,
		computation: comp,
		scheme:      scheme,
		verifier:    verifier,
		clock:       &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	tc.coord = tc.open()
	t.Cleanup(func() { _ = tc.coord.Shutdown(context.Background()) })
	return tc
}

// open creates a coordinator over the ceremony's storage.
func (tc *testCeremony) open() *Coordinator {
	tc.t.Helper()
	coord, err := New(context.Background(), Config{
		Environment: tc.env,
		Storage:     tc.storage,
		Computation: tc.computation,
		VerifierKey: tc.verifier,
		Workers:     2,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:         tc.clock.Now,
	})
	require.NoError(tc.t, err)
	return coord
}

func (tc *testCeremony) newParticipant() *cryptoutils.KeyPair {
	tc.t.Helper()
	key, err := tc.scheme.GenerateKey()
	require.NoError(tc.t, err)
	return key
}

func (tc *testCeremony) join(key *cryptoutils.KeyPair) {
	tc.t.Helper()
	require.NoError(tc.t, tc.coord.Join(context.Background(), key.PublicKey, "127.0.0.1"))
}

func (tc *testCeremony) signedUpload(key *cryptoutils.KeyPair, locked interfaces.LockedLocators, challenge, response []byte) interfaces.PostChunkRequest {
	tc.t.Helper()
	state := interfaces.ContributionState{
		ChallengeHash: cryptoutils.TranscriptHashHex(challenge),
		ResponseHash:  cryptoutils.TranscriptHashHex(response),
	}
	message, err := json.Marshal(state)
	require.NoError(tc.t, err)
	sig, err := tc.scheme.Sign(key, message)
	require.NoError(tc.t, err)

	return interfaces.PostChunkRequest{
		ContributionLocator:              locked.NextContribution,
		Contribution:                     response,
		ContributionFileSignatureLocator: locked.NextContributionFileSignature,
		ContributionFileSignature: interfaces.ContributionFileSignature{
			Signature: sig,
			State:     state,
		},
	}
}

// contributeNext locks the participant's next chunk and uploads a valid contribution.
func (tc *testCeremony) contributeNext(key *cryptoutils.KeyPair) interfaces.PostChunkRequest {
	tc.t.Helper()
	ctx := context.Background()

	locked, err := tc.coord.Lock(ctx, key.PublicKey)
	require.NoError(tc.t, err)
	challenge, err := tc.coord.Challenge(ctx, key.PublicKey, locked)
	require.NoError(tc.t, err)
	response, err := tc.computation.Contribute(challenge, []byte(key.PublicKey))
	require.NoError(tc.t, err)

	req := tc.signedUpload(key, locked, challenge, response)
	require.NoError(tc.t, tc.coord.UploadChunk(ctx, key.PublicKey, req))
	return req
}

// contributeAll uploads every chunk the participant has left and verifies them.
func (tc *testCeremony) contributeAll(key *cryptoutils.KeyPair) {
	tc.t.Helper()
	tasks, err := tc.coord.PendingTasks(key.PublicKey)
	require.NoError(tc.t, err)
	for range tasks {
		tc.contributeNext(key)
	}
	require.NoError(tc.t, tc.coord.VerifyPending(context.Background()))
}

func TestInitializationWritesFirstChallenges(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()

	expected, err := tc.computation.Initialize(0)
	require.NoError(t, err)
	for chunkID := range tc.env.NumberOfChunks {
		stored, err := tc.storage.Read(ctx, interfaces.NewContributionLocator(0, chunkID, 0, true).Locator())
		require.NoError(t, err)
		assert.Equal(t, expected, stored)
	}
	assert.Equal(t, uint64(0), tc.coord.RoundHeight())
	assert.True(t, tc.coord.pipeline.round.IsComplete())
}

func TestJoinEmptyQueueAndContribute(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice := tc.newParticipant()

	tc.join(alice)
	assert.Equal(t, interfaces.ContributorRound, tc.coord.Status(alice.PublicKey).Status)
	assert.Equal(t, uint64(1), tc.coord.RoundHeight())

	before, err := tc.coord.PendingTasks(alice.PublicKey)
	require.NoError(t, err)
	require.Len(t, before, int(tc.env.NumberOfChunks))
	assert.Equal(t, interfaces.NewTask(0, 1), before[0])

	locked, err := tc.coord.Lock(ctx, alice.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, interfaces.NewContributionLocator(1, 0, 0, true), locked.CurrentContribution)
	assert.Equal(t, interfaces.NewContributionLocator(1, 0, 1, false), locked.NextContribution)

	again, err := tc.coord.Lock(ctx, alice.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, locked, again)

	task, err := tc.coord.NextTask(alice.PublicKey, locked)
	require.NoError(t, err)
	assert.Equal(t, interfaces.NewTask(0, 1), task)

	challenge, err := tc.coord.Challenge(ctx, alice.PublicKey, locked)
	require.NoError(t, err)
	response, err := tc.computation.Contribute(challenge, []byte("seed"))
	require.NoError(t, err)
	require.NoError(t, tc.coord.UploadChunk(ctx, alice.PublicKey, tc.signedUpload(alice, locked, challenge, response)))

	assert.False(t, tc.coord.locks.IsLocked(0))
	after, err := tc.coord.PendingTasks(alice.PublicKey)
	require.NoError(t, err)
	assert.Len(t, after, len(before)-1)

	loc, err := tc.coord.Contribute(alice.PublicKey, 0)
	require.NoError(t, err)
	assert.Equal(t, locked.NextContribution, loc)

	stored, err := tc.storage.Read(ctx, loc.Locator())
	require.NoError(t, err)
	assert.Equal(t, response, stored)

	require.NoError(t, tc.coord.VerifyPending(ctx))
	chunk, err := tc.coord.pipeline.round.Chunk(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), chunk.VerifiedID())

	next, err := tc.storage.Read(ctx, interfaces.NewContributionLocator(1, 0, 1, true).Locator())
	require.NoError(t, err)
	assert.Equal(t, chunk.Contributions[1].NextChallengeHash, cryptoutils.TranscriptHashHex(next))
}

func TestJoinRejections(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice := tc.newParticipant()
	tc.join(alice)

	err := tc.coord.Join(ctx, alice.PublicKey, "")
	require.ErrorIs(t, err, interfaces.ErrParticipantAlreadyAdded)
	assert.Equal(t, interfaces.KindStateConflict, interfaces.KindOf(err))

	err = tc.coord.Join(ctx, tc.verifier.PublicKey, "")
	require.ErrorIs(t, err, interfaces.ErrVerifierCannotContribute)
	assert.Equal(t, interfaces.KindAuthorization, interfaces.KindOf(err))

	_, err = tc.coord.Lock(ctx, "unknown")
	require.ErrorIs(t, err, interfaces.ErrUnknownContributor)
	assert.Equal(t, interfaces.KindAuthorization, interfaces.KindOf(err))
}

func TestReuploadConflicts(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice := tc.newParticipant()
	tc.join(alice)

	req := tc.contributeNext(alice)

	err := tc.coord.UploadChunk(ctx, alice.PublicKey, req)
	require.ErrorIs(t, err, interfaces.ErrContributionAlreadyUploaded)
	assert.Equal(t, interfaces.KindStateConflict, interfaces.KindOf(err))

	require.NoError(t, tc.coord.VerifyPending(ctx))
	stored, err := tc.storage.Read(ctx, req.ContributionLocator.Locator())
	require.NoError(t, err)

	err = tc.coord.UploadChunk(ctx, alice.PublicKey, req)
	require.ErrorIs(t, err, interfaces.ErrContributionAlreadyVerified)
	assert.Equal(t, interfaces.KindStateConflict, interfaces.KindOf(err))

	unchanged, err := tc.storage.Read(ctx, req.ContributionLocator.Locator())
	require.NoError(t, err)
	assert.Equal(t, stored, unchanged)
}

func TestUploadChecks(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice := tc.newParticipant()
	mallory := tc.newParticipant()
	tc.join(alice)

	locked, err := tc.coord.Lock(ctx, alice.PublicKey)
	require.NoError(t, err)
	challenge, err := tc.coord.Challenge(ctx, alice.PublicKey, locked)
	require.NoError(t, err)
	response, err := tc.computation.Contribute(challenge, []byte("seed"))
	require.NoError(t, err)

	t.Run("wrong size", func(t *testing.T) {
		req := tc.signedUpload(alice, locked, challenge, response[:10])
		err := tc.coord.UploadChunk(ctx, alice.PublicKey, req)
		require.ErrorIs(t, err, interfaces.ErrContributionSizeMismatch)
		assert.Equal(t, interfaces.KindVerification, interfaces.KindOf(err))
	})

	t.Run("lock held by another participant", func(t *testing.T) {
		req := tc.signedUpload(mallory, locked, challenge, response)
		err := tc.coord.UploadChunk(ctx, mallory.PublicKey, req)
		require.ErrorIs(t, err, interfaces.ErrChunkNotLocked)
		assert.Equal(t, interfaces.KindAuthorization, interfaces.KindOf(err))
	})

	t.Run("signature by another key", func(t *testing.T) {
		req := tc.signedUpload(mallory, locked, challenge, response)
		err := tc.coord.UploadChunk(ctx, alice.PublicKey, req)
		require.ErrorIs(t, err, interfaces.ErrInvalidFileSignature)
	})

	t.Run("signed hash of a different challenge", func(t *testing.T) {
		req := tc.signedUpload(alice, locked, response, response)
		err := tc.coord.UploadChunk(ctx, alice.PublicKey, req)
		require.ErrorIs(t, err, interfaces.ErrHashMismatch)
	})

	t.Run("wrong locator", func(t *testing.T) {
		req := tc.signedUpload(alice, locked, challenge, response)
		req.ContributionLocator.ContributionID = 2
		err := tc.coord.UploadChunk(ctx, alice.PublicKey, req)
		require.ErrorIs(t, err, interfaces.ErrLocatorMismatch)
	})

	require.NoError(t, tc.coord.UploadChunk(ctx, alice.PublicKey, tc.signedUpload(alice, locked, challenge, response)))
}

func TestQueuePositionDecreases(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice, bob, carol, dave := tc.newParticipant(), tc.newParticipant(), tc.newParticipant(), tc.newParticipant()

	tc.join(alice)
	tc.join(bob)
	tc.join(carol)
	tc.join(dave)

	assert.Equal(t, interfaces.ContributorStatus{Status: interfaces.ContributorQueue, QueuePosition: 1, QueueSize: 3}, tc.coord.Status(bob.PublicKey))
	assert.Equal(t, uint64(2), tc.coord.Status(carol.PublicKey).QueuePosition)
	assert.Equal(t, uint64(3), tc.coord.Status(dave.PublicKey).QueuePosition)

	require.NoError(t, tc.coord.Drop(ctx, bob.PublicKey))
	assert.Equal(t, interfaces.ContributorOther, tc.coord.Status(bob.PublicKey).Status)
	assert.Equal(t, uint64(1), tc.coord.Status(carol.PublicKey).QueuePosition)
	assert.Equal(t, uint64(2), tc.coord.Status(dave.PublicKey).QueuePosition)

	tc.contributeAll(alice)
	assert.Equal(t, interfaces.ContributorFinished, tc.coord.Status(alice.PublicKey).Status)
	assert.Equal(t, uint64(2), tc.coord.RoundHeight())
	assert.Equal(t, interfaces.ContributorRound, tc.coord.Status(carol.PublicKey).Status)
	assert.Equal(t, interfaces.ContributorStatus{Status: interfaces.ContributorQueue, QueuePosition: 1, QueueSize: 1}, tc.coord.Status(dave.PublicKey))

	err := tc.coord.Join(ctx, alice.PublicKey, "")
	require.ErrorIs(t, err, interfaces.ErrParticipantAlreadyAdded)
}

func TestRoundAdvanceCopiesFinalChallenges(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice, bob := tc.newParticipant(), tc.newParticipant()

	tc.join(alice)
	tc.contributeAll(alice)

	// nobody queued, the complete round waits
	assert.Equal(t, uint64(1), tc.coord.RoundHeight())
	assert.True(t, tc.coord.pipeline.round.IsComplete())
	require.NotNil(t, tc.coord.pipeline.round.FinishedAt)

	tc.join(bob)
	assert.Equal(t, uint64(2), tc.coord.RoundHeight())
	assert.Equal(t, interfaces.ContributorRound, tc.coord.Status(bob.PublicKey).Status)

	for chunkID := range tc.env.NumberOfChunks {
		final, err := tc.storage.Read(ctx, interfaces.NewContributionLocator(1, chunkID, 1, true).Locator())
		require.NoError(t, err)
		copied, err := tc.storage.Read(ctx, interfaces.NewContributionLocator(2, chunkID, 0, true).Locator())
		require.NoError(t, err)
		assert.Equal(t, final, copied)
	}

	dst := interfaces.NewContributionLocator(2, 0, 0, true).Locator()
	err := tc.coord.pipeline.VerifyCopy(ctx, dst, cryptoutils.TranscriptHashHex([]byte("other")))
	require.ErrorIs(t, err, interfaces.ErrCopyMismatch)

	err = tc.coord.pipeline.VerifyInitialization(ctx, interfaces.NewContributionLocator(0, 0, 0, true).Locator(), []byte("other"))
	require.ErrorIs(t, err, interfaces.ErrInitializationMismatch)
}

func TestChunkLockedUntilHolderDropped(t *testing.T) {
	env := testEnvironment()
	env.ContributorsPerRound = 2
	tc := newTestCeremony(t, env)
	ctx := context.Background()
	alice, bob, carol := tc.newParticipant(), tc.newParticipant(), tc.newParticipant()

	tc.join(alice)
	tc.join(bob)
	tc.join(carol)
	tc.contributeAll(alice)

	require.Equal(t, uint64(2), tc.coord.RoundHeight())
	require.Equal(t, interfaces.ContributorRound, tc.coord.Status(bob.PublicKey).Status)
	require.Equal(t, interfaces.ContributorRound, tc.coord.Status(carol.PublicKey).Status)

	// bob owns contribution 1 and carol contribution 2 of every chunk
	for range 3 {
		tc.contributeNext(bob)
	}
	require.NoError(t, tc.coord.VerifyPending(ctx))
	for range 3 {
		tc.contributeNext(carol)
	}
	require.NoError(t, tc.coord.VerifyPending(ctx))

	_, err := tc.coord.Lock(ctx, bob.PublicKey)
	require.NoError(t, err)

	_, err = tc.coord.Lock(ctx, carol.PublicKey)
	require.ErrorIs(t, err, interfaces.ErrChunkLocked)
	assert.Equal(t, interfaces.KindStateConflict, interfaces.KindOf(err))
	holder, ok := tc.coord.locks.HolderOf(3)
	require.True(t, ok)
	assert.Equal(t, bob.PublicKey, holder)

	tc.clock.Advance(env.SeenTimeout + time.Second)
	require.NoError(t, tc.coord.Heartbeat(carol.PublicKey))
	require.NoError(t, tc.coord.Update(ctx))

	assert.Equal(t, interfaces.ContributorOther, tc.coord.Status(bob.PublicKey).Status)
	assert.False(t, tc.coord.locks.IsLocked(3))

	locked, err := tc.coord.Lock(ctx, carol.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, interfaces.NewContributionLocator(2, 3, 1, false), locked.NextContribution)

	// carol finishes both contributions of the last chunk and the round completes
	tasks, err := tc.coord.PendingTasks(carol.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Task{interfaces.NewTask(3, 1), interfaces.NewTask(3, 2)}, tasks)

	challenge, err := tc.coord.Challenge(ctx, carol.PublicKey, locked)
	require.NoError(t, err)
	response, err := tc.computation.Contribute(challenge, []byte("carol"))
	require.NoError(t, err)
	require.NoError(t, tc.coord.UploadChunk(ctx, carol.PublicKey, tc.signedUpload(carol, locked, challenge, response)))
	require.NoError(t, tc.coord.VerifyPending(ctx))
	tc.contributeNext(carol)
	require.NoError(t, tc.coord.VerifyPending(ctx))

	assert.True(t, tc.coord.pipeline.round.IsComplete())
	assert.Equal(t, interfaces.ContributorFinished, tc.coord.Status(carol.PublicKey).Status)
}

func TestVerificationFailureRequeuesTask(t *testing.T) {
	env := testEnvironment()
	env.MaxVerificationFailures = 2
	tc := newTestCeremony(t, env)
	ctx := context.Background()
	alice, bob := tc.newParticipant(), tc.newParticipant()
	tc.join(alice)

	uploadGarbage := func() interfaces.LockedLocators {
		locked, err := tc.coord.Lock(ctx, alice.PublicKey)
		require.NoError(t, err)
		challenge, err := tc.coord.Challenge(ctx, alice.PublicKey, locked)
		require.NoError(t, err)
		garbage := make([]byte, tc.computation.TranscriptSize())
		require.NoError(t, tc.coord.UploadChunk(ctx, alice.PublicKey, tc.signedUpload(alice, locked, challenge, garbage)))
		return locked
	}

	locked := uploadGarbage()
	err := tc.coord.VerifyPending(ctx)
	require.ErrorIs(t, err, interfaces.ErrVerificationFailed)
	assert.Equal(t, interfaces.KindVerification, interfaces.KindOf(err))

	tasks, err := tc.coord.PendingTasks(alice.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, interfaces.NewTask(0, 1), tasks[0])
	assert.Len(t, tasks, int(env.NumberOfChunks))

	exists, err := tc.storage.Exists(ctx, locked.NextContribution.Locator())
	require.NoError(t, err)
	assert.False(t, exists)
	chunk, err := tc.coord.pipeline.round.Chunk(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), chunk.VerifiedID())

	uploadGarbage()
	require.ErrorIs(t, tc.coord.VerifyPending(ctx), interfaces.ErrVerificationFailed)
	assert.Equal(t, interfaces.ContributorOther, tc.coord.Status(alice.PublicKey).Status)
	assert.True(t, tc.coord.scheduler.HasOrphans())

	tc.join(bob)
	assert.Equal(t, interfaces.ContributorRound, tc.coord.Status(bob.PublicKey).Status)
	tasks, err = tc.coord.PendingTasks(bob.PublicKey)
	require.NoError(t, err)
	assert.Len(t, tasks, int(env.NumberOfChunks))
	assert.Equal(t, uint64(1), tc.coord.RoundHeight())

	tc.contributeAll(bob)
	assert.Equal(t, interfaces.ContributorFinished, tc.coord.Status(bob.PublicKey).Status)
	assert.True(t, tc.coord.pipeline.round.IsComplete())
}

func TestStateSurvivesRestart(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice, bob := tc.newParticipant(), tc.newParticipant()
	tc.join(alice)
	tc.join(bob)
	tc.contributeNext(alice)
	locked, err := tc.coord.Lock(ctx, alice.PublicKey)
	require.NoError(t, err)

	require.NoError(t, tc.coord.Shutdown(ctx))
	err = tc.coord.Join(ctx, tc.newParticipant().PublicKey, "")
	require.ErrorIs(t, err, interfaces.ErrCoordinatorStopped)

	tc.coord = tc.open()
	assert.Equal(t, uint64(1), tc.coord.RoundHeight())
	assert.Equal(t, interfaces.ContributorRound, tc.coord.Status(alice.PublicKey).Status)
	assert.Equal(t, uint64(1), tc.coord.Status(bob.PublicKey).QueuePosition)

	again, err := tc.coord.Lock(ctx, alice.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, locked, again)

	require.NoError(t, tc.coord.VerifyPending(ctx))
	chunk, err := tc.coord.pipeline.round.Chunk(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), chunk.VerifiedID())
}

func TestUpdateRemovesSilentParticipants(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice, bob := tc.newParticipant(), tc.newParticipant()
	tc.join(alice)
	tc.join(bob)

	tc.clock.Advance(tc.env.SeenTimeout / 2)
	require.NoError(t, tc.coord.Heartbeat(bob.PublicKey))
	tc.clock.Advance(tc.env.SeenTimeout/2 + time.Second)
	require.NoError(t, tc.coord.Update(ctx))

	// alice timed out and bob takes over her tasks in the same round
	assert.Equal(t, interfaces.ContributorOther, tc.coord.Status(alice.PublicKey).Status)
	assert.Equal(t, interfaces.ContributorRound, tc.coord.Status(bob.PublicKey).Status)
	assert.Equal(t, uint64(1), tc.coord.RoundHeight())
	tasks, err := tc.coord.PendingTasks(bob.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, interfaces.NewTask(0, 1), tasks[0])

	// alice may rejoin after being dropped
	tc.join(alice)
	assert.Equal(t, interfaces.ContributorQueue, tc.coord.Status(alice.PublicKey).Status)
}

func TestUpdateReportsFailedDrops(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice := tc.newParticipant()
	tc.join(alice)

	// a stale lock whose holder the registry does not know
	tc.coord.locks.locks[3] = &Lock{ChunkID: 3, Holder: "ghost", Task: interfaces.NewTask(3, 1), AcquiredAt: tc.clock.Now()}

	tc.clock.Advance(tc.env.LockTimeout + time.Second)
	require.NoError(t, tc.coord.Heartbeat(alice.PublicKey))

	err := tc.coord.Update(ctx)
	require.ErrorIs(t, err, interfaces.ErrUnknownContributor)
	assert.Contains(t, err.Error(), "could not drop")
	assert.Equal(t, interfaces.ContributorRound, tc.coord.Status(alice.PublicKey).Status)
}

func TestContributionInfo(t *testing.T) {
	tc := newTestCeremony(t, testEnvironment())
	ctx := context.Background()
	alice, bob := tc.newParticipant(), tc.newParticipant()
	tc.join(alice)
	tc.join(bob)

	summary, err := tc.coord.ContributionsSummary(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary)

	err = tc.coord.PostContributionInfo(ctx, bob.PublicKey, interfaces.ContributionInfo{PublicKey: bob.PublicKey})
	assert.Equal(t, interfaces.KindAuthorization, interfaces.KindOf(err))

	err = tc.coord.PostContributionInfo(ctx, alice.PublicKey, interfaces.ContributionInfo{PublicKey: bob.PublicKey})
	assert.Equal(t, interfaces.KindAuthorization, interfaces.KindOf(err))

	finished := tc.clock.Now()
	require.NoError(t, tc.coord.PostContributionInfo(ctx, alice.PublicKey, interfaces.ContributionInfo{
		PublicKey:            alice.PublicKey,
		ContributorName:      "alice",
		FinishedContributing: &finished,
		ContributionHashes:   []string{"00"},
	}))

	summary, err = tc.coord.ContributionsSummary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, alice.PublicKey, summary[0].PublicKey)
	assert.Equal(t, "alice", summary[0].ContributorName)
	assert.Equal(t, uint64(1), summary[0].RoundHeight)
}
