// Package coordinator implements the state machine of a multi-party setup ceremony.
//
// The ceremony parameters are split into chunks. In every round each admitted
// contributor transforms every chunk once, and every transformation is checked
// by the coordinator's verifier before the next contributor may build on it.
//
// # Key Components
//
//   - Registry: participants, their status and the admission queue
//   - LockManager: exclusive per-chunk locks held by current contributors
//   - TaskScheduler: per-participant task lists and reassignment on drop
//   - ContributionPipeline: upload, signature, verification and round advancement
//   - Coordinator: composes the above behind one reader/writer lock and
//     persists the resulting CoordinatorState after every mutation
//
// # Contribution Lifecycle
//
//  1. A participant joins the queue and becomes current once a round has room
//  2. It locks the chunk of its next task and reads the chunk's challenge
//  3. It uploads its response together with a signature over the transcript hashes
//  4. The lock is released and the contribution waits for verification
//  5. The verifier checks the response against the challenge and stores the next challenge
//  6. When every chunk reaches the round's expected contribution id the round is
//     complete and the next round starts with the following queued participants
//
// Participants that stop sending heartbeats or hold a lock for too long are
// dropped by the maintenance pass. Their unfinished tasks move to the head of
// the queue, or to another current participant when nobody is waiting.
package coordinator
