// Package interfaces holds the ceremony data model shared by the coordinator,
// the request layer and the storage backends: locators, tasks, participant
// statuses, contribution signatures, the collaborator interfaces
// (ChunkStorage, Computation, TranscriptPublisher) and the error taxonomy.
package interfaces
