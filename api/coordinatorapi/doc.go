// Package coordinatorapi exposes the ceremony coordinator over HTTP.
//
// # Key Components
//
//   - Handler: chi routes for contributors, the public contribution summary,
//     and the verifier-only maintenance endpoints.
//   - Client: a request-signing client used by contributors and by the
//     coordinator verifier to trigger maintenance remotely.
//   - StatusCode: maps coordinator error kinds to response statuses.
//
// # Endpoints
//
//	POST /contributor/join_queue           join the contributor queue
//	GET  /contributor/lock_chunk           lock the chunk of the next task
//	POST /download/chunk                   task behind held locators
//	POST /contributor/challenge            challenge transcript of a locked chunk
//	POST /upload/chunk                     contribution and its file signature
//	POST /contributor/contribute_chunk     locator of an uploaded contribution
//	POST /contributor/heartbeat            liveness
//	GET  /contributor/get_tasks_left       pending tasks
//	GET  /contributor/queue_status         queue, round, finished or other
//	POST /contributor/contribution_info    self-reported contribution info
//	GET  /contribution_info                public summary, unauthenticated
//	GET  /update, /verify, /stop           verifier only
//
// Errors carry only the error text. Storage and internal failures are
// reported as a generic 500.
package coordinatorapi
