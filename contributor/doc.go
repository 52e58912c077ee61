// Package contributor runs the participant side of the ceremony against a
// coordinator: join, wait in the queue, lock and contribute to every chunk
// while sending heartbeats, wait for verification, then post the
// contribution info. Polling backs off exponentially.
package contributor
