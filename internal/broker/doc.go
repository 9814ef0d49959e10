// Package broker holds the in-process registries the housekeeping tasks
// operate on:
//
//   - Connections: live client connections with last-activity tracking,
//     swept by the connection reaper task.
//   - Queues: named queues with atomic traffic counters, sampled by the
//     queue stats flusher task.
//
// Both registries are safe for concurrent use and publish lifecycle events
// on the shared bus.
package broker
