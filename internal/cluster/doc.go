// Package cluster spreads invocations over a pool of worker processes.
//
// The master never runs handlers. It runs the invocation pipeline with a
// worker standing in for the handler: listeners fire on the master, the
// invocation is queued and assigned to a worker, and the worker's messages
// pass through the master's message client before they reach the backend.
// Workers report every outcome to the master over IPC.
//
// Dispatch lifecycle:
//   - queued: the entry waits in a priority queue, commands ahead of events
//   - assigned: the entry is tracked under the worker it was sent to
//   - completed: the worker reported a result, or the worker died
//   - settled: kept for a minute so late statuses and messages keep their origin
//
// Assignment:
//   - Tracked entries of workers that are no longer live are dropped first,
//     and their callers receive a "worker died" failure
//   - Workers at MaxConcurrentPerWorker are skipped
//   - One of the remaining workers is picked at random
//
// IPC:
//   - Newline-delimited JSON over the worker's stdin and stdout
//   - Worker logs go to stderr
//
// Backoff:
//   - Every interval the queue length is compared with the threshold
//   - At or above it the backend is asked to pause for the backoff duration
//   - Thresholds are read from the live config on every check
package cluster
