// Package storage keeps the history of job run outcomes.
//
// Only settled runs are stored (ok, failed, rejected, cancelled). Queued work
// lives in memory and is never persisted, so a restart starts with empty
// queues.
package storage
