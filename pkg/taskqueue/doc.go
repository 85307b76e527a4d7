// Package taskqueue runs work under a token-bucket rate limit and a
// concurrency limit.
//
// A Queue admits tasks with a cost in tokens and starts them in submission
// order as tokens and worker slots become available. A Manager keeps one
// queue per key so independent targets are limited independently:
//
//	m := taskqueue.NewManager[string](taskqueue.Options{BurstLimit: 5, SustainRate: 1}, nil)
//	f := taskqueue.Submit(ctx, m.GetOrCreate("device-a.local"), poll, taskqueue.WithCost(2))
//	status, err := f.Result()
//
// Rejections caused by the queue itself (cost limits, cancellation, abort)
// carry a CancelReason; errors returned by the work are passed through
// unchanged.
package taskqueue
