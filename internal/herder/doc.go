// Package herder wires the daemon together: config, logging, one task queue
// per target host, the job scheduler, run history and the admin server.
//
// Every scheduled trigger becomes one submission to the job's host queue.
// The queue decides when it runs; herder only records what happened.
package herder
