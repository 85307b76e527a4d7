// Package jobs turns configured jobs into queue work.
//
// A Job is the parsed form of config.JobConfig. Work returns the function
// submitted to the job's task queue; it applies the job timeout itself
// because queue work is never cancelled by its submitter once started.
package jobs
