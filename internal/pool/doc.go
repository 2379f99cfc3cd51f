// Package pool runs tagging jobs on a fixed set of workers, each owning a
// private engine instance, and hands every caller a Job handle that
// completes exactly once.
//
// Two strategies are available. InProcess workers hold an engine in this
// process and write results straight into the job. Subprocess workers drive
// an isolated child process over framed pipes; their results come back as
// data and a single router goroutine matches them to jobs by id.
//
// Stop drains: every job accepted before Stop finishes before Stop returns.
package pool
