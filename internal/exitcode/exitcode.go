// Package exitcode defines the process exit codes of paratest.
package exitcode

// * OK (0): every run completed, failing tests included
// * Error (1): the command could not run, e.g. a bad config or an unreachable database
// * RunAborted (2): a run-wide hook failed or workers left tests in the queue
const (
	OK         = 0
	Error      = 1
	RunAborted = 2
)
