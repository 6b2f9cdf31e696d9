// Package executor drains the execution queue.
//
// Each job is handed to an external engine command as a single JSON request
// on stdin. The command answers with one JSON response on stdout:
//
//	{"status": "ok"}
//	{"status": "error", "error": "compose pull failed"}
//
// Jobs run one at a time in queue order. A job that exceeds its timeout is
// sent SIGTERM, then SIGKILL after a grace period, and is marked failed.
// The job and the update it belongs to are both moved to a terminal status.
// Failed jobs are not retried.
package executor
