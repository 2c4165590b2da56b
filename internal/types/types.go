// Package types provides common type definitions for the favorites indexer.
package types

import "strings"

// RunState represents a stage of an indexing run
type RunState string

const (
	// RunIdle is the state before a run starts
	RunIdle RunState = "idle"
	// RunLocking is acquiring the per-user lock
	RunLocking RunState = "locking"
	// RunFetching is paging through the favorites feed
	RunFetching RunState = "fetching"
	// RunDeduping is subtracting the watermark from fetched ids
	RunDeduping RunState = "deduping"
	// RunHydrating is fetching full item bodies
	RunHydrating RunState = "hydrating"
	// RunIndexing is bulk-writing documents to the text index
	RunIndexing RunState = "indexing"
	// RunPersisting is writing the watermark and user record
	RunPersisting RunState = "persisting"
	// RunDone is a completed run
	RunDone RunState = "done"
	// RunFailed is a run that stopped on an error
	RunFailed RunState = "failed"
	// RunSkipped is a run that found the user lock held
	RunSkipped RunState = "skipped"
)

// IsTerminal reports whether no further transitions follow s
func (s RunState) IsTerminal() bool {
	return s == RunDone || s == RunFailed || s == RunSkipped
}

// QueueBackend selects the job queue implementation
type QueueBackend string

const (
	// QueueSQS uses an AWS SQS queue
	QueueSQS QueueBackend = "sqs"
	// QueueRedis uses the Redis visibility-timeout queue
	QueueRedis QueueBackend = "redis"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// CompareIDs orders two decimal item ids numerically without parsing them.
// It matches left-padding both to a common width and comparing as strings:
// shorter ids are smaller, equal-length ids compare lexicographically.
func CompareIDs(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// MinID returns the smallest id under CompareIDs, or "" for an empty slice
func MinID(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	min := ids[0]
	for _, id := range ids[1:] {
		if CompareIDs(id, min) < 0 {
			min = id
		}
	}
	return min
}
