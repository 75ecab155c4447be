package model

import "strings"

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusQueued     ProcessingStatus = "QUEUED"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusCompleted  ProcessingStatus = "COMPLETED"
	StatusFailed     ProcessingStatus = "FAILED"
)

func ParseStatus(s string) (ProcessingStatus, bool) {
	switch st := ProcessingStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return st, true
	}
	return "", false
}

// IsTerminal reports COMPLETED or FAILED.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether a job is outstanding for the message.
func (s ProcessingStatus) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

// allowedTransitions is the forward-only table the worker callback is checked against.
// PROCESSING -> QUEUED covers a worker putting a job back on its own queue.
var allowedTransitions = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusQueued},
	StatusQueued:     {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusQueued},
	StatusFailed:     {StatusQueued},
	StatusCompleted:  nil,
}

// CanTransition reports whether from -> to is allowed. Re-delivering the current
// status is accepted so at-least-once callbacks stay harmless.
func CanTransition(from, to ProcessingStatus) bool {
	if from == to {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
