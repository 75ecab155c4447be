package domain

import "errors"

var (
	// Ingestion taxonomy
	ErrNotFound           = errors.New("entity not found")
	ErrMissingAudio       = errors.New("message has no uploaded audio")
	ErrInvalidArchive     = errors.New("archive contains no audio entries")
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// State machine guards
	ErrAlreadyQueued       = errors.New("message is already queued or processing")
	ErrInvalidTransition   = errors.New("invalid processing status transition")
	ErrOperationInProgress = errors.New("operation already in progress")

	// Infrastructure
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrOperationFailed    = errors.New("operation failed")
)
