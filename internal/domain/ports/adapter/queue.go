package adapter

import "context"

// JobQueue hands messages to the external transcription/analysis worker.
type JobQueue interface {
	EnqueueProcessing(ctx context.Context, messageID, scopeID string) error
	// Retry resubmits the job for a message that already went through the queue.
	Retry(ctx context.Context, messageID string) error
}
