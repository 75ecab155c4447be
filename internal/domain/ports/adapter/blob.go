package adapter

import "context"

// BlobStore persists audio payloads under opaque storage keys.
type BlobStore interface {
	// Upload stores data for a scope (project) and returns the key it was written under.
	Upload(ctx context.Context, scopeID, filename string, data []byte, mimeType string) (string, error)
	// Delete removes a blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
