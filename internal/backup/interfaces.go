package backup

import "context"

// ObjectStore reads and writes whole objects in a cloud bucket.
// This interface enables mocking of storage in tests.
type ObjectStore interface {
	// Upload stores data under bucket/object, replacing any previous object.
	Upload(ctx context.Context, bucket, object string, data []byte) error

	// Download returns the bytes of bucket/object.
	Download(ctx context.Context, bucket, object string) ([]byte, error)

	// Close releases the client.
	Close() error
}
