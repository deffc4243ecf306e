package syncqueue

import "github.com/google/uuid"

// KeyGenerator produces idempotency keys for queued operations.
// Implemented by UUIDv7Generator (production) and testutil.SequentialKeys.
type KeyGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 keys. The embedded
// timestamp makes keys in server logs line up with enqueue order.
//
// UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
