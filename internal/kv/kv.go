// Package kv defines the narrow key-value contract the pattern store uses
// for its durable snapshot, plus a bbolt-backed default implementation. A
// caller may supply any Engine implementation of their own.
package kv

// Engine is the durable key-value contract the pattern store snapshots
// through. Implementations need only support whole-value get/put/delete and
// a bucket-scoped listing — there is no query language.
type Engine interface {
	// Get returns the value stored at key within bucket, or ok=false if
	// absent.
	Get(bucket, key string) (value []byte, ok bool, err error)

	// Put writes value at key within bucket, creating the bucket if needed.
	Put(bucket, key string, value []byte) error

	// Delete removes key from bucket. Deleting a missing key is not an
	// error.
	Delete(bucket, key string) error

	// List returns every key in bucket, in no particular order.
	List(bucket string) ([]string, error)

	// Close releases the engine's underlying resources.
	Close() error
}
