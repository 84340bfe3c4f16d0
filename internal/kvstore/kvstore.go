// Package kvstore provides the durable key-value substrate backing the
// session, blob and document stores.
//
// # Overview
//
// The substrate is a synchronous, string-keyed, string-valued store shared
// by the whole process and, for the file-backed implementation, by every
// process pointing at the same directory. It is the Go rendition of the
// browser's window.localStorage: writes are visible to concurrent readers
// the moment Set returns, and every mutation raises a notification that
// subscribers in this or another process can observe.
//
// # Concurrency
//
// Stores are safe for concurrent use within a process. Across processes
// there is no locking: two writers racing on the same key resolve as
// last-writer-wins at whole-value granularity. The layers above are built
// around this caveat, not protected from it.
package kvstore

// Persisted layout of the substrate namespace. Each store owns its keys;
// the document store additionally claims one key per collection name and
// treats the keys below as reserved. All values are JSON-encoded text.
const (
	// KeyIdentities holds the identity registry: a JSON array of identity
	// records including credential hashes.
	KeyIdentities = "users"
	// KeyCurrentIdentity holds the public projection of the currently
	// authenticated identity, or is absent when signed out.
	KeyCurrentIdentity = "currentUser"
	// KeyBlobIndex holds the blob index: a JSON map from path to descriptor.
	KeyBlobIndex = "files"
)

// Store is the substrate interface injected into each backend store.
//
// Implementations must make a finished Set observable by any subsequent Get
// before Set returns. Subscribe callbacks fire after every mutating write,
// including the caller's own.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
	// Subscribe registers fn to be called with the key of every mutation,
	// local or external. The returned func cancels the subscription.
	Subscribe(fn func(key string)) (cancel func())
}
