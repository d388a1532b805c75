// Package storage provides a key/value interface for the daemon's metadata.
//
// Values are small serialized objects that are rewritten as a whole on
// every change. A bbolt backed implementation is used by the server and an
// in-memory one by tests.
package storage

import "github.com/pkg/errors"

var ErrNoKeyExists = errors.New("no key exists")

// ReadOnlyTx reads keys within a single transaction.
type ReadOnlyTx interface {
	Get(key string) (*KeyValue, error)
	Exists(key string) (bool, error)
	// List returns all values whose key has the prefix, sorted by key.
	List(prefix string) ([]*KeyValue, error)
}

// Tx reads and writes keys within a single transaction.
type Tx interface {
	ReadOnlyTx
	Put(key string, value []byte) error
	// Deleting a missing key is not an error.
	Delete(key string) error
}

// Interface is a namespaced key/value store.
type Interface interface {
	// View runs f in a read only transaction.
	View(f func(ReadOnlyTx) error) error
	// Update runs f in a read-write transaction which is committed
	// only if f returns nil.
	Update(f func(Tx) error) error
}

// StoresProvider hands out namespaced stores.
type StoresProvider interface {
	Store(namespace string) Interface
}

type KeyValue struct {
	Key   string
	Value []byte
}
