package storagetest

import (
	"path/filepath"
	"sync"

	"github.com/DC-ET/sentry-feishu/services/storage"
	bolt "go.etcd.io/bbolt"
)

type CleanedTest interface {
	TempDir() string
	Fatal(args ...interface{})
	Cleanup(func())
}

// TestStore is a bolt database in a test temp dir, closed with the test.
type TestStore struct {
	db *bolt.DB

	mu     sync.Mutex
	stores map[string]storage.Interface
}

func New(t CleanedTest) *TestStore {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "bolt.db"), 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return &TestStore{
		db:     db,
		stores: make(map[string]storage.Interface),
	}
}

func (s *TestStore) Store(namespace string) storage.Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores[namespace]; ok {
		return store
	}
	store := storage.NewBolt(s.db, namespace)
	s.stores[namespace] = store
	return store
}

// MemStores hands out in-memory stores.
type MemStores struct {
	mu     sync.Mutex
	stores map[string]storage.Interface
}

func NewMemStores() *MemStores {
	return &MemStores{stores: make(map[string]storage.Interface)}
}

func (s *MemStores) Store(namespace string) storage.Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores[namespace]; ok {
		return store
	}
	store := storage.NewMemStore(namespace)
	s.stores[namespace] = store
	return store
}
