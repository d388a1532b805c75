package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemStore is an in memory implementation of Interface, used by tests.
type MemStore struct {
	mu    sync.RWMutex
	Name  string
	store map[string][]byte
}

func NewMemStore(name string) *MemStore {
	return &MemStore{
		Name:  name,
		store: make(map[string][]byte),
	}
}

func (s *MemStore) View(f func(ReadOnlyTx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return f(&memTx{store: s.store})
}

// Update works on a copy of the data which replaces it only when f succeeds.
func (s *MemStore) Update(f func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string][]byte, len(s.store))
	for k, v := range s.store {
		cp[k] = v
	}
	if err := f(&memTx{store: cp}); err != nil {
		return err
	}
	s.store = cp
	return nil
}

type memTx struct {
	store map[string][]byte
}

func (t *memTx) Get(key string) (*KeyValue, error) {
	value, ok := t.store[key]
	if !ok {
		return nil, ErrNoKeyExists
	}
	return &KeyValue{Key: key, Value: value}, nil
}

func (t *memTx) Exists(key string) (bool, error) {
	_, ok := t.store[key]
	return ok, nil
}

func (t *memTx) List(prefix string) ([]*KeyValue, error) {
	var kvs []*KeyValue
	for k, v := range t.store {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, &KeyValue{Key: k, Value: v})
		}
	}
	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, nil
}

func (t *memTx) Put(key string, value []byte) error {
	t.store[key] = append([]byte(nil), value...)
	return nil
}

func (t *memTx) Delete(key string) error {
	delete(t.store, key)
	return nil
}
