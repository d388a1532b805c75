package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type Diagnostic interface {
	Error(msg string, err error)
}

type Service struct {
	c Config

	mu     sync.Mutex
	boltdb *bolt.DB
	stores map[string]Interface

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		c:      c,
		stores: make(map[string]Interface),
		diag:   d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.c.BoltDBPath), 0755); err != nil {
		return errors.Wrapf(err, "mkdir dirs %q", s.c.BoltDBPath)
	}
	db, err := bolt.Open(s.c.BoltDBPath, 0600, &bolt.Options{
		Timeout: time.Duration(s.c.OpenTimeout),
	})
	if err != nil {
		return errors.Wrapf(err, "open boltdb @ %q", s.c.BoltDBPath)
	}
	s.boltdb = db
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boltdb == nil {
		return nil
	}
	err := s.boltdb.Close()
	s.boltdb = nil
	if err != nil {
		s.diag.Error("failed to close boltdb", err)
	}
	return err
}

// Store returns the namespaced store, the same one for every call with
// the same namespace. It must be called after Open.
func (s *Service) Store(namespace string) Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores[namespace]; ok {
		return store
	}
	store := NewBolt(s.boltdb, namespace)
	s.stores[namespace] = store
	return store
}
