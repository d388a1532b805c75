package storage

import (
	"encoding"
	"fmt"
	"path"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrObjectExists   = errors.New("object already exists")
	ErrNoObjectExists = errors.New("no object exists")
)

type BinaryObject interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	ObjectID() string
}

type NewObjectF func() BinaryObject

// ObjectStore keeps encoded objects under /<prefix>/data/<id>,
// so listing them yields ID order.
type ObjectStore struct {
	store     Interface
	prefix    string
	newObject NewObjectF
}

func NewObjectStore(store Interface, prefix string, newObject NewObjectF) (*ObjectStore, error) {
	if prefix == "" || strings.Contains(prefix, "/") {
		return nil, fmt.Errorf("invalid prefix %q", prefix)
	}
	if newObject == nil {
		return nil, errors.New("must provide a NewObject function")
	}
	return &ObjectStore{
		store:     store,
		prefix:    path.Join("/", prefix, "data") + "/",
		newObject: newObject,
	}, nil
}

func (s *ObjectStore) key(id string) string {
	return s.prefix + id
}

func (s *ObjectStore) Get(id string) (o BinaryObject, err error) {
	err = s.store.View(func(tx ReadOnlyTx) error {
		o, err = s.get(tx, id)
		return err
	})
	return
}

func (s *ObjectStore) get(tx ReadOnlyTx, id string) (BinaryObject, error) {
	kv, err := tx.Get(s.key(id))
	if err == ErrNoKeyExists {
		return nil, ErrNoObjectExists
	} else if err != nil {
		return nil, err
	}
	o := s.newObject()
	if err := o.UnmarshalBinary(kv.Value); err != nil {
		return nil, errors.Wrapf(err, "failed to decode object %q", id)
	}
	return o, nil
}

// Create fails with ErrObjectExists if the ID is taken.
func (s *ObjectStore) Create(o BinaryObject) error {
	return s.put(o, false, false)
}

// Put creates or replaces the object.
func (s *ObjectStore) Put(o BinaryObject) error {
	return s.put(o, true, false)
}

// Replace fails with ErrNoObjectExists if the ID is unknown.
func (s *ObjectStore) Replace(o BinaryObject) error {
	return s.put(o, true, true)
}

func (s *ObjectStore) put(o BinaryObject, allowReplace, requireReplace bool) error {
	return s.store.Update(func(tx Tx) error {
		key := s.key(o.ObjectID())
		exists, err := tx.Exists(key)
		if err != nil {
			return err
		}
		switch {
		case exists && !allowReplace:
			return ErrObjectExists
		case !exists && requireReplace:
			return ErrNoObjectExists
		}
		data, err := o.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Put(key, data)
	})
}

// Delete is a no-op for unknown IDs.
func (s *ObjectStore) Delete(id string) error {
	return s.store.Update(func(tx Tx) error {
		return tx.Delete(s.key(id))
	})
}

// List returns the objects whose ID matches the glob pattern, in ID order.
// An empty pattern matches everything, a negative limit means no limit.
func (s *ObjectStore) List(pattern string, offset, limit int) (objects []BinaryObject, err error) {
	err = s.store.View(func(tx ReadOnlyTx) error {
		kvs, err := tx.List(s.prefix)
		if err != nil {
			return err
		}
		matched := 0
		for _, kv := range kvs {
			if limit >= 0 && len(objects) == limit {
				break
			}
			id := strings.TrimPrefix(kv.Key, s.prefix)
			if pattern != "" {
				if ok, _ := path.Match(pattern, id); !ok {
					continue
				}
			}
			matched++
			if matched <= offset {
				continue
			}
			o := s.newObject()
			if err := o.UnmarshalBinary(kv.Value); err != nil {
				return errors.Wrapf(err, "failed to decode object %q", id)
			}
			objects = append(objects, o)
		}
		return nil
	})
	return
}

func ImpossibleTypeErr(exp interface{}, got interface{}) error {
	return fmt.Errorf("impossible error, object not of type %T, got %T", exp, got)
}
