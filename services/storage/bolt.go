package storage

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// Bolt stores keys in a single top-level bucket of a bbolt database.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

func NewBolt(db *bolt.DB, bucket string) *Bolt {
	return &Bolt{
		db:     db,
		bucket: []byte(bucket),
	}
}

func (b *Bolt) View(f func(ReadOnlyTx) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return f(&boltTx{bucket: tx.Bucket(b.bucket)})
	})
}

func (b *Bolt) Update(f func(Tx) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(b.bucket)
		if err != nil {
			return err
		}
		return f(&boltTx{bucket: bucket})
	})
}

// boltTx wraps a bucket, which is nil in a read only transaction
// when nothing was ever written to the namespace.
type boltTx struct {
	bucket *bolt.Bucket
}

func (t *boltTx) Get(key string) (*KeyValue, error) {
	if t.bucket == nil {
		return nil, ErrNoKeyExists
	}
	val := t.bucket.Get([]byte(key))
	if val == nil {
		return nil, ErrNoKeyExists
	}
	// Values are only valid for the life of the transaction.
	return &KeyValue{
		Key:   key,
		Value: append([]byte(nil), val...),
	}, nil
}

func (t *boltTx) Exists(key string) (bool, error) {
	if t.bucket == nil {
		return false, nil
	}
	return t.bucket.Get([]byte(key)) != nil, nil
}

func (t *boltTx) List(prefix string) ([]*KeyValue, error) {
	if t.bucket == nil {
		return nil, nil
	}
	var kvs []*KeyValue
	p := []byte(prefix)
	c := t.bucket.Cursor()
	for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
		kvs = append(kvs, &KeyValue{
			Key:   string(k),
			Value: append([]byte(nil), v...),
		})
	}
	return kvs, nil
}

func (t *boltTx) Put(key string, value []byte) error {
	return t.bucket.Put([]byte(key), value)
}

func (t *boltTx) Delete(key string) error {
	return t.bucket.Delete([]byte(key))
}
