package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

// NewBoltStorage 打开（或创建）bbolt 数据库文件，每个命名缓存对应一个 bucket。
func NewBoltStorage(path string) (Storage, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	return &boltStorage{db: db}, nil
}

type boltStorage struct {
	db *bolt.DB
}

type boltStore struct {
	db   *bolt.DB
	name string
}

func (s *boltStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateStoreName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists := false
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(name)) != nil
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookup store %s: %w", name, err)
	}
	if exists {
		return &boltStore{db: s.db, name: name}, nil
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	return &boltStore{db: s.db, name: name}, nil
}

func (s *boltStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *boltStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	deleted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete store %s: %w", name, err)
	}
	return deleted, nil
}

func (s *boltStorage) Close() error {
	return s.db.Close()
}

func (s *boltStore) Name() string {
	return s.name
}

func (s *boltStore) Put(ctx context.Context, key Key, resp *Response) error {
	if !key.Cacheable() {
		return ErrMethodNotCacheable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeResponse(resp)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(s.name))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key.String()), data)
	})
}

func (s *boltStore) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(s.name))
		if bucket == nil {
			return nil
		}
		if raw := bucket.Get([]byte(key.String())); raw != nil {
			data = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return decodeResponse(data)
}
