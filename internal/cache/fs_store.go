package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// NewFSStorage 以 basePath 为根目录构建磁盘缓存，目录布局为：
//
//	<basePath>/<store>/<hash[0:2]>/<hash>.entry
//
// 其中 hash 为 Key 的 BLAKE3 摘要，条目内容为 msgpack 编码的响应快照。
func NewFSStorage(fsys afero.Fs, basePath string) (Storage, error) {
	if fsys == nil {
		return nil, errors.New("filesystem required")
	}
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if err := fsys.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return &fsStorage{
		fs:       fsys,
		basePath: basePath,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fsStorage 通过 entryLock 避免同一条目并发写入，所有 Store 句柄共享锁表。
type fsStorage struct {
	fs       afero.Fs
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type fsStore struct {
	storage *fsStorage
	name    string
}

func (s *fsStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateStoreName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(filepath.Join(s.basePath, name), 0o755); err != nil {
		return nil, fmt.Errorf("create store %s: %w", name, err)
	}
	return &fsStore{storage: s, name: name}, nil
}

func (s *fsStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, s.basePath)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			names = append(names, info.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fsStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateStoreName(name); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir := filepath.Join(s.basePath, name)
	exists, err := afero.DirExists(s.fs, dir)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete store %s: %w", name, err)
	}
	return true, nil
}

func (s *fsStorage) Close() error {
	return nil
}

func (s *fsStore) Name() string {
	return s.name
}

func (s *fsStore) Put(ctx context.Context, key Key, resp *Response) error {
	if !key.Cacheable() {
		return ErrMethodNotCacheable
	}
	unlock := s.storage.lockEntry(s.name, key)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeResponse(resp)
	if err != nil {
		return err
	}

	filePath := s.entryPath(key)
	fsys := s.storage.fs
	if err := fsys.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := afero.TempFile(fsys, filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		fsys.Remove(tempName)
		return err
	}

	if err := fsys.Rename(tempName, filePath); err != nil {
		fsys.Remove(tempName)
		return err
	}
	return nil
}

func (s *fsStore) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath := s.entryPath(key)
	fsys := s.storage.fs
	info, err := fsys.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := afero.ReadFile(fsys, filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeResponse(data)
}

func (s *fsStore) entryPath(key Key) string {
	hash := key.Hash()
	return filepath.Join(s.storage.basePath, s.name, hash[:2], hash+".entry")
}

func (s *fsStorage) lockEntry(store string, key Key) func() {
	lockKey := store + "::" + key.String()
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}
