package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/zeebo/blake3"
)

// Storage 管理所有命名缓存，对应一次部署版本一个 Store。
type Storage interface {
	// Open 打开指定名称的缓存，不存在时创建。
	Open(ctx context.Context, name string) (Store, error)

	// Names 返回当前存在的全部缓存名称，按字典序排列。
	Names(ctx context.Context) ([]string, error)

	// Delete 删除整个命名缓存，返回值表示删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放底层资源（文件句柄、数据库连接）。
	Close() error
}

// Store 是单个命名缓存的读写入口。同一 Key 的写入总是覆盖旧值，最新一次成功写入生效。
type Store interface {
	Name() string

	// Put 写入响应快照。仅接受 GET 请求的 Key，其余方法返回 ErrMethodNotCacheable。
	Put(ctx context.Context, key Key, resp *Response) error

	// Match 查找缓存条目，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Response, error)
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrMethodNotCacheable 表示尝试写入非 GET 请求。
	ErrMethodNotCacheable = errors.New("only GET requests can be cached")
	// ErrInvalidStoreName 表示缓存名称为空或包含路径分隔符。
	ErrInvalidStoreName = errors.New("invalid cache store name")
)

// Key 唯一定位一个缓存条目：请求方法 + 去掉 fragment 的完整 URL。
type Key struct {
	Method string
	URL    string
}

// KeyFor 根据请求推导缓存 Key，方法缺省视为 GET。
func KeyFor(req *http.Request) Key {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return Key{Method: method, URL: u.String()}
}

// String 输出 "GET https://..." 形式，便于日志与 bbolt 键使用。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Hash 返回 Key 的 BLAKE3 摘要，用作磁盘文件名。
func (k Key) Hash() string {
	sum := blake3.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// Cacheable 表示该 Key 是否允许写入缓存。
func (k Key) Cacheable() bool {
	return k.Method == http.MethodGet
}

func validateStoreName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return ErrInvalidStoreName
	}
	return nil
}
