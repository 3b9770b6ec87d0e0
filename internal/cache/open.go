package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// 可选的缓存驱动。
const (
	DriverMemory = "memory"
	DriverFS     = "fs"
	DriverBolt   = "bolt"
)

// boltFileName 是 bolt 驱动在 StoragePath 下使用的数据库文件名。
const boltFileName = "offline-agent.db"

// OpenStorage 根据驱动名称创建 Storage，storagePath 对 memory 驱动无意义。
func OpenStorage(driver, storagePath string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMemory:
		return NewMemoryStorage(), nil
	case DriverFS, "":
		abs, err := filepath.Abs(storagePath)
		if err != nil {
			return nil, fmt.Errorf("resolve storage path: %w", err)
		}
		return NewFSStorage(afero.NewOsFs(), abs)
	case DriverBolt:
		abs, err := filepath.Abs(storagePath)
		if err != nil {
			return nil, fmt.Errorf("resolve storage path: %w", err)
		}
		return NewBoltStorage(filepath.Join(abs, boltFileName))
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
