package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch 监听配置文件变化，每次写入后重新走 Load 全流程并回调结果。
// 典型用途是修改 Agent.CacheVersion 触发新代际安装。
func Watch(path string, onChange func(*Config, error)) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !shouldReload(e) {
			return
		}
		onChange(Load(path))
	})
	v.WatchConfig()
	return nil
}

// shouldReload 只对写入与重建触发，chmod、删除、重命名忽略。
func shouldReload(e fsnotify.Event) bool {
	return e.Has(fsnotify.Write) || e.Has(fsnotify.Create)
}
