package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides 列出允许通过环境变量覆盖的字段，常用于容器部署时切换版本或存储位置。
type envOverrides struct {
	StoragePath  string `env:"OFFLINE_AGENT_STORAGE_PATH"`
	StoreDriver  string `env:"OFFLINE_AGENT_STORE_DRIVER"`
	LogLevel     string `env:"OFFLINE_AGENT_LOG_LEVEL"`
	CacheVersion string `env:"OFFLINE_AGENT_CACHE_VERSION"`
	Origin       string `env:"OFFLINE_AGENT_ORIGIN"`
	OtelEndpoint string `env:"OFFLINE_AGENT_OTEL_ENDPOINT"`
	Proxy        string `env:"OFFLINE_AGENT_UPSTREAM_PROXY"`
}

func applyEnvOverrides(cfg *Config) error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}
	setIfPresent(&cfg.Global.StoragePath, overrides.StoragePath)
	setIfPresent(&cfg.Global.StoreDriver, overrides.StoreDriver)
	setIfPresent(&cfg.Global.LogLevel, overrides.LogLevel)
	setIfPresent(&cfg.Global.OtelEndpoint, overrides.OtelEndpoint)
	setIfPresent(&cfg.Global.UpstreamProxy, overrides.Proxy)
	setIfPresent(&cfg.Agent.CacheVersion, overrides.CacheVersion)
	setIfPresent(&cfg.Agent.Origin, overrides.Origin)
	return nil
}

func setIfPresent(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
