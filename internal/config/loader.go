package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认值与最初部署的离线版本保持一致。
var (
	defaultStaticAssets = []string{"/", "/index.html", "/manifest.json", "/icon-192.png", "/icon-512.png"}
	defaultRemoteAssets = []string{
		"https://cdn.sheetjs.com/xlsx-0.20.1/package/dist/xlsx.full.min.js",
		"https://cdn.jsdelivr.net/npm/chart.js@4.4.1/dist/chart.umd.min.js",
	}
)

const (
	defaultCacheVersion      = "money-mgmt-v2"
	defaultAPIPrefix         = "/api/"
	defaultExcludedHost      = "jsonblob"
	defaultRemoteConcurrency = 4
	defaultOrigin            = "http://localhost:3000"
)

// Load 读取并解析 TOML 配置文件，依次叠加默认值、环境变量与资源清单文件后再做校验。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if cfg.Agent.ManifestPath != "" {
		manifestPath := cfg.Agent.ManifestPath
		if !filepath.IsAbs(manifestPath) {
			manifestPath = filepath.Join(filepath.Dir(path), manifestPath)
		}
		manifest, err := LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		manifest.apply(&cfg.Agent)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAgentDefaults(&cfg.Agent)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StoreDriver", "fs")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Agent.CacheVersion", defaultCacheVersion)
	v.SetDefault("Agent.APIPrefix", defaultAPIPrefix)
	v.SetDefault("Agent.ExcludedHost", defaultExcludedHost)
	v.SetDefault("Agent.StaticAssets", defaultStaticAssets)
	v.SetDefault("Agent.RemoteAssets", defaultRemoteAssets)
	v.SetDefault("Agent.RemoteConcurrency", defaultRemoteConcurrency)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.StoreDriver = strings.ToLower(strings.TrimSpace(g.StoreDriver))
	if g.StoreDriver == "" {
		g.StoreDriver = "fs"
	}
}

func applyAgentDefaults(a *AgentConfig) {
	a.CacheVersion = strings.TrimSpace(a.CacheVersion)
	if strings.TrimSpace(a.Origin) == "" {
		a.Origin = defaultOrigin
	}
	a.Origin = strings.TrimSuffix(strings.TrimSpace(a.Origin), "/")
	if a.RemoteConcurrency == 0 {
		a.RemoteConcurrency = defaultRemoteConcurrency
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
