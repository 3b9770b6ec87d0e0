package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存驱动与上游超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFormat       string   `mapstructure:"LogFormat"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	StoreDriver     string   `mapstructure:"StoreDriver"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UpstreamProxy   string   `mapstructure:"UpstreamProxy"`
	OtelEndpoint    string   `mapstructure:"OtelEndpoint"`
}

// UpstreamProxyFromEnv 作为 UpstreamProxy 的取值时，出站请求沿用 HTTP_PROXY 等环境变量。
const UpstreamProxyFromEnv = "env"

// AgentConfig 是拦截策略的静态输入：缓存版本名、资源清单、API 前缀与排除主机。
type AgentConfig struct {
	CacheVersion      string   `mapstructure:"CacheVersion"`
	Origin            string   `mapstructure:"Origin"`
	APIPrefix         string   `mapstructure:"APIPrefix"`
	ExcludedHost      string   `mapstructure:"ExcludedHost"`
	StaticAssets      []string `mapstructure:"StaticAssets"`
	RemoteAssets      []string `mapstructure:"RemoteAssets"`
	RemoteConcurrency int      `mapstructure:"RemoteConcurrency"`
	ManifestPath      string   `mapstructure:"ManifestPath"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Agent  AgentConfig  `mapstructure:"Agent"`
}
