package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/offline-agent/internal/weborigin"
)

var supportedStoreDrivers = map[string]struct{}{
	"memory": {},
	"fs":     {},
	"bolt":   {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedStoreDrivers[g.StoreDriver]; !ok {
		return newFieldError("Global.StoreDriver", "仅支持 memory|fs|bolt")
	}
	if g.StoreDriver != "memory" && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if p := strings.TrimSpace(g.UpstreamProxy); p != "" && !strings.EqualFold(p, UpstreamProxyFromEnv) {
		if err := validateHTTPURL(p); err != nil {
			return fmt.Errorf("Global.UpstreamProxy: %w", err)
		}
		proxy, _ := url.Parse(p)
		if isLoopback(proxy.Hostname()) && proxy.Port() == strconv.Itoa(g.ListenPort) {
			return newFieldError("Global.UpstreamProxy", "不能指向代理自身的监听端口")
		}
	}
	if g.OtelEndpoint != "" {
		if err := validateHTTPURL(g.OtelEndpoint); err != nil {
			return fmt.Errorf("Global.OtelEndpoint: %w", err)
		}
	}

	a := c.Agent
	if a.CacheVersion == "" {
		return newFieldError("Agent.CacheVersion", "不能为空")
	}
	if strings.ContainsAny(a.CacheVersion, `/\ `) || a.CacheVersion == "." || a.CacheVersion == ".." {
		return newFieldError("Agent.CacheVersion", "不允许包含路径分隔符或空格")
	}

	origin, err := a.OriginURL()
	if err != nil {
		return fmt.Errorf("Agent.Origin: %w", err)
	}
	if isLoopback(origin.Hostname()) && origin.Port() == strconv.Itoa(g.ListenPort) {
		return newFieldError("Agent.Origin", "不能指向代理自身的监听端口")
	}
	if !strings.HasPrefix(a.APIPrefix, "/") {
		return newFieldError("Agent.APIPrefix", "必须以 / 开头")
	}
	if a.RemoteConcurrency < 0 {
		return newFieldError("Agent.RemoteConcurrency", "不能为负数")
	}

	for i, raw := range a.StaticAssets {
		ref, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || raw == "" {
			return newFieldError(listField("StaticAssets", i), "无法解析")
		}
		resolved := origin.ResolveReference(ref)
		if !weborigin.Same(resolved, origin) {
			return newFieldError(listField("StaticAssets", i), "必须与 Origin 同源")
		}
	}
	for i, raw := range a.RemoteAssets {
		if err := validateHTTPURL(raw); err != nil {
			return fmt.Errorf("%s: %w", listField("RemoteAssets", i), err)
		}
		parsed, _ := url.Parse(raw)
		if weborigin.Same(parsed, origin) {
			return newFieldError(listField("RemoteAssets", i), "必须是跨域地址")
		}
	}

	return nil
}

// OriginURL 返回解析后的应用源地址（scheme + host[:port]）。
func (a AgentConfig) OriginURL() (*url.URL, error) {
	if err := validateHTTPURL(a.Origin); err != nil {
		return nil, err
	}
	parsed, _ := url.Parse(a.Origin)
	if parsed.Path != "" && parsed.Path != "/" {
		return nil, fmt.Errorf("Origin 不允许包含路径: %s", a.Origin)
	}
	return &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/"}, nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
