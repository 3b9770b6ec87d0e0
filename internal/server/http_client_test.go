package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/offline-agent/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	client, err := NewUpstreamClient(config.GlobalConfig{UpstreamTimeout: config.Duration(45 * time.Second)})
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientIgnoresEnvProxyByDefault(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:5000")
	t.Setenv("HTTPS_PROXY", "http://127.0.0.1:5000")

	client, err := NewUpstreamClient(config.GlobalConfig{UpstreamTimeout: config.Duration(time.Second)})
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}
	transport := client.Transport.(*http.Transport)
	if transport.Proxy != nil {
		t.Fatalf("default upstream transport must dial directly")
	}
}

func TestNewUpstreamClientProxyModes(t *testing.T) {
	client, err := NewUpstreamClient(config.GlobalConfig{UpstreamProxy: "http://squid.internal:3128"})
	if err != nil {
		t.Fatalf("NewUpstreamClient: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, "https://cdn.example.com/lib.js", nil)
	proxyURL, err := client.Transport.(*http.Transport).Proxy(req)
	if err != nil || proxyURL == nil || proxyURL.Host != "squid.internal:3128" {
		t.Fatalf("fixed proxy not applied: %v %v", proxyURL, err)
	}

	client, err = NewUpstreamClient(config.GlobalConfig{UpstreamProxy: "ENV"})
	if err != nil {
		t.Fatalf("NewUpstreamClient env: %v", err)
	}
	if client.Transport.(*http.Transport).Proxy == nil {
		t.Fatalf("env mode should install ProxyFromEnvironment")
	}

	if _, err := NewUpstreamClient(config.GlobalConfig{UpstreamProxy: "not a proxy"}); err == nil {
		t.Fatalf("proxy without host should be rejected")
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive, X-Trace-Hop")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Trace-Hop", "1")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}
	if _, exists := dst["X-Trace-Hop"]; exists {
		t.Fatalf("headers named by Connection should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}
