package agent

import (
	"context"
	"net/http"
)

// Fetcher 是网络协作方，所有出站请求都经由它完成，可能失败。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc 允许把普通函数当作 Fetcher 使用。
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch 调用 f 本身。
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher 基于共享 http.Client 发起请求。
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch 克隆请求并绑定 ctx；服务端收到的请求带有 RequestURI，需要清空后才能作为客户端请求发送。
func (f HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	out := req.Clone(ctx)
	out.RequestURI = ""
	return client.Do(out)
}
