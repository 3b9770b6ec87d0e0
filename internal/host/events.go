package host

import (
	"context"
	"net/http"
	"sync/atomic"
)

// Action 是 OnRequest 注册的长任务，宿主等待其返回作为原始请求的响应。
type Action func(ctx context.Context) (*http.Response, error)

// Handlers 对应 install/activate/fetch 三类事件，每个事件一个方法。
type Handlers interface {
	OnInstall(ctx context.Context, ev *InstallEvent) error
	OnActivate(ctx context.Context, ev *ActivateEvent) error
	// OnRequest 返回 false 表示不拦截，请求交由默认网络处理。
	OnRequest(req *http.Request) (Action, bool)
}

// Network 是宿主默认的网络能力，未被拦截的请求直接走这里。
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// InstallEvent 在 install 阶段传给 Handlers。
type InstallEvent struct {
	skipWaiting atomic.Bool
}

// SkipWaiting 请求安装完成后立即激活，而不是等待旧代际的消费者全部退出。
func (e *InstallEvent) SkipWaiting() {
	e.skipWaiting.Store(true)
}

func (e *InstallEvent) skipped() bool {
	return e.skipWaiting.Load()
}

// ActivateEvent 在 activate 阶段传给 Handlers。
type ActivateEvent struct {
	claim atomic.Bool
}

// Claim 让当前尚未受控的消费者立即改由本代际接管。
func (e *ActivateEvent) Claim() {
	e.claim.Store(true)
}

func (e *ActivateEvent) claimed() bool {
	return e.claim.Load()
}
