package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/logging"
)

// State 描述代际生命周期：installing → installed → activating → activated，失败或被替代时为 redundant。
type State string

const (
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

var (
	// ErrInstallFailed 表示 install 阶段失败，旧代际继续控制消费者。
	ErrInstallFailed = errors.New("generation install failed")
	// ErrNothingWaiting 表示当前没有处于 installed 状态的代际可以激活。
	ErrNothingWaiting = errors.New("no waiting generation")
)

// Generation 是一次部署的 agent 实例，由缓存版本名标识。
type Generation struct {
	ID        string
	Version   string
	CreatedAt time.Time

	handlers Handlers

	mu    sync.RWMutex
	state State
}

// State 返回当前生命周期状态。
func (g *Generation) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

func (g *Generation) setState(state State) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}

// GenerationInfo 是 Snapshot 输出的只读视图，供诊断接口使用。
type GenerationInfo struct {
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	State     State     `json:"state"`
	Clients   int       `json:"clients"`
	CreatedAt time.Time `json:"created_at"`
}

// Runtime 负责代际切换与请求分发，同一时刻至多一个代际处于 activated。
type Runtime struct {
	network Network
	logger  *logrus.Logger

	mu          sync.Mutex
	generations []*Generation
	active      *Generation
	waiting     *Generation
	clients     map[*Client]struct{}
}

// NewRuntime 创建宿主运行时，network 用于所有未被拦截的请求。
func NewRuntime(network Network, logger *logrus.Logger) (*Runtime, error) {
	if network == nil {
		return nil, errors.New("network fetcher is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Runtime{
		network: network,
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}, nil
}

// Register 安装新代际。安装期间旧代际照常服务；安装成功后若调用了 SkipWaiting、
// 当前没有活跃代际或活跃代际已无消费者，则立即激活，否则停留在 installed 等待 Promote。
func (r *Runtime) Register(ctx context.Context, version string, handlers Handlers) (*Generation, error) {
	if handlers == nil {
		return nil, errors.New("handlers are required")
	}

	gen := &Generation{
		ID:        uuid.NewString(),
		Version:   version,
		CreatedAt: time.Now().UTC(),
		handlers:  handlers,
		state:     StateInstalling,
	}
	r.mu.Lock()
	r.generations = append(r.generations, gen)
	r.mu.Unlock()
	r.logState(gen, nil)

	ev := &InstallEvent{}
	if err := handlers.OnInstall(ctx, ev); err != nil {
		gen.setState(StateRedundant)
		r.logState(gen, err)
		return gen, fmt.Errorf("%w: %s: %w", ErrInstallFailed, version, err)
	}

	r.mu.Lock()
	gen.setState(StateInstalled)
	if r.waiting != nil {
		r.waiting.setState(StateRedundant)
	}
	r.waiting = gen
	activateNow := ev.skipped() || r.active == nil || r.controlledLocked(r.active) == 0
	r.mu.Unlock()
	r.logState(gen, nil)

	if !activateNow {
		return gen, nil
	}
	return gen, r.activate(ctx, gen)
}

// Promote 激活处于等待状态的代际，相当于旧代际的消费者全部退出。
func (r *Runtime) Promote(ctx context.Context) error {
	r.mu.Lock()
	gen := r.waiting
	r.mu.Unlock()
	if gen == nil {
		return ErrNothingWaiting
	}
	return r.activate(ctx, gen)
}

// activate 执行 OnActivate。处理函数返回的错误只记录日志，代际仍然进入 activated，
// 与浏览器平台忽略 activate 失败的行为一致。
func (r *Runtime) activate(ctx context.Context, gen *Generation) error {
	r.mu.Lock()
	if r.waiting != gen {
		r.mu.Unlock()
		return ErrNothingWaiting
	}
	r.waiting = nil
	prev := r.active
	gen.setState(StateActivating)
	r.mu.Unlock()
	r.logState(gen, nil)

	ev := &ActivateEvent{}
	if err := gen.handlers.OnActivate(ctx, ev); err != nil {
		r.logger.WithFields(logging.GenerationFields(gen.ID, gen.Version, string(StateActivating))).
			WithError(err).
			Warn("activate_failed")
	}

	r.mu.Lock()
	gen.setState(StateActivated)
	r.active = gen
	if prev != nil {
		prev.setState(StateRedundant)
	}
	claimed := 0
	for client := range r.clients {
		switch {
		case prev != nil && client.controller == prev:
			client.controller = gen
		case client.controller == nil && ev.claimed():
			client.controller = gen
			claimed++
		}
	}
	r.mu.Unlock()

	fields := logging.GenerationFields(gen.ID, gen.Version, string(StateActivated))
	fields["claimed_clients"] = claimed
	if prev != nil {
		fields["replaced_version"] = prev.Version
	}
	r.logger.WithFields(fields).Info("generation_state")
	return nil
}

// Active 返回当前活跃代际，没有时返回 nil。
func (r *Runtime) Active() *Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting 返回处于 installed 状态、等待激活的代际。
func (r *Runtime) Waiting() *Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Snapshot 按注册顺序输出全部代际及其受控消费者数量。
func (r *Runtime) Snapshot() []GenerationInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]GenerationInfo, 0, len(r.generations))
	for _, gen := range r.generations {
		result = append(result, GenerationInfo{
			ID:        gen.ID,
			Version:   gen.Version,
			State:     gen.State(),
			Clients:   r.controlledLocked(gen),
			CreatedAt: gen.CreatedAt,
		})
	}
	return result
}

// Connect 注册一个新的消费者，它由当前活跃代际控制（若存在）。
func (r *Runtime) Connect() *Client {
	client := &Client{ID: uuid.NewString(), runtime: r}
	r.mu.Lock()
	client.controller = r.active
	r.clients[client] = struct{}{}
	r.mu.Unlock()
	return client
}

func (r *Runtime) disconnect(client *Client) {
	r.mu.Lock()
	delete(r.clients, client)
	gen := r.waiting
	promote := gen != nil && r.active != nil && r.controlledLocked(r.active) == 0
	r.mu.Unlock()

	if promote {
		if err := r.activate(context.Background(), gen); err != nil && !errors.Is(err, ErrNothingWaiting) {
			r.logger.WithFields(logging.GenerationFields(gen.ID, gen.Version, string(gen.State()))).
				WithError(err).
				Warn("promote_failed")
		}
	}
}

func (r *Runtime) controlledLocked(gen *Generation) int {
	if gen == nil {
		return 0
	}
	count := 0
	for client := range r.clients {
		if client.controller == gen {
			count++
		}
	}
	return count
}

func (r *Runtime) logState(gen *Generation, err error) {
	entry := r.logger.WithFields(logging.GenerationFields(gen.ID, gen.Version, string(gen.State())))
	if err != nil {
		entry.WithError(err).Error("generation_state")
		return
	}
	entry.Info("generation_state")
}

// Client 是一个打开的消费者（应用页面），其请求经由控制它的代际处理。
type Client struct {
	ID string

	runtime    *Runtime
	controller *Generation
}

// Controller 返回控制该消费者的代际，未受控时返回 nil。
func (c *Client) Controller() *Generation {
	c.runtime.mu.Lock()
	defer c.runtime.mu.Unlock()
	return c.controller
}

// Fetch 把请求交给控制代际的 OnRequest；未受控或未拦截时直接走默认网络。
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if gen := c.Controller(); gen != nil {
		if action, ok := gen.handlers.OnRequest(req); ok {
			resp, err := action(ctx)
			if err == nil && resp == nil {
				return nil, fmt.Errorf("generation %s returned no response for %s", gen.Version, req.URL)
			}
			return resp, err
		}
	}
	return c.runtime.network.Fetch(ctx, req)
}

// Close 注销消费者；若活跃代际因此不再控制任何消费者，等待中的代际会被激活。
func (c *Client) Close() {
	c.runtime.disconnect(c)
}
