package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/host"
)

const tracerName = "github.com/any-hub/offline-agent/internal/agent"

var (
	// ErrNoCachedCopy 表示同源请求网络失败且缓存中没有副本，错误会传递给调用方。
	ErrNoCachedCopy = errors.New("network failed and no cached copy")
	// ErrResponseNotOK 表示预缓存的资源返回了非 2xx 状态。
	ErrResponseNotOK = errors.New("response status not ok")
	// ErrAgentClosed 表示 agent 已关闭，后台写入被丢弃。
	ErrAgentClosed = errors.New("agent closed")
)

// Options 描述一个代际的 agent 所需的全部输入。
type Options struct {
	// Version 同时是缓存名称，例如 money-mgmt-v2。
	Version string
	Rules   Rules
	// StaticAssets 为同源路径，install 时必须全部成功。
	StaticAssets []string
	// RemoteAssets 为跨域绝对地址，install 时尽力而为。
	RemoteAssets []string
	// RemoteConcurrency 限制远程预取并发，<=0 表示不限制。
	RemoteConcurrency int

	Storage cache.Storage
	Fetcher Fetcher
	Logger  *logrus.Logger

	// OnCacheError 在缓存写入失败被吞掉时回调，用于诊断。
	OnCacheError func(key cache.Key, err error)
}

// Agent 实现 host.Handlers，本身不持有请求级状态，可被多个请求并发使用。
type Agent struct {
	version           string
	rules             Rules
	static            []*url.URL
	remote            []*url.URL
	remoteConcurrency int

	storage      cache.Storage
	fetcher      Fetcher
	logger       *logrus.Logger
	tracer       trace.Tracer
	onCacheError func(cache.Key, error)

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

var _ host.Handlers = (*Agent)(nil)

// New 校验并解析清单，返回可注册到 host.Runtime 的 Agent。
func New(opts Options) (*Agent, error) {
	if opts.Version == "" {
		return nil, errors.New("cache version is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Rules.Origin == nil {
		return nil, errors.New("origin is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	static := make([]*url.URL, 0, len(opts.StaticAssets))
	for _, ref := range opts.StaticAssets {
		target, err := opts.Rules.Resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("static asset %q: %w", ref, err)
		}
		if !opts.Rules.SameOrigin(target) {
			return nil, fmt.Errorf("static asset %q is not same-origin", ref)
		}
		static = append(static, target)
	}
	remote := make([]*url.URL, 0, len(opts.RemoteAssets))
	for _, ref := range opts.RemoteAssets {
		target, err := url.Parse(ref)
		if err != nil || !target.IsAbs() {
			return nil, fmt.Errorf("remote asset %q must be an absolute url", ref)
		}
		remote = append(remote, target)
	}

	return &Agent{
		version:           opts.Version,
		rules:             opts.Rules,
		static:            static,
		remote:            remote,
		remoteConcurrency: opts.RemoteConcurrency,
		storage:           opts.Storage,
		fetcher:           opts.Fetcher,
		logger:            logger,
		tracer:            otel.Tracer(tracerName),
		onCacheError:      opts.OnCacheError,
	}, nil
}

// Version 返回当前缓存名称。
func (a *Agent) Version() string {
	return a.version
}

// OnInstall 打开当前缓存，顺序写入全部静态资源，任一失败即中止 install；
// 之后并发预取远程资源，失败只记录不影响结果。
func (a *Agent) OnInstall(ctx context.Context, ev *host.InstallEvent) (err error) {
	ev.SkipWaiting()

	ctx, span := a.tracer.Start(ctx, "agent.install",
		trace.WithAttributes(attribute.String("cache.version", a.version)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "install failed")
		}
		span.End()
	}()

	store, err := a.storage.Open(ctx, a.version)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", a.version, err)
	}

	for _, target := range a.static {
		if err := a.precache(ctx, store, target); err != nil {
			return fmt.Errorf("precache %s: %w", target, err)
		}
	}

	stored := a.prefetchRemote(ctx, store)

	a.logger.WithFields(logrus.Fields{
		"action":        "install",
		"cache_version": a.version,
		"static_assets": len(a.static),
		"remote_stored": stored,
		"remote_total":  len(a.remote),
	}).Info("install_complete")
	return nil
}

// OnActivate 删除除当前版本以外的全部缓存，并接管所有已打开的消费者。
// 单个缓存删除失败不会阻止其余删除，错误合并后返回。
func (a *Agent) OnActivate(ctx context.Context, ev *host.ActivateEvent) error {
	ev.Claim()

	ctx, span := a.tracer.Start(ctx, "agent.activate",
		trace.WithAttributes(attribute.String("cache.version", a.version)))
	defer span.End()

	names, err := a.storage.Names(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list caches: %w", err)
	}

	var errs []error
	for _, name := range names {
		if name == a.version {
			continue
		}
		if _, err := a.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
			continue
		}
		a.logger.WithFields(logrus.Fields{
			"action":        "activate",
			"cache_version": a.version,
			"deleted_cache": name,
		}).Info("cache_deleted")
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (a *Agent) precache(ctx context.Context, store cache.Store, target *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return fmt.Errorf("%w: %d", ErrResponseNotOK, resp.StatusCode)
	}
	entry, err := cache.Snapshot(resp)
	if err != nil {
		return err
	}
	return store.Put(ctx, cache.KeyFor(req), entry)
}

// prefetchRemote 返回成功写入的远程资源数量。
func (a *Agent) prefetchRemote(ctx context.Context, store cache.Store) int {
	if len(a.remote) == 0 {
		return 0
	}
	limit := a.remoteConcurrency
	if limit <= 0 {
		limit = -1
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		stored int
	)
	g.SetLimit(limit)
	for _, target := range a.remote {
		g.Go(func() error {
			if err := a.precache(ctx, store, target); err != nil {
				key := cache.Key{Method: http.MethodGet, URL: target.String()}
				a.logger.WithFields(logrus.Fields{
					"action":        "install",
					"cache_version": a.version,
					"url":           key.URL,
				}).WithError(err).Warn("remote_precache_failed")
				a.reportCacheError(key, err)
				return nil
			}
			mu.Lock()
			stored++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return stored
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
