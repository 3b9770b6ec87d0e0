package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/host"
	"github.com/any-hub/offline-agent/internal/logging"
)

const (
	strategyNetworkOnly  = "network_only"
	strategyCacheFirst   = "cache_first"
	strategyNetworkFirst = "network_first"
)

// OnRequest 根据分类返回响应动作；返回 false 时宿主按默认网络处理。
func (a *Agent) OnRequest(req *http.Request) (host.Action, bool) {
	class := a.rules.Classify(req.Method, req.URL)
	switch class {
	case ClassExternalOpaque:
		return nil, false
	case ClassAPI:
		return func(ctx context.Context) (*http.Response, error) {
			return a.networkOnly(ctx, req)
		}, true
	case ClassCrossOrigin:
		return func(ctx context.Context) (*http.Response, error) {
			return a.cacheFirst(ctx, req)
		}, true
	default:
		return func(ctx context.Context) (*http.Response, error) {
			return a.networkFirst(ctx, req)
		}, true
	}
}

func (a *Agent) networkOnly(ctx context.Context, req *http.Request) (*http.Response, error) {
	started := time.Now()
	ctx, span := a.startSpan(ctx, strategyNetworkOnly, ClassAPI, req)
	defer span.End()

	resp, err := a.fetcher.Fetch(ctx, req)
	a.finish(span, ClassAPI, strategyNetworkOnly, req, resp, false, started, err)
	return resp, err
}

// cacheFirst 命中直接返回缓存；未命中回源，网络失败时返回 503 Offline 占位响应。
func (a *Agent) cacheFirst(ctx context.Context, req *http.Request) (*http.Response, error) {
	started := time.Now()
	ctx, span := a.startSpan(ctx, strategyCacheFirst, ClassCrossOrigin, req)
	defer span.End()

	key := cache.KeyFor(req)
	if cached := a.match(ctx, key); cached != nil {
		resp := cached.HTTP(req)
		a.finish(span, ClassCrossOrigin, strategyCacheFirst, req, resp, true, started, nil)
		return resp, nil
	}

	resp, err := a.fetchAndStore(ctx, req, key)
	if err != nil {
		a.finish(span, ClassCrossOrigin, strategyCacheFirst, req, nil, false, started, err)
		return offlineResponse(req), nil
	}
	a.finish(span, ClassCrossOrigin, strategyCacheFirst, req, resp, false, started, nil)
	return resp, nil
}

// networkFirst 总是先回源；网络失败时回退到缓存，缓存也没有则把错误交给调用方。
func (a *Agent) networkFirst(ctx context.Context, req *http.Request) (*http.Response, error) {
	started := time.Now()
	ctx, span := a.startSpan(ctx, strategyNetworkFirst, ClassSameOrigin, req)
	defer span.End()

	key := cache.KeyFor(req)
	resp, err := a.fetchAndStore(ctx, req, key)
	if err == nil {
		a.finish(span, ClassSameOrigin, strategyNetworkFirst, req, resp, false, started, nil)
		return resp, nil
	}

	if cached := a.match(ctx, key); cached != nil {
		fallback := cached.HTTP(req)
		a.finish(span, ClassSameOrigin, strategyNetworkFirst, req, fallback, true, started, nil)
		return fallback, nil
	}

	err = fmt.Errorf("%w: %s: %w", ErrNoCachedCopy, key, err)
	a.finish(span, ClassSameOrigin, strategyNetworkFirst, req, nil, false, started, err)
	return nil, err
}

// fetchAndStore 回源并在 ok 时派发后台写入；读取正文失败视同网络失败。
func (a *Agent) fetchAndStore(ctx context.Context, req *http.Request, key cache.Key) (*http.Response, error) {
	resp, err := a.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	entry, err := capture(resp)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		a.storeAsync(ctx, key, entry)
	}
	return resp, nil
}

// match 返回缓存条目，未命中或读取失败都返回 nil。
func (a *Agent) match(ctx context.Context, key cache.Key) *cache.Response {
	store, err := a.storage.Open(ctx, a.version)
	if err == nil {
		var cached *cache.Response
		cached, err = store.Match(ctx, key)
		if err == nil {
			return cached
		}
	}
	if !errors.Is(err, cache.ErrNotFound) {
		a.logger.WithFields(logging.RequestFields(a.version, "", "", key.URL, false)).
			WithError(err).
			Warn("cache_get_failed")
	}
	return nil
}

func offlineResponse(req *http.Request) *http.Response {
	placeholder := &cache.Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: "Offline",
		Header:     http.Header{},
	}
	return placeholder.HTTP(req)
}

func (a *Agent) startSpan(ctx context.Context, strategy string, class Class, req *http.Request) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "agent."+strategy,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.version", a.version),
			attribute.String("agent.class", class.String()),
			attribute.String("url.full", req.URL.String()),
		))
}

func (a *Agent) finish(
	span trace.Span,
	class Class,
	strategy string,
	req *http.Request,
	resp *http.Response,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(a.version, class.String(), strategy, req.URL.String(), cacheHit)
	fields["action"] = "intercept"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	span.SetAttributes(attribute.Bool("cache.hit", cacheHit))
	if resp != nil {
		fields["status"] = resp.StatusCode
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strategy+" failed")
		a.logger.WithFields(fields).WithError(err).Warn("intercept_failed")
		return
	}
	a.logger.WithFields(fields).Info("intercept_complete")
}
