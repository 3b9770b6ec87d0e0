package agent

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/cache"
)

// capture 读取 ok 响应的正文快照，resp 的正文会被替换为等价的内存 Reader。
// 正文在响应交给调用方之前读完，读取中断按网络失败处理，调用方不会收到半截正文。
// 非 2xx 响应不做快照，返回 nil。
func capture(resp *http.Response) (*cache.Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil
	}
	return cache.Snapshot(resp)
}

// storeAsync 在后台写入缓存，不阻塞响应返回。写入失败只记录日志并回调 OnCacheError。
// Close 之后到达的写入直接丢弃并按写入失败上报。
func (a *Agent) storeAsync(ctx context.Context, key cache.Key, entry *cache.Response) {
	ctx = context.WithoutCancel(ctx)
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.WithFields(logrus.Fields{
			"action":        "cache_write",
			"cache_version": a.version,
			"key":           key.String(),
		}).Warn("cache_put_skipped")
		a.reportCacheError(key, ErrAgentClosed)
		return
	}
	a.pending.Go(func() {
		if err := a.put(ctx, key, entry); err != nil {
			a.logger.WithFields(logrus.Fields{
				"action":        "cache_write",
				"cache_version": a.version,
				"key":           key.String(),
			}).WithError(err).Warn("cache_put_failed")
			a.reportCacheError(key, err)
		}
	})
	a.mu.Unlock()
}

func (a *Agent) put(ctx context.Context, key cache.Key, entry *cache.Response) error {
	store, err := a.storage.Open(ctx, a.version)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, entry)
}

// Wait 阻塞直到所有已派发的后台写入结束，之后仍可继续派发。
// 与仍在处理请求的调用并发时请改用 Close。
func (a *Agent) Wait() {
	a.pending.Wait()
}

// Close 停止接受新的后台写入并等待已派发的写入结束，可重复调用。
func (a *Agent) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.pending.Wait()
}

func (a *Agent) reportCacheError(key cache.Key, err error) {
	if a.onCacheError != nil {
		a.onCacheError(key, err)
	}
}
