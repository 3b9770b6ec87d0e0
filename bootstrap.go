package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/agent"
	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/config"
	"github.com/any-hub/offline-agent/internal/host"
	"github.com/any-hub/offline-agent/internal/logging"
	"github.com/any-hub/offline-agent/internal/server"
)

// service 持有一次运行期间的长生命周期组件：缓存存储、宿主运行时与本地消费者。
type service struct {
	configPath string
	logger     *logrus.Logger
	storage    cache.Storage
	fetcher    agent.HTTPFetcher
	runtime    *host.Runtime
	client     *host.Client

	cacheErrors atomic.Int64

	mu      sync.Mutex
	current string
	agents  []*agent.Agent
}

// newService 打开缓存存储并部署配置中的版本。首次 install 失败不会阻止启动，
// 此时消费者不受控，所有请求直接走网络，直到下一次配置变更重新部署。
func newService(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger) (*service, error) {
	storage, err := cache.OpenStorage(cfg.Global.StoreDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	upstream, err := server.NewUpstreamClient(cfg.Global)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("初始化上游客户端失败: %w", err)
	}
	fetcher := agent.HTTPFetcher{Client: upstream}
	runtime, err := host.NewRuntime(fetcher, logger)
	if err != nil {
		storage.Close()
		return nil, err
	}

	s := &service{
		configPath: configPath,
		logger:     logger,
		storage:    storage,
		fetcher:    fetcher,
		runtime:    runtime,
	}
	if err := s.deploy(ctx, cfg); err != nil {
		if !errors.Is(err, host.ErrInstallFailed) {
			storage.Close()
			return nil, err
		}
		fields := logging.BaseFields("deploy", configPath)
		fields["cache_version"] = cfg.Agent.CacheVersion
		logger.WithFields(fields).WithError(err).Error("install_failed")
	}
	s.client = runtime.Connect()
	return s, nil
}

// deploy 基于配置构建新代际并注册到运行时。
func (s *service) deploy(ctx context.Context, cfg *config.Config) error {
	a, err := buildAgent(cfg, s.storage, s.fetcher, s.logger, s.recordCacheError)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.agents = append(s.agents, a)
	s.mu.Unlock()

	if _, err := s.runtime.Register(ctx, a.Version(), a); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = a.Version()
	s.mu.Unlock()
	return nil
}

// applyConfig 处理配置热更新：只有缓存版本变化时才部署新代际，
// 新代际 install 期间旧代际继续服务。
func (s *service) applyConfig(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	fields := logging.BaseFields("reload", s.configPath)
	fields["cache_version"] = cfg.Agent.CacheVersion
	if cfg.Agent.CacheVersion == current {
		s.logger.WithFields(fields).Info("config_reloaded_same_version")
		return nil
	}
	fields["previous_version"] = current
	if err := s.deploy(ctx, cfg); err != nil {
		s.logger.WithFields(fields).WithError(err).Error("rollover_failed")
		return err
	}
	s.logger.WithFields(fields).Info("rollover_complete")
	return nil
}

func (s *service) currentVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *service) recordCacheError(_ cache.Key, _ error) {
	s.cacheErrors.Add(1)
}

// close 等待所有代际的后台缓存写入完成后再释放存储。
func (s *service) close() error {
	if s.client != nil {
		s.client.Close()
	}
	s.mu.Lock()
	agents := append([]*agent.Agent(nil), s.agents...)
	s.mu.Unlock()
	for _, a := range agents {
		a.Close()
	}

	fields := logging.BaseFields("shutdown", s.configPath)
	fields["cache_write_failures"] = s.cacheErrors.Load()
	s.logger.WithFields(fields).Info("service_stopped")
	return s.storage.Close()
}

func buildAgent(
	cfg *config.Config,
	storage cache.Storage,
	fetcher agent.Fetcher,
	logger *logrus.Logger,
	onCacheError func(cache.Key, error),
) (*agent.Agent, error) {
	origin, err := cfg.Agent.OriginURL()
	if err != nil {
		return nil, fmt.Errorf("Agent.Origin: %w", err)
	}
	return agent.New(agent.Options{
		Version: cfg.Agent.CacheVersion,
		Rules: agent.Rules{
			Origin:       origin,
			APIPrefix:    cfg.Agent.APIPrefix,
			ExcludedHost: cfg.Agent.ExcludedHost,
		},
		StaticAssets:      cfg.Agent.StaticAssets,
		RemoteAssets:      cfg.Agent.RemoteAssets,
		RemoteConcurrency: cfg.Agent.RemoteConcurrency,
		Storage:           storage,
		Fetcher:           fetcher,
		Logger:            logger,
		OnCacheError:      onCacheError,
	})
}
