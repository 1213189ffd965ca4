package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/foodfest/offline-cache/internal/cache"
	"github.com/foodfest/offline-cache/internal/logging"
	"github.com/foodfest/offline-cache/internal/network"
	"github.com/foodfest/offline-cache/internal/policy"
)

// Options 描述一个控制器版本所需的常量与协作方。
type Options struct {
	AppPrefix string
	Version   string
	Manifest  []string
	Origin    *url.URL
	Policy    policy.Policy
	Storage   cache.Storage
	Network   network.Fetcher
	Logger    *logrus.Logger
}

// Controller 是无状态的事件处理集合，只由 AppPrefix、Version 与 Manifest 参数化。
type Controller struct {
	appPrefix string
	version   string
	cacheName string
	manifest  []string
	origin    *url.URL
	policy    policy.Policy
	storage   cache.Storage
	network   network.Fetcher
	logger    *logrus.Logger
}

// NewController 校验依赖并构造控制器。
func NewController(opts Options) (*Controller, error) {
	if strings.TrimSpace(opts.AppPrefix) == "" || strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("app prefix and version are required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}
	if opts.Policy.Keep == nil {
		p, ok := policy.Resolve(policy.DefaultKey())
		if !ok {
			return nil, fmt.Errorf("default keep policy %s missing", policy.DefaultKey())
		}
		opts.Policy = p
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		appPrefix: opts.AppPrefix,
		version:   opts.Version,
		cacheName: opts.AppPrefix + opts.Version,
		manifest:  append([]string(nil), opts.Manifest...),
		origin:    opts.Origin,
		policy:    opts.Policy,
		storage:   opts.Storage,
		network:   opts.Network,
		logger:    logger,
	}, nil
}

// CacheName 返回当前缓存代名称 <AppPrefix><Version>。
func (c *Controller) CacheName() string {
	return c.cacheName
}

func (c *Controller) Version() string {
	return c.version
}

// Handlers 返回交给宿主注册的事件处理函数。
func (c *Controller) Handlers() Handlers {
	return Handlers{
		Install: func(e *ExtendableEvent) {
			e.WaitUntil(c.Install)
		},
		Activate: func(e *ExtendableEvent) {
			e.WaitUntil(c.Activate)
		},
		Fetch: func(e *FetchEvent) {
			req := e.Request
			_ = e.RespondWith(func(ctx context.Context) (*http.Response, error) {
				return c.Fetch(ctx, req)
			})
		},
	}
}

// Install 打开当前缓存代并整体预缓存清单，任一条目失败则安装失败。
func (c *Controller) Install(ctx context.Context) error {
	fields := logging.EventFields(string(EventInstall), c.version, c.cacheName)
	c.logger.WithFields(fields).WithField("entries", len(c.manifest)).Info("install_start")

	generation, err := c.storage.Open(ctx, c.cacheName)
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Error("install_open_failed")
		return fmt.Errorf("open cache %s: %w", c.cacheName, err)
	}
	reqs, err := network.ManifestRequests(ctx, c.origin, c.manifest)
	if err != nil {
		return fmt.Errorf("build manifest requests: %w", err)
	}
	if err := cache.AddAll(ctx, generation, c.network.Fetch, reqs); err != nil {
		c.logger.WithFields(fields).WithError(err).Error("install_failed")
		return fmt.Errorf("precache %s: %w", c.cacheName, err)
	}

	c.logger.WithFields(fields).Info("install_complete")
	return nil
}

// Activate 枚举所有缓存代，按保留策略并发删除其余缓存代，等待全部删除结束后返回。
// 单个删除失败不会中断其他删除，所有错误合并返回。
func (c *Controller) Activate(ctx context.Context) error {
	fields := logging.EventFields(string(EventActivate), c.version, c.cacheName)

	names, err := c.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	keep, drop := policy.Partition(c.policy, names, c.appPrefix, c.cacheName)
	c.logger.WithFields(fields).WithFields(logrus.Fields{
		"policy": c.policy.Key,
		"keep":   keep,
		"delete": drop,
	}).Info("activate_start")

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, name := range drop {
		g.Go(func() error {
			if _, err := c.storage.Delete(ctx, name); err != nil {
				c.logger.WithFields(fields).WithField("stale_cache", name).WithError(err).Warn("cache_delete_failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
				mu.Unlock()
				return nil
			}
			c.logger.WithFields(fields).WithField("stale_cache", name).Info("cache_deleted")
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.logger.WithFields(fields).Info("activate_complete")
	return nil
}

// Fetch 缓存优先：命中时直接返回存储的响应且不触网；未命中时把原请求转发给网络一次，
// 结果（包括失败）原样返回，不回写缓存。
func (c *Controller) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	stored, err := c.storage.Match(ctx, req)
	switch {
	case err == nil:
		cache.RecordMatch(ctx, stored.CacheName)
		c.logger.WithFields(logging.FetchFields(req.Method, req.URL.String(), stored.CacheName, true)).Debug("fetch_cache_hit")
		return stored.HTTP(req), nil
	case errors.Is(err, cache.ErrNotFound):
	default:
		return nil, fmt.Errorf("match %s: %w", req.URL, err)
	}

	c.logger.WithFields(logging.FetchFields(req.Method, req.URL.String(), "", false)).Debug("fetch_network")
	return c.network.Fetch(ctx, req)
}
