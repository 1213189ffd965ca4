package config

import (
	"fmt"
	"net/url"

	"github.com/foodfest/offline-cache/internal/policy"
)

// WorkerRuntime 将 Worker 配置与解析后的源地址、保留策略合并，方便启动阶段直接取用。
type WorkerRuntime struct {
	Config    WorkerConfig
	CacheName string
	Origin    *url.URL
	Policy    policy.Policy
}

// BuildWorkerRuntime 根据 Worker 配置创建运行时描述（假定 Validate 已经通过）。
func BuildWorkerRuntime(cfg WorkerConfig) (WorkerRuntime, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return WorkerRuntime{}, fmt.Errorf("invalid origin %s: %w", cfg.Origin, err)
	}
	p, ok := policy.Resolve(cfg.KeepPolicy)
	if !ok {
		return WorkerRuntime{}, fmt.Errorf("keep policy %s is not registered", cfg.KeepPolicy)
	}
	return WorkerRuntime{
		Config:    cfg,
		CacheName: cfg.CacheName(),
		Origin:    origin,
		Policy:    p,
	}, nil
}
