package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/foodfest/offline-cache/internal/policy"
)

var supportedStoreBackends = map[string]struct{}{
	StoreBackendFS:      {},
	StoreBackendLevelDB: {},
}

const supportedStoreBackendList = "fs|leveldb"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedStoreBackends[strings.ToLower(g.StoreBackend)]; !ok {
		return newFieldError("Global.StoreBackend", "仅支持 "+supportedStoreBackendList)
	}
	switch strings.ToLower(g.LogFormat) {
	case "", "json", "text":
	default:
		return newFieldError("Global.LogFormat", "仅支持 json|text")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	return c.Worker.validate()
}

func (w *WorkerConfig) validate() error {
	if err := validateOrigin(w.Origin); err != nil {
		return fmt.Errorf("%s: %w", workerField("Origin"), err)
	}
	if w.AppPrefix == "" {
		return newFieldError(workerField("AppPrefix"), "不能为空")
	}
	if strings.TrimSpace(w.Version) == "" {
		return newFieldError(workerField("Version"), "不能为空")
	}
	if len(w.Manifest) == 0 {
		return newFieldError(workerField("Manifest"), "至少需要一个预缓存路径")
	}

	seen := make(map[string]struct{}, len(w.Manifest))
	for i, entry := range w.Manifest {
		if err := validateManifestEntry(entry); err != nil {
			return fmt.Errorf("%s: %w", workerField("Manifest", i), err)
		}
		if _, exists := seen[entry]; exists {
			return newFieldError(workerField("Manifest", i), "重复")
		}
		seen[entry] = struct{}{}
	}

	if _, ok := policy.Resolve(w.KeepPolicy); !ok {
		return newFieldError(workerField("KeepPolicy"), "仅支持 "+strings.Join(policy.Keys(), "|"))
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少站点源地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源地址: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源地址缺少 Host: %s", raw)
	}
	return nil
}

// validateManifestEntry 要求清单条目为相对路径，构建产物必须与站点同源。
func validateManifestEntry(entry string) error {
	if entry == "" {
		return errors.New("路径不能为空")
	}
	parsed, err := url.Parse(entry)
	if err != nil {
		return err
	}
	if parsed.Scheme != "" || parsed.Host != "" {
		return fmt.Errorf("仅支持相对路径: %s", entry)
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("路径不应包含片段: %s", entry)
	}
	return nil
}
