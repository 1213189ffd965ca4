package routes

import (
	"context"
	"errors"
	"slices"

	"github.com/gofiber/fiber/v3"

	"github.com/foodfest/offline-cache/internal/cache"
	"github.com/foodfest/offline-cache/internal/host"
	"github.com/foodfest/offline-cache/internal/policy"
)

// StatusSource 提供宿主状态快照，*host.Host 满足该接口。
type StatusSource interface {
	Status() host.Status
}

// RegisterDiagnosticsRoutes 暴露 /-/worker、/-/caches 与 /-/policies 诊断接口。
func RegisterDiagnosticsRoutes(app *fiber.App, source StatusSource, storage cache.Storage) {
	if app == nil || source == nil || storage == nil {
		return
	}

	app.Get("/-/worker", func(c fiber.Ctx) error {
		return c.JSON(source.Status())
	})

	app.Get("/-/caches", func(c fiber.Ctx) error {
		payload, err := encodeCaches(c.Context(), storage, source.Status().CacheName)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		return c.JSON(fiber.Map{"caches": payload})
	})

	app.Get("/-/policies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"default":  policy.DefaultKey(),
			"policies": encodePolicies(policy.List()),
		})
	})
}

type cachePayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

type policyPayload struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Default     bool   `json:"default"`
}

// encodeCaches 按创建顺序列出缓存代及其条目数，只读访问，列举期间被删除的缓存代直接跳过。
func encodeCaches(ctx context.Context, storage cache.Storage, current string) ([]cachePayload, error) {
	names, err := storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]cachePayload, 0, len(names))
	for _, name := range names {
		keys, err := storage.Entries(ctx, name)
		if errors.Is(err, cache.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, cachePayload{
			Name:    name,
			Entries: len(keys),
			Current: name == current,
		})
	}
	return result, nil
}

func encodePolicies(items []policy.Policy) []policyPayload {
	if len(items) == 0 {
		return nil
	}
	slices.SortFunc(items, func(a, b policy.Policy) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	result := make([]policyPayload, 0, len(items))
	for _, p := range items {
		result = append(result, policyPayload{
			Key:         p.Key,
			Description: p.Description,
			Default:     p.Key == policy.DefaultKey(),
		})
	}
	return result
}
