package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Storage 对应宿主持有的 CacheStore：按名称管理缓存代，并支持跨所有缓存代匹配。
type Storage interface {
	// Open 打开（不存在则创建）指定名称的缓存代。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 判断缓存代是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个缓存代，返回是否确实删除了内容。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按创建顺序返回所有缓存代名称。
	Keys(ctx context.Context) ([]string, error)

	// Entries 只读地列出缓存代内的请求键，缓存代不存在时返回 ErrNotFound，不会创建它。
	Entries(ctx context.Context, name string) ([]string, error)

	// Match 按创建顺序在所有缓存代中查找请求，第一个命中者胜出；未命中返回 ErrNotFound。
	Match(ctx context.Context, req *http.Request) (*Response, error)

	// Close 释放底层资源。
	Close() error
}

// Cache 是单个缓存代的读写句柄。
type Cache interface {
	Name() string

	// Match 查找请求对应的响应；未命中返回 ErrNotFound。
	Match(ctx context.Context, req *http.Request) (*Response, error)

	// Put 写入单个条目，单条写入是原子的。
	Put(ctx context.Context, req *http.Request, resp *Response) error

	// PutAll 写入一组条目，任一失败时尽力回滚本次已写入的条目。
	PutAll(ctx context.Context, entries []Entry) error

	// Delete 删除单个条目，返回是否存在。
	Delete(ctx context.Context, req *http.Request) (bool, error)

	// Keys 返回缓存代内全部请求键（已排序）。
	Keys(ctx context.Context) ([]string, error)
}

// Entry 组合请求键与响应，供批量写入使用。
type Entry struct {
	Key      string
	Response *Response
}

var (
	// ErrNotFound 表示缓存中不存在匹配的响应。
	ErrNotFound = errors.New("cache entry not found")
	// ErrUnsupportedRequest 表示请求无法作为缓存键（仅支持 GET）。
	ErrUnsupportedRequest = errors.New("request is not cacheable")
	// ErrStoreClosed 表示存储已关闭。
	ErrStoreClosed = errors.New("cache store closed")
)

// 支持的后端名称，与配置中的 StoreBackend 一致。
const (
	BackendFS      = "fs"
	BackendLevelDB = "leveldb"
)

// NewStorage 根据后端名称构建 Storage，整进程复用一份实例。
func NewStorage(backend, basePath string) (Storage, error) {
	switch backend {
	case "", BackendFS:
		return NewFileStorage(basePath)
	case BackendLevelDB:
		return NewLevelStorage(basePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}

// generation 描述缓存代索引项，用于按创建顺序列出名称。
type generation struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
