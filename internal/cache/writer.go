package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FetchFunc 发起一次网络请求，由调用方注入（通常是 network.Fetcher.Fetch）。
type FetchFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// FetchError 描述 AddAll 中单个条目的抓取失败：传输错误或非 2xx 状态。
type FetchError struct {
	Key        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %d", e.Key, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// BatchWriter 暂存一组响应，Commit 时一次性写入缓存代，保持暂存顺序。
type BatchWriter struct {
	cache   Cache
	mu      sync.Mutex
	entries []Entry
}

// NewBatchWriter 构造固定槽位数的批量写入器。
func NewBatchWriter(c Cache, size int) *BatchWriter {
	return &BatchWriter{
		cache:   c,
		entries: make([]Entry, size),
	}
}

// Stage 将响应放入第 i 个槽位，可被多个 goroutine 并发调用。
func (w *BatchWriter) Stage(i int, key string, resp *Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[i] = Entry{Key: key, Response: resp}
}

// Commit 要求所有槽位均已暂存，然后整体写入。
func (w *BatchWriter) Commit(ctx context.Context) error {
	if w.cache == nil {
		return errors.New("batch writer has no cache")
	}
	w.mu.Lock()
	entries := append([]Entry(nil), w.entries...)
	w.mu.Unlock()

	for i, entry := range entries {
		if entry.Response == nil {
			return fmt.Errorf("batch slot %d not staged", i)
		}
	}
	return w.cache.PutAll(ctx, entries)
}

// AddAll 并发抓取全部请求，全部成功后才写入缓存代；任一失败则缓存保持不变。
func AddAll(ctx context.Context, c Cache, fetch FetchFunc, reqs []*http.Request) error {
	writer := NewBatchWriter(c, len(reqs))
	g, gctx := errgroup.WithContext(ctx)

	for i, req := range reqs {
		g.Go(func() error {
			key, err := RequestKey(req)
			if err != nil {
				return fmt.Errorf("add %s %s: %w", req.Method, req.URL, err)
			}
			resp, err := fetch(gctx, req.WithContext(gctx))
			if err != nil {
				return &FetchError{Key: key, Err: err}
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return &FetchError{Key: key, StatusCode: resp.StatusCode}
			}
			stored, err := NewResponse(key, resp)
			if err != nil {
				return &FetchError{Key: key, StatusCode: resp.StatusCode, Err: err}
			}
			writer.Stage(i, key, stored)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return writer.Commit(ctx)
}
