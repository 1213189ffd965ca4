package cache

import (
	"context"
	"sync"
)

type matchRecordKey struct{}

// MatchRecord 随请求 context 传递，记录本次派发是否由缓存应答以及命中的缓存代。
type MatchRecord struct {
	mu        sync.Mutex
	hit       bool
	cacheName string
}

// WithMatchRecord 在 ctx 上挂载一个新的 MatchRecord。
func WithMatchRecord(ctx context.Context) (context.Context, *MatchRecord) {
	record := &MatchRecord{}
	return context.WithValue(ctx, matchRecordKey{}, record), record
}

// RecordMatch 标记命中；ctx 上没有 MatchRecord 时为空操作。
func RecordMatch(ctx context.Context, cacheName string) {
	record, ok := ctx.Value(matchRecordKey{}).(*MatchRecord)
	if !ok || record == nil {
		return
	}
	record.mu.Lock()
	record.hit = true
	record.cacheName = cacheName
	record.mu.Unlock()
}

// Hit 返回命中的缓存代名称与是否命中。
func (r *MatchRecord) Hit() (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cacheName, r.hit
}
