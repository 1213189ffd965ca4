// Package worker 实现离线缓存控制器：install 预缓存清单，activate 按保留策略清理旧缓存代，
// fetch 以缓存优先方式响应请求。控制器不持有可变状态，全部持久数据都在 cache.Storage 中。
package worker
