// Package policy 聚合 activate 阶段的缓存代保留策略，并提供统一的注册入口。
//
// 每个策略以 key 注册，Keep 决定某个缓存名在新版本激活后是否保留。
// 默认策略 retain-all 复刻线上旧行为：旧过滤器把前缀下标检测的结果直接当作“保留”，
// 实际效果是所有缓存代都被保留、垃圾回收失效。该问题按原样保留并由测试标注，
// 需要真正回收时显式配置 current-only 或 prefixed-stale。
package policy
