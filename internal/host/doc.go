// Package host 扮演控制器的宿主：按版本驱动 install → activate 生命周期，持久化激活记录，
// 并把拦截到的请求派发给处于激活状态的控制器。
package host
