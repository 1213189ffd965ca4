package policy

import "strings"

func init() {
	MustRegister(Policy{
		Key:         defaultKey,
		Description: "legacy filter: the prefix index test is always treated as keep, nothing is deleted",
		Keep:        keepPrefixIndexResult,
	})
	MustRegister(Policy{
		Key:         KeyCurrentOnly,
		Description: "delete every cache except the current generation",
		Keep:        keepCurrentOnly,
	})
	MustRegister(Policy{
		Key:         KeyPrefixedStale,
		Description: "delete stale generations starting with AppPrefix, leave other caches alone",
		Keep:        keepForeign,
	})
}

// keepPrefixIndexResult 复刻旧过滤器：前缀下标检测的返回值被直接当作保留条件，
// 任何缓存名都会被保留。已知问题，见包文档。
func keepPrefixIndexResult(_, _, _ string) bool {
	return true
}

func keepCurrentOnly(name, _ string, current string) bool {
	return name == current
}

func keepForeign(name, appPrefix, current string) bool {
	if name == current {
		return true
	}
	return !strings.HasPrefix(name, appPrefix)
}
