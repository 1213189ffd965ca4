package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// 内置保留策略的键值。
const (
	KeyRetainAll     = "retain-all"
	KeyCurrentOnly   = "current-only"
	KeyPrefixedStale = "prefixed-stale"
)

const defaultKey = KeyRetainAll

var globalRegistry = newRegistry()

// KeepFunc 判断缓存名 name 在当前缓存代 current 激活后是否保留。
type KeepFunc func(name, appPrefix, current string) bool

// Policy 记录一个保留策略的静态信息，供配置校验和诊断端使用。
type Policy struct {
	Key         string
	Description string
	Keep        KeepFunc
}

// DefaultKey 返回默认保留策略的键值。
func DefaultKey() string {
	return defaultKey
}

type registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func newRegistry() *registry {
	return &registry{policies: make(map[string]Policy)}
}

// Register 将策略加入全局注册表，重复键会返回错误。
func Register(p Policy) error {
	return globalRegistry.register(p)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(p Policy) {
	if err := Register(p); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的策略。
func Resolve(key string) (Policy, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的策略列表。
func List() []Policy {
	return globalRegistry.list()
}

// Keys 返回所有已注册策略的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, p := range items {
		result[i] = p.Key
	}
	return result
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(p Policy) error {
	key := r.normalizeKey(p.Key)
	if key == "" {
		return fmt.Errorf("policy key is required")
	}
	if p.Keep == nil {
		return fmt.Errorf("policy %s: keep func is required", key)
	}
	p.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[key]; exists {
		return fmt.Errorf("policy %s already registered", key)
	}
	r.policies[key] = p
	return nil
}

func (r *registry) resolve(key string) (Policy, bool) {
	if key == "" {
		return Policy{}, false
	}
	normalized := r.normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[normalized]
	return p, ok
}

func (r *registry) list() []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.policies) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.policies))
	for key := range r.policies {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Policy, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.policies[key])
	}
	return result
}

// Partition 按策略把缓存名划分为保留与删除两组，均保持输入顺序。
// 当前缓存代总是保留。
func Partition(p Policy, names []string, appPrefix, current string) (keep, drop []string) {
	for _, name := range names {
		if name == current || p.Keep(name, appPrefix, current) {
			keep = append(keep, name)
			continue
		}
		drop = append(drop, name)
	}
	return keep, drop
}
