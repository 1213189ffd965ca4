package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// State 描述某个控制器版本所处的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// VersionState 记录单个版本的状态与最近一次错误，供诊断端和日志使用。
type VersionState struct {
	Version   string    `json:"version"`
	CacheName string    `json:"cache_name"`
	State     State     `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// versionTable 是进程内的版本状态表，按版本号索引。
type versionTable struct {
	mu     sync.RWMutex
	states map[string]VersionState
}

func newVersionTable() *versionTable {
	return &versionTable{states: make(map[string]VersionState)}
}

func (t *versionTable) record(version, cacheName string, state State, err error) {
	if version == "" {
		return
	}
	entry := VersionState{
		Version:   version,
		CacheName: cacheName,
		State:     state,
		UpdatedAt: time.Now().UTC(),
	}
	if err != nil {
		entry.LastError = err.Error()
	}
	t.mu.Lock()
	t.states[version] = entry
	t.mu.Unlock()
}

func (t *versionTable) get(version string) (VersionState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.states[version]
	return entry, ok
}

// snapshot 返回按版本号排序的状态列表。
func (t *versionTable) snapshot() []VersionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.states) == 0 {
		return nil
	}
	keys := make([]string, 0, len(t.states))
	for k := range t.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]VersionState, 0, len(keys))
	for _, key := range keys {
		result = append(result, t.states[key])
	}
	return result
}

// Registration 是持久化的激活记录：进程重启后据此判断是否可以直接恢复到 activated。
type Registration struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	CacheName   string    `json:"cache_name"`
	State       State     `json:"state"`
	ActivatedAt time.Time `json:"activated_at"`
}

// registrationFile 负责读写 registration.json。
type registrationFile struct {
	path string
}

// load 读取记录；文件不存在时返回 (nil, nil)。
func (f registrationFile) load() (*Registration, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registration: %w", err)
	}
	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registration %s: %w", f.path, err)
	}
	return &reg, nil
}

// save 以临时文件 + rename 的方式原子写入记录。
func (f registrationFile) save(reg Registration) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registration dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registration-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
