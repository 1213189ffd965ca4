package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/foodfest/offline-cache/internal/logging"
	"github.com/foodfest/offline-cache/internal/network"
	"github.com/foodfest/offline-cache/internal/worker"
)

// RegistrationFileName 是激活记录在存储目录下的文件名。
const RegistrationFileName = "registration.json"

var (
	// ErrInstallFailed 表示新版本安装失败，已被标记为 redundant。
	ErrInstallFailed = errors.New("worker install failed")
	// ErrActivateFailed 表示激活期间清理失败；版本仍然生效。
	ErrActivateFailed = errors.New("worker activate failed")
)

// Script 是宿主可注册的控制器版本。
type Script interface {
	Version() string
	CacheName() string
	Handlers() worker.Handlers
}

// Options 描述宿主依赖。
type Options struct {
	// StateDir 保存 registration.json 的目录。
	StateDir string
	Network  network.Fetcher
	Logger   *logrus.Logger
}

// Host 管理控制器版本的生命周期并派发 fetch 事件。
type Host struct {
	network network.Fetcher
	logger  *logrus.Logger
	record  registrationFile
	states  *versionTable

	regMu sync.Mutex

	mu           sync.RWMutex
	active       Script
	handlers     worker.Handlers
	registration Registration

	background sync.WaitGroup
}

// New 构造宿主；StateDir 为空时不持久化激活记录。
func New(opts Options) (*Host, error) {
	if opts.Network == nil {
		return nil, errors.New("network fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Host{
		network: opts.Network,
		logger:  logger,
		states:  newVersionTable(),
	}
	if opts.StateDir != "" {
		h.record = registrationFile{path: filepath.Join(opts.StateDir, RegistrationFileName)}
	}
	return h, nil
}

// Register 按 install → activate 驱动一个版本。
//   - 记录显示该版本已激活（进程重启）时直接恢复，不再重新安装；
//   - install 失败时版本标记为 redundant，此前激活的版本继续生效；重启后进程内尚无
//     激活版本时，按记录恢复上一次激活的版本；
//   - activate 失败只记录并返回错误，版本仍然接管请求。
func (h *Host) Register(ctx context.Context, script Script) error {
	if script == nil {
		return errors.New("script is required")
	}
	h.regMu.Lock()
	defer h.regMu.Unlock()

	version, cacheName := script.Version(), script.CacheName()
	fields := logging.EventFields("register", version, cacheName)

	if current := h.activeVersion(); current == version {
		h.logger.WithFields(fields).Debug("worker_already_active")
		return nil
	}

	var recorded *Registration
	if h.record.path != "" {
		reg, err := h.record.load()
		if err != nil {
			h.logger.WithFields(fields).WithError(err).Warn("registration_load_failed")
		}
		if reg != nil && reg.State == StateActivated {
			recorded = reg
		}
		if recorded != nil && reg.Version == version {
			h.setActive(script, *reg)
			h.states.record(version, cacheName, StateActivated, nil)
			h.logger.WithFields(fields).WithField("registration_id", reg.ID).Info("worker_resumed")
			return nil
		}
	}

	h.states.record(version, cacheName, StateParsed, nil)
	handlers := script.Handlers()

	h.states.record(version, cacheName, StateInstalling, nil)
	install := worker.NewExtendableEvent(worker.EventInstall)
	if handlers.Install != nil {
		handlers.Install(install)
	}
	if err := install.Settle(ctx); err != nil {
		h.states.record(version, cacheName, StateRedundant, err)
		if h.activeVersion() == "" && recorded != nil {
			h.restore(*recorded, handlers)
		}
		h.logger.WithFields(fields).WithError(err).WithField("previous", h.activeVersion()).Error("worker_install_failed")
		return fmt.Errorf("%w: %s: %v", ErrInstallFailed, version, err)
	}
	h.states.record(version, cacheName, StateInstalled, nil)

	h.states.record(version, cacheName, StateActivating, nil)
	activate := worker.NewExtendableEvent(worker.EventActivate)
	if handlers.Activate != nil {
		handlers.Activate(activate)
	}
	activateErr := activate.Settle(ctx)
	if activateErr != nil {
		h.logger.WithFields(fields).WithError(activateErr).Warn("worker_activate_failed")
	}

	reg := Registration{
		ID:          uuid.NewString(),
		Version:     version,
		CacheName:   cacheName,
		State:       StateActivated,
		ActivatedAt: time.Now().UTC(),
	}
	previous := h.setActive(script, reg)
	if previous != nil && previous.Version() != version {
		h.states.record(previous.Version(), previous.CacheName(), StateRedundant, nil)
	}
	h.states.record(version, cacheName, StateActivated, activateErr)

	if h.record.path != "" {
		if err := h.record.save(reg); err != nil {
			h.logger.WithFields(fields).WithError(err).Warn("registration_save_failed")
		}
	}
	h.logger.WithFields(fields).WithField("registration_id", reg.ID).Info("worker_activated")

	if activateErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrActivateFailed, version, activateErr)
	}
	return nil
}

// DispatchFetch 把请求交给激活中的控制器；没有激活版本或控制器未接管时直接走网络。
// 事件通过 WaitUntil 登记的后台操作在响应返回后继续执行，不受请求取消影响。
func (h *Host) DispatchFetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	h.mu.RLock()
	handlers := h.handlers
	controlled := h.active != nil
	h.mu.RUnlock()

	if !controlled || handlers.Fetch == nil {
		return h.network.Fetch(ctx, req)
	}

	event := worker.NewFetchEvent(req)
	handlers.Fetch(event)

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		if err := event.Settle(context.WithoutCancel(ctx)); err != nil {
			h.logger.WithError(err).WithField("url", req.URL.String()).Warn("fetch_wait_until_failed")
		}
	}()

	if !event.Responded() {
		return h.network.Fetch(ctx, req)
	}
	return event.Response(ctx)
}

// Close 等待所有后台操作结束。
func (h *Host) Close() {
	h.background.Wait()
}

// Status 是宿主状态快照。
type Status struct {
	Controlled     bool           `json:"controlled"`
	ActiveVersion  string         `json:"active_version,omitempty"`
	CacheName      string         `json:"cache_name,omitempty"`
	RegistrationID string         `json:"registration_id,omitempty"`
	ActivatedAt    time.Time      `json:"activated_at,omitzero"`
	Versions       []VersionState `json:"versions"`
}

// Status 返回当前激活版本与全部已知版本的状态。
func (h *Host) Status() Status {
	h.mu.RLock()
	status := Status{Controlled: h.active != nil}
	if h.active != nil {
		status.ActiveVersion = h.active.Version()
		status.CacheName = h.active.CacheName()
		status.RegistrationID = h.registration.ID
		status.ActivatedAt = h.registration.ActivatedAt
	}
	h.mu.RUnlock()
	status.Versions = h.states.snapshot()
	return status
}

// VersionState 返回指定版本的状态。
func (h *Host) VersionState(version string) (VersionState, bool) {
	return h.states.get(version)
}

// restore 让记录中的上一个版本重新接管请求。fetch 处理与版本无关，
// 缓存查找覆盖全部缓存代，因此沿用新脚本的 fetch 处理函数。
func (h *Host) restore(reg Registration, handlers worker.Handlers) {
	h.setActive(recordedScript{
		version:   reg.Version,
		cacheName: reg.CacheName,
		handlers:  worker.Handlers{Fetch: handlers.Fetch},
	}, reg)
	h.states.record(reg.Version, reg.CacheName, StateActivated, nil)
	h.logger.WithFields(logging.EventFields("register", reg.Version, reg.CacheName)).
		WithField("registration_id", reg.ID).Info("worker_restored")
}

// recordedScript 是从 registration.json 恢复的版本，只负责 fetch。
type recordedScript struct {
	version   string
	cacheName string
	handlers  worker.Handlers
}

func (s recordedScript) Version() string           { return s.version }
func (s recordedScript) CacheName() string         { return s.cacheName }
func (s recordedScript) Handlers() worker.Handlers { return s.handlers }

func (h *Host) activeVersion() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.active == nil {
		return ""
	}
	return h.active.Version()
}

func (h *Host) setActive(script Script, reg Registration) Script {
	h.mu.Lock()
	defer h.mu.Unlock()
	previous := h.active
	h.active = script
	h.handlers = script.Handlers()
	h.registration = reg
	return previous
}
