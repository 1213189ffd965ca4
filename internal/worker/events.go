package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// EventType 标识宿主派发的生命周期或运行期事件。
type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventFetch    EventType = "fetch"
)

// ErrAlreadyResponded 表示同一个 fetch 事件被重复 RespondWith。
var ErrAlreadyResponded = errors.New("fetch event already responded")

// ExtendableEvent 允许处理函数通过 WaitUntil 延长事件生命周期，宿主在 Settle 返回前不会推进状态。
type ExtendableEvent struct {
	typ     EventType
	mu      sync.Mutex
	pending []func(context.Context) error
}

// NewExtendableEvent 构造指定类型的事件。
func NewExtendableEvent(typ EventType) *ExtendableEvent {
	return &ExtendableEvent{typ: typ}
}

func (e *ExtendableEvent) Type() EventType {
	return e.typ
}

// WaitUntil 登记一个异步操作；nil 会被忽略。
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.pending = append(e.pending, fn)
	e.mu.Unlock()
}

// Settle 并发执行所有已登记的操作并等待它们全部结束，返回第一个错误。
func (e *ExtendableEvent) Settle(ctx context.Context) error {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range pending {
		g.Go(func() error {
			return fn(gctx)
		})
	}
	return g.Wait()
}

// FetchEvent 携带被拦截的请求；处理函数可通过 RespondWith 替换响应。
type FetchEvent struct {
	*ExtendableEvent
	Request *http.Request

	mu      sync.Mutex
	respond func(context.Context) (*http.Response, error)
}

// NewFetchEvent 为请求构造 fetch 事件。
func NewFetchEvent(req *http.Request) *FetchEvent {
	return &FetchEvent{
		ExtendableEvent: NewExtendableEvent(EventFetch),
		Request:         req,
	}
}

// RespondWith 登记响应来源，每个事件只能调用一次。
func (e *FetchEvent) RespondWith(fn func(ctx context.Context) (*http.Response, error)) error {
	if fn == nil {
		return errors.New("respond function required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.respond != nil {
		return ErrAlreadyResponded
	}
	e.respond = fn
	return nil
}

// Responded 报告是否有处理函数接管了该请求。
func (e *FetchEvent) Responded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.respond != nil
}

// Response 解析登记的响应；未接管时返回 (nil, nil)，由宿主自行直连网络。
func (e *FetchEvent) Response(ctx context.Context) (*http.Response, error) {
	e.mu.Lock()
	fn := e.respond
	e.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

// Handlers 是控制器向宿主注册的三个事件处理函数，字段为 nil 表示不关心该事件。
type Handlers struct {
	Install  func(*ExtendableEvent)
	Activate func(*ExtendableEvent)
	Fetch    func(*FetchEvent)
}
