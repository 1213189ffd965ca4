package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/foodfest/offline-cache/internal/cache"
	"github.com/foodfest/offline-cache/internal/logging"
	"github.com/foodfest/offline-cache/internal/network"
	"github.com/foodfest/offline-cache/internal/server"
)

// HeaderCacheStatus 告知页面本次响应来自缓存（hit）还是网络（miss）。
const HeaderCacheStatus = "X-Offline-Cache"

// Dispatcher 把拦截到的请求交给宿主，*host.Host 满足该接口。
type Dispatcher interface {
	DispatchFetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Handler 把页面请求转换成 *http.Request 交给宿主派发，再把结果原样写回页面。
// 网络失败不做替换，只映射为 502。
type Handler struct {
	dispatcher Dispatcher
	origin     *url.URL
	logger     *logrus.Logger
}

// NewHandler constructs a proxy handler bound to the site origin.
func NewHandler(dispatcher Dispatcher, origin *url.URL, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		dispatcher: dispatcher,
		origin:     origin,
		logger:     logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req, record, err := h.buildRequest(c)
	if err != nil {
		h.logResult(c.Method(), requestPath(c), requestID, 0, "", started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	target := req.URL.String()

	resp, err := h.dispatch(req)
	if err != nil {
		h.logResult(req.Method, target, requestID, 0, "", started, err)
		setRequestIDHeader(c, requestID)
		return h.writeError(c, fiber.StatusBadGateway, "network_failed")
	}
	defer resp.Body.Close()

	cacheName, cacheHit := record.Hit()

	copyResponseHeaders(c, resp.Header)
	if cacheHit {
		c.Set(HeaderCacheStatus, "hit")
	} else {
		c.Set(HeaderCacheStatus, "miss")
	}
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(req.Method, target, requestID, resp.StatusCode, cacheName, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req.Method, target, requestID, resp.StatusCode, cacheName, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// dispatch 调用宿主，控制器处理函数 panic 时转换为错误。
func (h *Handler) dispatch(req *http.Request) (resp *http.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	if h.dispatcher == nil {
		return nil, errors.New("no dispatcher configured")
	}
	resp, err = h.dispatcher.DispatchFetch(req.Context(), req)
	if err == nil && resp == nil {
		err = errors.New("dispatcher returned no response")
	}
	return resp, err
}

// buildRequest 把页面路径映射到站点源地址，保留方法、头部与请求体。
// 返回的 MatchRecord 挂在请求 context 上，控制器命中缓存时写入。
func (h *Handler) buildRequest(c fiber.Ctx) (*http.Request, *cache.MatchRecord, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, record := cache.WithMatchRecord(ctx)
	uri := c.Request().URI()
	target := network.RequestURL(h.origin, requestPath(c), string(uri.QueryString()))

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bytesReader(c.Body()))
	if err != nil {
		return nil, nil, err
	}
	network.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	return req, record, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	method string,
	target string,
	requestID string,
	status int,
	cacheName string,
	started time.Time,
	err error,
) {
	fields := logging.FetchFields(method, target, cacheName, cacheName != "")
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if network.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == cache.HeaderCacheName {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
