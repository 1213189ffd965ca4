package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HeaderCacheName 是保留的内部头，命中信息不经由响应头传递，代理会在写回页面前剔除它。
const HeaderCacheName = "X-Offline-Cache-Name"

// Response 是持久化的响应快照：状态、头部与完整正文。
type Response struct {
	Key        string      `json:"key"`
	StatusCode int         `json:"status_code"`
	Status     string      `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body,omitempty"`
	StoredAt   time.Time   `json:"stored_at"`
	CacheName  string      `json:"-"`
}

// RequestKey 返回请求对应的缓存键：去掉片段的绝对 URL。仅 GET 可作为缓存键。
func RequestKey(req *http.Request) (string, error) {
	if req == nil || req.URL == nil {
		return "", ErrUnsupportedRequest
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return "", ErrUnsupportedRequest
	}
	return URLKey(req.URL), nil
}

// URLKey 规范化 URL 作为缓存键。
func URLKey(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	clone.RawFragment = ""
	return clone.String()
}

// NewResponse 读取完整正文并生成可持久化的快照，调用方负责关闭 resp.Body。
func NewResponse(key string, resp *http.Response) (*Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response for %s", key)
	}
	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body %s: %w", key, err)
		}
		body = data
	}
	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		Key:        key,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     header,
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// HTTP 生成一个新的 *http.Response，每次调用都拥有独立的 Body。
func (r *Response) HTTP(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode))
	}
	return &http.Response{
		Status:        status,
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}
