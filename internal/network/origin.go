package network

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/foodfest/offline-cache/internal/version"
)

// ResolvePath 把站点内相对路径（如 ./index.html）解析为 origin 下的绝对 URL。
// origin 若带路径前缀，则视为站点根目录。
func ResolvePath(origin *url.URL, raw string) (*url.URL, error) {
	if origin == nil {
		return nil, fmt.Errorf("origin required")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse path %s: %w", raw, err)
	}
	return siteRoot(origin).ResolveReference(ref), nil
}

// ManifestRequests 为预缓存清单构造 GET 请求，保持清单顺序。
func ManifestRequests(ctx context.Context, origin *url.URL, manifest []string) ([]*http.Request, error) {
	reqs := make([]*http.Request, 0, len(manifest))
	for _, entry := range manifest {
		target, err := ResolvePath(origin, entry)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", version.UserAgent())
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// RequestURL 把页面请求的 path + query 映射到 origin 上。
func RequestURL(origin *url.URL, rawPath string, rawQuery string) *url.URL {
	if rawPath == "" {
		rawPath = "/"
	}
	clean := path.Clean("/" + rawPath)
	if strings.HasSuffix(rawPath, "/") && clean != "/" {
		clean += "/"
	}
	relative := &url.URL{Path: strings.TrimPrefix(clean, "/")}
	if rawQuery != "" {
		relative.RawQuery = rawQuery
	}
	return siteRoot(origin).ResolveReference(relative)
}

func siteRoot(origin *url.URL) *url.URL {
	root := *origin
	if !strings.HasSuffix(root.Path, "/") {
		root.Path += "/"
	}
	root.RawPath = ""
	root.RawQuery = ""
	root.Fragment = ""
	return &root
}
