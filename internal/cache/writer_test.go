package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestAddAllStoresEveryEntry(t *testing.T) {
	eachBackend(t, func(t *testing.T, dir string, open storageFactory) {
		ctx := context.Background()
		storage := open(t, dir)
		defer storage.Close()

		c, _ := storage.Open(ctx, "FoodFest-version_01")
		reqs := []*http.Request{
			getRequest("https://foodfest.example.com/index.html"),
			getRequest("https://foodfest.example.com/dist/app.bundle.js"),
		}
		var calls int32
		fetch := func(_ context.Context, req *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return stubResponse(http.StatusOK, "body of "+req.URL.Path), nil
		}

		if err := AddAll(ctx, c, fetch, reqs); err != nil {
			t.Fatalf("AddAll error: %v", err)
		}
		if calls != 2 {
			t.Fatalf("expected 2 fetches, got %d", calls)
		}
		keys, _ := c.Keys(ctx)
		if len(keys) != 2 {
			t.Fatalf("expected 2 cached entries, got %v", keys)
		}
		resp, err := c.Match(ctx, reqs[1])
		if err != nil || string(resp.Body) != "body of /dist/app.bundle.js" {
			t.Fatalf("unexpected cached bundle: %v %v", resp, err)
		}
	})
}

func TestAddAllIsAllOrNothing(t *testing.T) {
	eachBackend(t, func(t *testing.T, dir string, open storageFactory) {
		ctx := context.Background()
		storage := open(t, dir)
		defer storage.Close()

		c, _ := storage.Open(ctx, "FoodFest-version_01")
		reqs := []*http.Request{
			getRequest("https://foodfest.example.com/index.html"),
			getRequest("https://foodfest.example.com/dist/missing.bundle.js"),
		}
		fetch := func(_ context.Context, req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Path, "missing") {
				return stubResponse(http.StatusNotFound, "not found"), nil
			}
			return stubResponse(http.StatusOK, "ok"), nil
		}

		err := AddAll(ctx, c, fetch, reqs)
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("expected FetchError, got %v", err)
		}
		if fetchErr.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 in error, got %d", fetchErr.StatusCode)
		}
		keys, _ := c.Keys(ctx)
		if len(keys) != 0 {
			t.Fatalf("failed AddAll must not store anything, got %v", keys)
		}
	})
}

func TestAddAllPropagatesTransportError(t *testing.T) {
	storage := backends[BackendFS](t, t.TempDir())
	ctx := context.Background()
	c, _ := storage.Open(ctx, "FoodFest-version_01")

	offline := errors.New("network unreachable")
	fetch := func(context.Context, *http.Request) (*http.Response, error) {
		return nil, offline
	}
	err := AddAll(ctx, c, fetch, []*http.Request{getRequest("https://foodfest.example.com/index.html")})
	if !errors.Is(err, offline) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestBatchWriterRejectsMissingSlot(t *testing.T) {
	storage := backends[BackendFS](t, t.TempDir())
	c, _ := storage.Open(context.Background(), "FoodFest-version_01")
	writer := NewBatchWriter(c, 2)
	writer.Stage(0, "https://foodfest.example.com/index.html", textResponse("x"))
	if err := writer.Commit(context.Background()); err == nil {
		t.Fatalf("commit with empty slot should fail")
	}
}

func stubResponse(status int, body string) *http.Response {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/plain")
	rec.WriteHeader(status)
	_, _ = io.WriteString(rec, body)
	return rec.Result()
}
