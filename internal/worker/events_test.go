package worker

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
)

func TestExtendableEventSettleWaitsForAll(t *testing.T) {
	event := NewExtendableEvent(EventActivate)
	var done atomic.Int32
	for range 3 {
		event.WaitUntil(func(context.Context) error {
			done.Add(1)
			return nil
		})
	}
	event.WaitUntil(nil)

	if err := event.Settle(context.Background()); err != nil {
		t.Fatalf("settle error: %v", err)
	}
	if done.Load() != 3 {
		t.Fatalf("expected 3 settled operations, got %d", done.Load())
	}
	if err := event.Settle(context.Background()); err != nil {
		t.Fatalf("再次 settle 应为空操作: %v", err)
	}
}

func TestExtendableEventSettleReportsFailure(t *testing.T) {
	event := NewExtendableEvent(EventInstall)
	boom := errors.New("boom")
	event.WaitUntil(func(context.Context) error { return boom })
	event.WaitUntil(func(context.Context) error { return nil })

	if err := event.Settle(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if event.Type() != EventInstall {
		t.Fatalf("unexpected type %s", event.Type())
	}
}

func TestFetchEventRespondOnce(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://foodfest.example.com/", nil)
	event := NewFetchEvent(req)

	resp, err := event.Response(context.Background())
	if resp != nil || err != nil {
		t.Fatalf("未接管时应返回 nil, nil")
	}

	first := func(context.Context) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot}, nil
	}
	if err := event.RespondWith(first); err != nil {
		t.Fatalf("respond error: %v", err)
	}
	if err := event.RespondWith(first); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("expected ErrAlreadyResponded, got %v", err)
	}
	resp, err = event.Response(context.Background())
	if err != nil || resp.StatusCode != http.StatusTeapot {
		t.Fatalf("unexpected response %v %v", resp, err)
	}
}
