package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/headless-lms/internal/platform/logger"
)

func TestUnreachableRedisDegradesToMiss(t *testing.T) {
	c, err := New(logger.Nop(), Config{Addr: "127.0.0.1:1", Prefix: "test:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.SetJSON(ctx, "service_info:quiz", map[string]string{"a": "b"}, time.Minute)
	var dst map[string]string
	if c.GetJSON(ctx, "service_info:quiz", &dst) {
		t.Fatalf("expected miss against unreachable redis")
	}

	calls := 0
	got, err := GetOrLoad(ctx, c, "service_info:quiz", time.Minute, func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	if err != nil || got != 7 || calls != 1 {
		t.Fatalf("GetOrLoad: got=%d calls=%d err=%v", got, calls, err)
	}
}

func TestGetOrLoadPropagatesLoadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := GetOrLoad(context.Background(), Nop{}, "k", time.Minute, func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestCacheName(t *testing.T) {
	if got := cacheName("service_info:quiz"); got != "service_info" {
		t.Fatalf("got %q", got)
	}
	if got := cacheName("plain"); got != "plain" {
		t.Fatalf("got %q", got)
	}
}
