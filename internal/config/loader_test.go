package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[Worker]
Origin = "https://foodfest.example.com"
Version = "version_01"
Manifest = ["./index.html"]
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 45

[Worker]
Origin = "http://localhost:9000"
Version = "version_01"
Manifest = ["./index.html"]
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.UpstreamTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("纯秒数应解析为 45s，得到 %s", loaded.Global.UpstreamTimeout.DurationValue())
	}
	if loaded.Worker.AppPrefix != "FoodFest-" {
		t.Fatalf("AppPrefix 默认值缺失: %q", loaded.Worker.AppPrefix)
	}
}

func TestLoadRejectsExplicitCacheName(t *testing.T) {
	cfg := `
StoragePath = "./data"

[Worker]
Origin = "https://foodfest.example.com"
Version = "version_01"
CacheName = "FoodFest-version_01"
Manifest = ["./index.html"]
`
	_, err := Load(writeTempConfig(t, cfg))
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Worker.CacheName" {
		t.Fatalf("显式 CacheName 应被拒绝，得到 %v", err)
	}
}
