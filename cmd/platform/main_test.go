package main

import (
	"os"
	"testing"

	"github.com/hrkg/platform/engine/llm"
)

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_PLATFORM_ENV_XYZ", "custom")
	if v := envOr("TEST_PLATFORM_ENV_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("TEST_PLATFORM_ENV_NONEXISTENT", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	os.Clearenv()
	oldArgs := os.Args
	t.Cleanup(func() { os.Args = oldArgs })
	os.Args = []string{"platform"}

	cfg := parseFlags()
	if cfg.Mode != "worker" {
		t.Fatalf("expected default mode worker, got %s", cfg.Mode)
	}
	if cfg.StoragePath != "/tmp/hrkg-data" {
		t.Fatalf("expected default storage path, got %s", cfg.StoragePath)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.LlamaPath != "llama-server" {
		t.Fatalf("expected default llama path, got %s", cfg.LlamaPath)
	}
	if cfg.LLMType != "local" {
		t.Fatalf("expected default llm type local, got %s", cfg.LLMType)
	}
}

func TestBuildLLMClientDispatchesOnType(t *testing.T) {
	remote := buildLLMClient(Config{LLMType: "openai", OpenAIAPIBase: "http://x", OpenAIAPIKey: "k", LLMModel: "m"})
	if _, ok := remote.(*llm.RemoteClient); !ok {
		t.Fatalf("expected *llm.RemoteClient for openai type, got %T", remote)
	}

	local := buildLLMClient(Config{LLMType: "local", LlamaPath: "llama-server", Model: "m"})
	if _, ok := local.(*llm.LocalClient); !ok {
		t.Fatalf("expected *llm.LocalClient for local type, got %T", local)
	}
}
