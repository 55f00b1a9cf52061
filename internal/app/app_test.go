package app

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"tutor-llm/internal/config"
	"tutor-llm/internal/engine"
)

func TestBuild_SQLiteStore(t *testing.T) {
	gb := 2.0
	cfg := &config.Config{
		StoreDriver:    "sqlite",
		SQLitePath:     filepath.Join(t.TempDir(), "tutor.db"),
		DeviceMemoryGB: &gb,
		ContextWindow:  10,
	}
	a, err := Build(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	if a.Degraded {
		t.Fatalf("sqlite store should open")
	}
	if a.Engine.Model() != engine.ModelLow {
		t.Fatalf("expected low tier for 2GB, got %s", a.Engine.Model())
	}
	if err := a.Conversation.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(a.Conversation.Sessions()) != 1 {
		t.Fatalf("expected a seeded session")
	}
}

func TestBuild_DegradesToMemory(t *testing.T) {
	cfg := &config.Config{StoreDriver: "postgres"}
	a, err := Build(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	if !a.Degraded {
		t.Fatalf("expected degraded mode without DATABASE_URL")
	}
	if a.Engine.State() != engine.StateUninitialized {
		t.Fatalf("engine must not initialize during build")
	}
}
