package browser

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewChromedpAppliesViewportDefaults(t *testing.T) {
	t.Parallel()

	b := NewChromedp(Config{}, nil)
	if b.cfg.ViewportWidth != defaultViewportWidth || b.cfg.ViewportHeight != defaultViewportHeight {
		t.Fatalf("expected default viewport, got %dx%d", b.cfg.ViewportWidth, b.cfg.ViewportHeight)
	}
	if b.logger == nil {
		t.Fatal("expected nop logger fallback")
	}
}

func TestNewChromedpKeepsOverrides(t *testing.T) {
	t.Parallel()

	b := NewChromedp(Config{
		UserAgent:      "keepalive-bot/1.0",
		ViewportWidth:  1024,
		ViewportHeight: 768,
	}, zap.NewNop())
	if b.cfg.ViewportWidth != 1024 || b.cfg.ViewportHeight != 768 {
		t.Fatalf("expected viewport override, got %dx%d", b.cfg.ViewportWidth, b.cfg.ViewportHeight)
	}
	if b.cfg.UserAgent != "keepalive-bot/1.0" {
		t.Fatalf("expected user agent override, got %q", b.cfg.UserAgent)
	}
}
