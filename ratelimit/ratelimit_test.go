package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/partscout/partscout/config"
	"github.com/partscout/partscout/models"
)

func testConfig(requests int, window time.Duration) *config.Config {
	cfg := config.DefaultConfig()
	pc := cfg.Platforms[models.PlatformSpeedMart]
	pc.RequestsPerWindow = requests
	pc.Window = window
	return cfg
}

func TestAcquireWithinBudgetIsImmediate(t *testing.T) {
	registry := NewRegistry(testConfig(5, time.Minute))

	for i := 0; i < 5; i++ {
		delay, cancel, err := registry.Acquire(models.PlatformSpeedMart)
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		if delay > 0 {
			cancel()
			t.Fatalf("acquire %d within budget delayed by %s", i, delay)
		}
	}
}

func TestAcquireBeyondBudgetDelays(t *testing.T) {
	registry := NewRegistry(testConfig(3, time.Minute))

	for i := 0; i < 3; i++ {
		if _, _, err := registry.Acquire(models.PlatformSpeedMart); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	delay, cancel, err := registry.Acquire(models.PlatformSpeedMart)
	if err != nil {
		t.Fatalf("acquire over budget: %v", err)
	}
	defer cancel()
	if delay <= 0 {
		t.Fatalf("acquire past the window budget must wait, got delay %s", delay)
	}
}

func TestAcquireCancelReturnsSlot(t *testing.T) {
	registry := NewRegistry(testConfig(1, time.Minute))

	_, cancel, err := registry.Acquire(models.PlatformSpeedMart)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	cancel()

	delay, cancel, err := registry.Acquire(models.PlatformSpeedMart)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	defer cancel()
	if delay > 0 {
		t.Fatalf("cancelled reservation should free the slot, got delay %s", delay)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	registry := NewRegistry(testConfig(1, time.Hour))
	if err := registry.Wait(context.Background(), models.PlatformSpeedMart); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := registry.Wait(ctx, models.PlatformSpeedMart); err == nil {
		t.Fatalf("wait past an exhausted hour-long budget should fail with ctx deadline")
	}
}

func TestUnknownPlatform(t *testing.T) {
	registry := NewRegistry(testConfig(1, time.Minute))
	if _, _, err := registry.Acquire(models.Platform("nope")); err == nil {
		t.Fatalf("unknown platform must be rejected")
	}
	if err := registry.Wait(context.Background(), models.Platform("nope")); err == nil {
		t.Fatalf("unknown platform must be rejected")
	}
}

func TestUpdateReplacesBudget(t *testing.T) {
	cfg := testConfig(1, time.Hour)
	registry := NewRegistry(cfg)

	if _, _, err := registry.Acquire(models.PlatformSpeedMart); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	pc := cfg.Platforms[models.PlatformSpeedMart]
	pc.RequestsPerWindow = 100
	pc.Window = time.Second
	registry.Update(models.PlatformSpeedMart, pc)

	delay, cancel, err := registry.Acquire(models.PlatformSpeedMart)
	if err != nil {
		t.Fatalf("acquire after update: %v", err)
	}
	defer cancel()
	if delay > 0 {
		t.Fatalf("refreshed budget should grant immediately, got delay %s", delay)
	}
}
