package settings

import (
	"testing"
	"time"
)

func TestClamp_Ranges(t *testing.T) {
	s := Clamp(Settings{
		BatchSize:      10000,
		Throttle:       -5 * time.Second,
		RateLimitPerIP: -1,
		CleanupDays:    900,
	})

	if s.BatchSize != 500 {
		t.Errorf("expected batch size 500, got %d", s.BatchSize)
	}
	if s.Throttle != 0 {
		t.Errorf("expected throttle 0, got %v", s.Throttle)
	}
	if s.RateLimitPerIP != 0 {
		t.Errorf("expected rate limit 0, got %d", s.RateLimitPerIP)
	}
	if s.CleanupDays != 365 {
		t.Errorf("expected cleanup days 365, got %d", s.CleanupDays)
	}
	if len(s.TriggerStatuses) == 0 {
		t.Error("expected default trigger statuses to be filled in")
	}
	if s.ExecBudget != 60*time.Second {
		t.Errorf("expected default exec budget, got %v", s.ExecBudget)
	}
}

func TestIsTrigger(t *testing.T) {
	s := Defaults()

	if !s.IsTrigger("instock") {
		t.Error("instock should trigger by default")
	}
	if !s.IsTrigger("onbackorder") {
		t.Error("onbackorder should trigger by default")
	}
	if s.IsTrigger("outofstock") {
		t.Error("outofstock should not trigger")
	}
}

func TestDynamic_SwapsSnapshot(t *testing.T) {
	d := NewDynamic(Defaults())
	provider := d.Provider()

	if !provider().Enabled {
		t.Fatal("expected enabled by default")
	}

	next := Defaults()
	next.Enabled = false
	next.BatchSize = 5
	d.Store(next)

	got := provider()
	if got.Enabled {
		t.Error("expected disabled after swap")
	}
	if got.BatchSize != 5 {
		t.Errorf("expected batch size 5, got %d", got.BatchSize)
	}
}
