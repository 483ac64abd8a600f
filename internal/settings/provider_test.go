package settings

import (
	"testing"
	"time"
)

type fakeStore map[string]string

func (f fakeStore) Get(key string) (string, bool, error) {
	v, ok := f[key]
	return v, ok, nil
}

func TestLoadDefaults(t *testing.T) {
	p := NewProvider(fakeStore{})

	v, err := p.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if v.MinDelay != DefaultMinDelay || v.MaxDelay != DefaultMaxDelay {
		t.Errorf("delay bounds = %v..%v, want %v..%v", v.MinDelay, v.MaxDelay, DefaultMinDelay, DefaultMaxDelay)
	}
	if v.HourlyLimit != DefaultHourlyLimit {
		t.Errorf("HourlyLimit = %d, want %d", v.HourlyLimit, DefaultHourlyLimit)
	}
	if v.DailyLimit != DefaultDailyLimit {
		t.Errorf("DailyLimit = %d, want %d", v.DailyLimit, DefaultDailyLimit)
	}
	if len(v.WarmupTiers) != len(DefaultWarmupTiers) {
		t.Fatalf("WarmupTiers = %v, want %v", v.WarmupTiers, DefaultWarmupTiers)
	}
	for i, tier := range DefaultWarmupTiers {
		if v.WarmupTiers[i] != tier {
			t.Errorf("WarmupTiers[%d] = %d, want %d", i, v.WarmupTiers[i], tier)
		}
	}
	if v.FailureWindow != DefaultFailureWindow {
		t.Errorf("FailureWindow = %d, want %d", v.FailureWindow, DefaultFailureWindow)
	}
	if v.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", v.PollInterval, DefaultPollInterval)
	}
	if !v.MarkerEnabled {
		t.Error("MarkerEnabled should default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	p := NewProvider(fakeStore{
		KeyMinDelaySeconds:     "5",
		KeyMaxDelaySeconds:     "12",
		KeyHourlyLimit:         "10",
		KeyDailyLimit:          "100",
		KeyWarmupTiers:         "5, 10, 25",
		KeyFailureWindow:       "4",
		KeyPollIntervalSeconds: "60",
		KeyMarkerEnabled:       "false",
	})

	v, err := p.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if v.MinDelay != 5*time.Second || v.MaxDelay != 12*time.Second {
		t.Errorf("delay bounds = %v..%v", v.MinDelay, v.MaxDelay)
	}
	if v.HourlyLimit != 10 || v.DailyLimit != 100 {
		t.Errorf("limits = %d/%d", v.HourlyLimit, v.DailyLimit)
	}
	want := []int{5, 10, 25}
	if len(v.WarmupTiers) != len(want) {
		t.Fatalf("WarmupTiers = %v, want %v", v.WarmupTiers, want)
	}
	for i := range want {
		if v.WarmupTiers[i] != want[i] {
			t.Errorf("WarmupTiers[%d] = %d, want %d", i, v.WarmupTiers[i], want[i])
		}
	}
	if v.FailureWindow != 4 {
		t.Errorf("FailureWindow = %d, want 4", v.FailureWindow)
	}
	if v.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", v.PollInterval)
	}
	if v.MarkerEnabled {
		t.Error("MarkerEnabled should be false")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		store fakeStore
	}{
		{"non-numeric limit", fakeStore{KeyHourlyLimit: "lots"}},
		{"negative limit", fakeStore{KeyDailyLimit: "-5"}},
		{"bad tier table", fakeStore{KeyWarmupTiers: "10,twenty"}},
		{"bad boolean", fakeStore{KeyMarkerEnabled: "yep"}},
		{"min above max", fakeStore{KeyMinDelaySeconds: "60", KeyMaxDelaySeconds: "10"}},
		{"zero failure window", fakeStore{KeyFailureWindow: "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.store).Load(); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}
