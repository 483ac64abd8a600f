// Package settings supplies the engine's tunable parameters with defaults
// applied for any key not present in the settings store.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Setting keys as stored in the settings table.
const (
	KeyMinDelaySeconds       = "min_delay_seconds"
	KeyMaxDelaySeconds       = "max_delay_seconds"
	KeyMinSeenDelaySeconds   = "min_seen_delay_seconds"
	KeyMaxSeenDelaySeconds   = "max_seen_delay_seconds"
	KeyMinTypingDelaySeconds = "min_typing_delay_seconds"
	KeyMaxTypingDelaySeconds = "max_typing_delay_seconds"
	KeyHourlyLimit           = "hourly_limit"
	KeyDailyLimit            = "daily_limit"
	KeyWarmupTiers           = "warmup_tiers"
	KeyFailureWindow         = "failure_window"
	KeyPollIntervalSeconds   = "poll_interval_seconds"
	KeyMarkerEnabled         = "marker_enabled"
)

// Defaults applied when a key is unset.
const (
	DefaultMinDelay       = 30 * time.Second
	DefaultMaxDelay       = 90 * time.Second
	DefaultMinSeenDelay   = 1 * time.Second
	DefaultMaxSeenDelay   = 3 * time.Second
	DefaultMinTypingDelay = 2 * time.Second
	DefaultMaxTypingDelay = 6 * time.Second
	DefaultHourlyLimit    = 30
	DefaultDailyLimit     = 300
	DefaultFailureWindow  = 3
	DefaultPollInterval   = 15 * time.Second
	DefaultMarkerEnabled  = true
)

// DefaultWarmupTiers is the allowed daily volume per day of campaign life;
// days beyond the table use the last tier.
var DefaultWarmupTiers = []int{20, 50, 100, 150, 200}

// Store is the subset of the settings repository the provider needs.
type Store interface {
	Get(key string) (string, bool, error)
}

// Values is a consistent snapshot of all engine settings for one step.
type Values struct {
	MinDelay       time.Duration
	MaxDelay       time.Duration
	MinSeenDelay   time.Duration
	MaxSeenDelay   time.Duration
	MinTypingDelay time.Duration
	MaxTypingDelay time.Duration
	HourlyLimit    int
	DailyLimit     int
	WarmupTiers    []int
	FailureWindow  int
	PollInterval   time.Duration
	MarkerEnabled  bool
}

// Provider reads settings from a store and applies defaults.
type Provider struct {
	store Store
}

func NewProvider(store Store) *Provider {
	return &Provider{store: store}
}

// Load reads all settings, applying defaults for unset keys. A stored but
// unparseable value is a configuration error; the caller skips the step
// rather than acting on a half-read snapshot.
func (p *Provider) Load() (*Values, error) {
	v := &Values{}
	var err error

	if v.MinDelay, err = p.duration(KeyMinDelaySeconds, DefaultMinDelay); err != nil {
		return nil, err
	}
	if v.MaxDelay, err = p.duration(KeyMaxDelaySeconds, DefaultMaxDelay); err != nil {
		return nil, err
	}
	if v.MinSeenDelay, err = p.duration(KeyMinSeenDelaySeconds, DefaultMinSeenDelay); err != nil {
		return nil, err
	}
	if v.MaxSeenDelay, err = p.duration(KeyMaxSeenDelaySeconds, DefaultMaxSeenDelay); err != nil {
		return nil, err
	}
	if v.MinTypingDelay, err = p.duration(KeyMinTypingDelaySeconds, DefaultMinTypingDelay); err != nil {
		return nil, err
	}
	if v.MaxTypingDelay, err = p.duration(KeyMaxTypingDelaySeconds, DefaultMaxTypingDelay); err != nil {
		return nil, err
	}
	if v.HourlyLimit, err = p.integer(KeyHourlyLimit, DefaultHourlyLimit); err != nil {
		return nil, err
	}
	if v.DailyLimit, err = p.integer(KeyDailyLimit, DefaultDailyLimit); err != nil {
		return nil, err
	}
	if v.WarmupTiers, err = p.tiers(KeyWarmupTiers, DefaultWarmupTiers); err != nil {
		return nil, err
	}
	if v.FailureWindow, err = p.integer(KeyFailureWindow, DefaultFailureWindow); err != nil {
		return nil, err
	}
	if v.PollInterval, err = p.duration(KeyPollIntervalSeconds, DefaultPollInterval); err != nil {
		return nil, err
	}
	if v.MarkerEnabled, err = p.boolean(KeyMarkerEnabled, DefaultMarkerEnabled); err != nil {
		return nil, err
	}

	if v.MinDelay > v.MaxDelay {
		return nil, fmt.Errorf("settings: %s exceeds %s", KeyMinDelaySeconds, KeyMaxDelaySeconds)
	}
	if v.FailureWindow < 1 {
		return nil, fmt.Errorf("settings: %s must be at least 1", KeyFailureWindow)
	}
	return v, nil
}

func (p *Provider) integer(key string, def int) (int, error) {
	raw, ok, err := p.store.Get(key)
	if err != nil {
		return 0, fmt.Errorf("settings: read %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("settings: invalid %s: %q", key, raw)
	}
	return n, nil
}

func (p *Provider) duration(key string, def time.Duration) (time.Duration, error) {
	seconds, err := p.integer(key, int(def/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}

func (p *Provider) boolean(key string, def bool) (bool, error) {
	raw, ok, err := p.store.Get(key)
	if err != nil {
		return false, fmt.Errorf("settings: read %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("settings: invalid %s: %q", key, raw)
	}
	return b, nil
}

// tiers parses a comma-separated tier table, e.g. "20,50,100,150,200".
func (p *Provider) tiers(key string, def []int) ([]int, error) {
	raw, ok, err := p.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	parts := strings.Split(raw, ",")
	tiers := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("settings: invalid %s: %q", key, raw)
		}
		tiers = append(tiers, n)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("settings: empty %s", key)
	}
	return tiers, nil
}
