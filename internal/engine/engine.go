// Package engine drives the send loop: it promotes due campaigns, enforces
// rate and warm-up limits, resolves messages, paces sends with randomized
// human-simulation delays and pauses campaigns on sustained failure.
//
// Exactly one step is in flight at any time, across all campaigns and
// channels. The single rearming delay between steps is the pacing mechanism;
// there is no parallel send path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pacerhq/pacer/internal/events"
	"github.com/pacerhq/pacer/internal/message"
	"github.com/pacerhq/pacer/internal/metrics"
	"github.com/pacerhq/pacer/internal/models"
	"github.com/pacerhq/pacer/internal/settings"
	"github.com/pacerhq/pacer/internal/transport"
	"github.com/pacerhq/pacer/internal/warmup"
)

// fallbackPoll drives the loop when settings themselves cannot be read.
const fallbackPoll = 30 * time.Second

// CampaignStore is the campaign persistence the engine needs.
type CampaignStore interface {
	ListDueScheduled(now time.Time) ([]models.Campaign, error)
	MarkRunning(id string, now time.Time) error
	NextRunning() (*models.Campaign, error)
	SetStatus(id string, status models.CampaignStatus, reason string) error
	SetCompleted(id string, now time.Time) error
	IncrementSent(id string) error
	IncrementFailed(id string) error
	CountRunning() (int, error)
}

// RecipientStore is the recipient persistence the engine needs.
type RecipientStore interface {
	NextPending(campaignID string) (*models.Recipient, error)
	MarkSending(id string) error
	MarkSent(id, resolved string, now time.Time) error
	MarkFailed(id, resolved, errMsg string, now time.Time) error
	RecentOutcomes(campaignID string, n int) ([]models.RecipientStatus, error)
	ResetStuckSending() (int, error)
}

// StatsStore records and reports per-channel send outcomes.
type StatsStore interface {
	HourlySent(channel string, now time.Time) int
	DailySent(channel string, now time.Time) int
	Record(channel string, ok bool, now time.Time)
}

// SettingsSource supplies a settings snapshot for one step.
type SettingsSource interface {
	Load() (*settings.Values, error)
}

// Config holds the engine's dependencies.
type Config struct {
	Logger     *slog.Logger
	Campaigns  CampaignStore
	Recipients RecipientStore
	Settings   SettingsSource
	Stats      StatsStore
	Transport  transport.Transport
	Bus        events.Publisher
	Metrics    *metrics.Metrics
	Clock      Clock      // nil uses the real clock
	Rand       *rand.Rand // nil uses a time-seeded source
}

// Engine is the scheduler loop. Create with New, drive with Start/Stop.
// All campaign/recipient status mutation during a run goes through here.
type Engine struct {
	logger     *slog.Logger
	campaigns  CampaignStore
	recipients RecipientStore
	settings   SettingsSource
	stats      StatsStore
	transport  transport.Transport
	bus        events.Publisher
	metrics    *metrics.Metrics
	clock      Clock
	rng        *rand.Rand
	resolver   *message.Resolver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine from its dependencies.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		logger:     cfg.Logger.With("component", "engine"),
		campaigns:  cfg.Campaigns,
		recipients: cfg.Recipients,
		settings:   cfg.Settings,
		stats:      cfg.Stats,
		transport:  cfg.Transport,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		clock:      clock,
		rng:        rng,
		resolver:   message.NewResolverWith(rng, clock.Now),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start resets recipients stranded in sending by an unclean shutdown (they
// are retryable, not evidence of delivery) and launches the loop.
func (e *Engine) Start() error {
	reset, err := e.recipients.ResetStuckSending()
	if err != nil {
		return fmt.Errorf("reset stuck recipients: %w", err)
	}
	if reset > 0 {
		e.logger.Warn("reset recipients stuck in sending", "count", reset)
	}

	e.wg.Add(1)
	go e.run()
	e.logger.Info("engine started")
	return nil
}

// Stop cancels the pending delay and waits for the current step to finish.
// A send already in flight still records its outcome.
func (e *Engine) Stop() {
	e.logger.Info("stopping engine...")
	e.cancel()
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// run is the single timer chain: each step computes the delay that arms the
// next one, so a step never overlaps its predecessor.
func (e *Engine) run() {
	defer e.wg.Done()

	var delay time.Duration
	for {
		e.clock.Sleep(e.ctx, delay)
		if e.ctx.Err() != nil {
			return
		}
		delay = e.safeStep()
	}
}

// safeStep runs one step and never lets it take down the loop.
func (e *Engine) safeStep() (delay time.Duration) {
	start := e.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("scheduler step panicked", "panic", r)
			e.bus.Publish(events.EngineError, map[string]any{"error": fmt.Sprint(r)})
			delay = fallbackPoll
		}
		e.metrics.StepDurationSeconds.Observe(e.clock.Now().Sub(start).Seconds())
	}()
	return e.step()
}

// step performs one pass of the scheduler loop and returns the delay before
// the next pass: a value drawn from the configured bounds after a send
// attempt, the fixed poll interval otherwise.
func (e *Engine) step() time.Duration {
	vals, err := e.settings.Load()
	if err != nil {
		// Configuration error: skip the step without mutating state.
		e.logger.Error("invalid settings, skipping step", "error", err)
		e.bus.Publish(events.EngineError, map[string]any{"error": err.Error()})
		return fallbackPoll
	}

	e.promoteDue()

	c, err := e.campaigns.NextRunning()
	if err != nil {
		e.logger.Error("failed to select campaign", "error", err)
		return vals.PollInterval
	}
	if c == nil {
		return vals.PollInterval
	}

	connected, err := e.transport.IsConnected(e.ctx, c.Channel)
	if err != nil || !connected {
		reason := "channel not connected"
		if err != nil {
			reason = fmt.Sprintf("channel status unavailable: %v", err)
		}
		e.pauseCampaign(c, reason, "not_connected")
		return vals.PollInterval
	}

	if reason := e.limitReached(c, vals); reason != "" {
		// Deferred, not failed; the candidate stays pending.
		e.metrics.SendsDeferredTotal.WithLabelValues(reason).Inc()
		e.logger.Debug("send deferred", "campaign_id", c.ID, "reason", reason)
		return vals.PollInterval
	}

	rcpt, err := e.recipients.NextPending(c.ID)
	if err != nil {
		e.logger.Error("failed to fetch next recipient", "campaign_id", c.ID, "error", err)
		return vals.PollInterval
	}
	if rcpt == nil {
		e.completeCampaign(c)
		return vals.PollInterval
	}

	failed := e.sendTo(c, rcpt, vals)

	if failed && e.failureWindowTripped(c.ID, vals.FailureWindow) {
		e.pauseCampaign(c, fmt.Sprintf("auto-paused: last %d sends failed", vals.FailureWindow), "failure_window")
	}

	return e.nextSendDelay(c, vals)
}

// promoteDue moves scheduled campaigns whose time has passed to running.
func (e *Engine) promoteDue() {
	now := e.clock.Now()
	due, err := e.campaigns.ListDueScheduled(now)
	if err != nil {
		e.logger.Error("failed to list due campaigns", "error", err)
		return
	}

	for _, c := range due {
		if err := e.campaigns.MarkRunning(c.ID, now); err != nil {
			e.logger.Error("failed to promote campaign", "campaign_id", c.ID, "error", err)
			continue
		}
		e.logger.Info("campaign started", "campaign_id", c.ID, "name", c.Name, "channel", c.Channel)
		e.bus.Publish(events.CampaignStarted, map[string]any{
			"campaign_id": c.ID,
			"name":        c.Name,
			"channel":     c.Channel,
			"total":       c.TotalCount,
		})
	}
	if len(due) > 0 {
		e.updateRunningGauge()
	}
}

// limitReached returns the deferral reason when any rate or warm-up check
// blocks the campaign, or "" when the send may proceed. Campaign-level caps
// override global settings; a cap of zero means unlimited.
func (e *Engine) limitReached(c *models.Campaign, vals *settings.Values) string {
	now := e.clock.Now()

	hourlyCap := vals.HourlyLimit
	if c.HourlyCap > 0 {
		hourlyCap = c.HourlyCap
	}
	if hourlyCap > 0 && e.stats.HourlySent(c.Channel, now) >= hourlyCap {
		return "hourly_limit"
	}

	dailySent := e.stats.DailySent(c.Channel, now)
	dailyCap := vals.DailyLimit
	if c.DailyCap > 0 {
		dailyCap = c.DailyCap
	}
	if dailyCap > 0 && dailySent >= dailyCap {
		return "daily_limit"
	}

	if c.WarmupEnabled && c.StartedAt != nil {
		if dailySent >= warmup.Limit(vals.WarmupTiers, *c.StartedAt, now) {
			return "warmup_limit"
		}
	}
	return ""
}

// sendTo performs one send attempt and records its outcome. Returns true
// when the attempt failed.
func (e *Engine) sendTo(c *models.Campaign, rcpt *models.Recipient, vals *settings.Values) bool {
	if err := e.recipients.MarkSending(rcpt.ID); err != nil {
		e.logger.Error("failed to mark recipient sending", "recipient_id", rcpt.ID, "error", err)
		return false
	}

	attrs := rcpt.AttributeMap()
	text := e.resolver.Resolve(c.MessageTemplate, attrs, vals.MarkerEnabled)

	// Human-simulation pacing: a "seen" pause, then a "typing" pause.
	e.clock.Sleep(e.ctx, e.randBetween(vals.MinSeenDelay, vals.MaxSeenDelay))
	e.clock.Sleep(e.ctx, e.randBetween(vals.MinTypingDelay, vals.MaxTypingDelay))

	var sendErr error
	if c.MediaURL != "" {
		caption := ""
		if c.CaptionTemplate != "" {
			caption = e.resolver.Resolve(c.CaptionTemplate, attrs, vals.MarkerEnabled)
		}
		media := transport.Media{URL: c.MediaURL, MimeType: c.MediaMime}
		sendErr = e.transport.SendMedia(e.ctx, c.Channel, rcpt.Phone, media, caption)
		if caption != "" {
			text = caption
		}
	} else {
		sendErr = e.transport.SendText(e.ctx, c.Channel, rcpt.Phone, text)
	}

	now := e.clock.Now()
	if sendErr != nil {
		if err := e.recipients.MarkFailed(rcpt.ID, text, sendErr.Error(), now); err != nil {
			e.logger.Error("failed to record failure", "recipient_id", rcpt.ID, "error", err)
		}
		if err := e.campaigns.IncrementFailed(c.ID); err != nil {
			e.logger.Error("failed to increment failed counter", "campaign_id", c.ID, "error", err)
		}
		e.stats.Record(c.Channel, false, now)
		e.metrics.MessagesFailedTotal.WithLabelValues(c.Channel).Inc()
		e.logger.Debug("send failed", "campaign_id", c.ID, "recipient_id", rcpt.ID, "error", sendErr)
		e.bus.Publish(events.CampaignProgress, map[string]any{
			"campaign_id":  c.ID,
			"recipient_id": rcpt.ID,
			"phone":        rcpt.Phone,
			"status":       string(models.RecipientFailed),
			"sent":         c.SentCount,
			"failed":       c.FailedCount + 1,
			"error":        sendErr.Error(),
		})
		return true
	}

	if err := e.recipients.MarkSent(rcpt.ID, text, now); err != nil {
		e.logger.Error("failed to record success", "recipient_id", rcpt.ID, "error", err)
	}
	if err := e.campaigns.IncrementSent(c.ID); err != nil {
		e.logger.Error("failed to increment sent counter", "campaign_id", c.ID, "error", err)
	}
	e.stats.Record(c.Channel, true, now)
	e.metrics.MessagesSentTotal.WithLabelValues(c.Channel).Inc()
	e.logger.Debug("message sent", "campaign_id", c.ID, "recipient_id", rcpt.ID)
	e.bus.Publish(events.CampaignProgress, map[string]any{
		"campaign_id":  c.ID,
		"recipient_id": rcpt.ID,
		"phone":        rcpt.Phone,
		"status":       string(models.RecipientSent),
		"sent":         c.SentCount + 1,
		"failed":       c.FailedCount,
	})
	return false
}

// failureWindowTripped reports whether the trailing window of terminal
// outcomes is all failures. Checked only after a failed send, so the pause
// fires exactly once per streak.
func (e *Engine) failureWindowTripped(campaignID string, window int) bool {
	outcomes, err := e.recipients.RecentOutcomes(campaignID, window)
	if err != nil {
		e.logger.Error("failed to read outcome window", "campaign_id", campaignID, "error", err)
		return false
	}
	if len(outcomes) < window {
		return false
	}
	for _, s := range outcomes {
		if s != models.RecipientFailed {
			return false
		}
	}
	return true
}

func (e *Engine) pauseCampaign(c *models.Campaign, reason, kind string) {
	if err := e.campaigns.SetStatus(c.ID, models.CampaignPaused, reason); err != nil {
		e.logger.Error("failed to pause campaign", "campaign_id", c.ID, "error", err)
		return
	}
	e.logger.Warn("campaign paused", "campaign_id", c.ID, "reason", reason)
	e.metrics.CampaignsPausedTotal.WithLabelValues(kind).Inc()
	e.bus.Publish(events.CampaignPaused, map[string]any{
		"campaign_id": c.ID,
		"reason":      reason,
	})
	e.updateRunningGauge()
}

func (e *Engine) completeCampaign(c *models.Campaign) {
	now := e.clock.Now()
	if err := e.campaigns.SetCompleted(c.ID, now); err != nil {
		e.logger.Error("failed to complete campaign", "campaign_id", c.ID, "error", err)
		return
	}
	e.logger.Info("campaign completed", "campaign_id", c.ID,
		"sent", c.SentCount, "failed", c.FailedCount, "total", c.TotalCount)
	e.bus.Publish(events.CampaignCompleted, map[string]any{
		"campaign_id": c.ID,
		"total":       c.TotalCount,
		"sent":        c.SentCount,
		"failed":      c.FailedCount,
	})
	e.updateRunningGauge()
}

// nextSendDelay draws the inter-send delay from the campaign's bounds,
// falling back to global settings. This replaces the fixed poll cadence
// after a send so the inter-message gap is never constant.
func (e *Engine) nextSendDelay(c *models.Campaign, vals *settings.Values) time.Duration {
	min, max := vals.MinDelay, vals.MaxDelay
	if c.MinDelaySeconds > 0 {
		min = time.Duration(c.MinDelaySeconds) * time.Second
	}
	if c.MaxDelaySeconds > 0 {
		max = time.Duration(c.MaxDelaySeconds) * time.Second
	}
	return e.randBetween(min, max)
}

func (e *Engine) randBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(e.rng.Int63n(int64(max-min)))
}

func (e *Engine) updateRunningGauge() {
	n, err := e.campaigns.CountRunning()
	if err != nil {
		return
	}
	e.metrics.CampaignsRunning.Set(float64(n))
}
