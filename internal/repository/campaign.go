package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pacerhq/pacer/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, channel, status, COALESCE(status_reason, ''),
	message_template, COALESCE(media_url, ''), COALESCE(media_mime, ''), COALESCE(caption_template, ''),
	COALESCE(audience_filter, ''), scheduled_at, started_at, completed_at,
	total_count, sent_count, delivered_count, read_count, failed_count,
	min_delay_seconds, max_delay_seconds, hourly_cap, daily_cap, warmup_enabled,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*models.Campaign, error) {
	c := &models.Campaign{}
	err := row.Scan(
		&c.ID, &c.Name, &c.Channel, &c.Status, &c.StatusReason,
		&c.MessageTemplate, &c.MediaURL, &c.MediaMime, &c.CaptionTemplate,
		&c.AudienceFilter, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt,
		&c.TotalCount, &c.SentCount, &c.DeliveredCount, &c.ReadCount, &c.FailedCount,
		&c.MinDelaySeconds, &c.MaxDelaySeconds, &c.HourlyCap, &c.DailyCap, &c.WarmupEnabled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create creates a new campaign in draft status.
func (r *CampaignRepository) Create(c *models.Campaign) error {
	c.ID = uuid.New().String()
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaigns (id, name, channel, status, message_template, media_url, media_mime,
			caption_template, audience_filter, scheduled_at, min_delay_seconds, max_delay_seconds,
			hourly_cap, daily_cap, warmup_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Channel, c.Status, c.MessageTemplate, c.MediaURL, c.MediaMime,
		c.CaptionTemplate, c.AudienceFilter, c.ScheduledAt, c.MinDelaySeconds, c.MaxDelaySeconds,
		c.HourlyCap, c.DailyCap, c.WarmupEnabled, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil when not found.
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRow(
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns with optional filtering.
func (r *CampaignRepository) List(filter models.CampaignFilter) ([]models.Campaign, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM campaigns"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where + " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, total, nil
}

// Update updates the editable fields of a campaign.
func (r *CampaignRepository) Update(c *models.Campaign) error {
	c.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE campaigns SET name = ?, channel = ?, message_template = ?, media_url = ?,
			media_mime = ?, caption_template = ?, audience_filter = ?, scheduled_at = ?,
			min_delay_seconds = ?, max_delay_seconds = ?, hourly_cap = ?, daily_cap = ?,
			warmup_enabled = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Channel, c.MessageTemplate, c.MediaURL,
		c.MediaMime, c.CaptionTemplate, c.AudienceFilter, c.ScheduledAt,
		c.MinDelaySeconds, c.MaxDelaySeconds, c.HourlyCap, c.DailyCap,
		c.WarmupEnabled, c.UpdatedAt, c.ID,
	)
	return err
}

// Delete deletes a campaign and its recipients.
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}

// SetStatus moves a campaign to the given status with an optional reason.
func (r *CampaignRepository) SetStatus(id string, status models.CampaignStatus, reason string) error {
	_, err := r.db.Exec(
		"UPDATE campaigns SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?",
		status, reason, time.Now(), id)
	return err
}

// ListDueScheduled returns scheduled campaigns whose scheduled time has passed.
func (r *CampaignRepository) ListDueScheduled(now time.Time) ([]models.Campaign, error) {
	rows, err := r.db.Query(`
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at`, models.CampaignScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, nil
}

// MarkRunning promotes a campaign to running. started_at is stamped only on
// the first promotion so warm-up day accounting survives pauses.
func (r *CampaignRepository) MarkRunning(id string, now time.Time) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, status_reason = '',
			started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ?`, models.CampaignRunning, now, now, id)
	return err
}

// NextRunning returns the earliest-started running campaign, or nil when no
// campaign is running. Global FIFO across campaigns.
func (r *CampaignRepository) NextRunning() (*models.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRow(`
		SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status = 'running'
		ORDER BY started_at ASC
		LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetCompleted stamps the completion time and moves the campaign to completed.
func (r *CampaignRepository) SetCompleted(id string, now time.Time) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, status_reason = '', completed_at = ?, updated_at = ?
		WHERE id = ?`, models.CampaignCompleted, now, now, id)
	return err
}

// IncrementSent atomically increments the sent counter.
func (r *CampaignRepository) IncrementSent(id string) error {
	_, err := r.db.Exec(
		"UPDATE campaigns SET sent_count = sent_count + 1, updated_at = ? WHERE id = ?",
		time.Now(), id)
	return err
}

// IncrementFailed atomically increments the failed counter.
func (r *CampaignRepository) IncrementFailed(id string) error {
	_, err := r.db.Exec(
		"UPDATE campaigns SET failed_count = failed_count + 1, updated_at = ? WHERE id = ?",
		time.Now(), id)
	return err
}

// AddToTotal atomically adds n to the total recipient counter.
func (r *CampaignRepository) AddToTotal(id string, n int) error {
	_, err := r.db.Exec(
		"UPDATE campaigns SET total_count = total_count + ?, updated_at = ? WHERE id = ?",
		n, time.Now(), id)
	return err
}

// CountRunning returns the number of running campaigns, used by metrics.
func (r *CampaignRepository) CountRunning() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM campaigns WHERE status = 'running'").Scan(&n)
	return n, err
}
