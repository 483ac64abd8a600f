package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pacerhq/pacer/internal/models"
)

// ErrStatusConflict marks a rejected status transition, as opposed to a
// storage failure. Returned when a guarded update matches no row.
var ErrStatusConflict = errors.New("status does not allow this action")

type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

const recipientColumns = `id, campaign_id, phone, COALESCE(name, ''), COALESCE(attributes, ''),
	status, send_order, COALESCE(resolved_message, ''), COALESCE(error, ''), retry_count,
	sent_at, delivered_at, read_at, failed_at, created_at`

func scanRecipient(row interface{ Scan(...any) error }) (*models.Recipient, error) {
	rcpt := &models.Recipient{}
	err := row.Scan(
		&rcpt.ID, &rcpt.CampaignID, &rcpt.Phone, &rcpt.Name, &rcpt.Attributes,
		&rcpt.Status, &rcpt.SendOrder, &rcpt.ResolvedMessage, &rcpt.Error, &rcpt.RetryCount,
		&rcpt.SentAt, &rcpt.DeliveredAt, &rcpt.ReadAt, &rcpt.FailedAt, &rcpt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

// BulkCreate inserts recipients for a campaign, assigning a stable FIFO send
// order after the campaign's current maximum. Returns the number inserted.
func (r *RecipientRepository) BulkCreate(campaignID string, recipients []models.Recipient) (int, error) {
	if len(recipients) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var maxOrder sql.NullInt64
	if err := tx.QueryRow(
		"SELECT MAX(send_order) FROM recipients WHERE campaign_id = ?", campaignID,
	).Scan(&maxOrder); err != nil {
		return 0, err
	}
	order := int(maxOrder.Int64)

	now := time.Now()
	for i := range recipients {
		order++
		rcpt := &recipients[i]
		rcpt.ID = uuid.New().String()
		rcpt.CampaignID = campaignID
		rcpt.Status = models.RecipientPending
		rcpt.SendOrder = order
		rcpt.CreatedAt = now

		_, err := tx.Exec(`
			INSERT INTO recipients (id, campaign_id, phone, name, attributes, status, send_order, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rcpt.ID, rcpt.CampaignID, rcpt.Phone, rcpt.Name, rcpt.Attributes, rcpt.Status, rcpt.SendOrder, rcpt.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert recipient %s: %w", rcpt.Phone, err)
		}
	}

	if _, err := tx.Exec(
		"UPDATE campaigns SET total_count = total_count + ?, updated_at = ? WHERE id = ?",
		len(recipients), now, campaignID,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(recipients), nil
}

// GetByID returns a recipient by ID, or nil when not found.
func (r *RecipientRepository) GetByID(id string) (*models.Recipient, error) {
	rcpt, err := scanRecipient(r.db.QueryRow(
		`SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

// List returns recipients for a campaign in send order.
func (r *RecipientRepository) List(filter models.RecipientFilter) ([]models.Recipient, int, error) {
	where := " WHERE campaign_id = ?"
	args := []any{filter.CampaignID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM recipients"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + recipientColumns + ` FROM recipients` + where + " ORDER BY send_order"
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

	recipients := []models.Recipient{}
	for rows.Next() {
		rcpt, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, err
		}
		recipients = append(recipients, *rcpt)
	}
	return recipients, total, nil
}

// NextPending returns the pending recipient with the lowest send order for
// the campaign, or nil when none remain.
func (r *RecipientRepository) NextPending(campaignID string) (*models.Recipient, error) {
	rcpt, err := scanRecipient(r.db.QueryRow(`
		SELECT `+recipientColumns+` FROM recipients
		WHERE campaign_id = ? AND status = 'pending'
		ORDER BY send_order ASC
		LIMIT 1`, campaignID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

// MarkSending moves a pending recipient to sending. The status guard keeps
// the transition monotonic; a no-op update means someone raced us.
func (r *RecipientRepository) MarkSending(id string) error {
	res, err := r.db.Exec(
		"UPDATE recipients SET status = 'sending' WHERE id = ? AND status = 'pending'", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("recipient %s is not pending: %w", id, ErrStatusConflict)
	}
	return nil
}

// MarkSent records a successful send with the resolved message text.
func (r *RecipientRepository) MarkSent(id, resolved string, now time.Time) error {
	_, err := r.db.Exec(`
		UPDATE recipients SET status = 'sent', resolved_message = ?, error = '', sent_at = ?
		WHERE id = ? AND status = 'sending'`, resolved, now, id)
	return err
}

// MarkFailed records a failed send with the error detail and bumps the
// retry counter.
func (r *RecipientRepository) MarkFailed(id, resolved, errMsg string, now time.Time) error {
	_, err := r.db.Exec(`
		UPDATE recipients SET status = 'failed', resolved_message = ?, error = ?,
			retry_count = retry_count + 1, failed_at = ?
		WHERE id = ? AND status = 'sending'`, resolved, errMsg, now, id)
	return err
}

// Skip marks a pending recipient as skipped. Skipped is terminal and only
// reachable from pending via this external action.
func (r *RecipientRepository) Skip(id string) error {
	res, err := r.db.Exec(
		"UPDATE recipients SET status = 'skipped' WHERE id = ? AND status = 'pending'", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("recipient %s is not pending: %w", id, ErrStatusConflict)
	}
	return nil
}

// Retry returns a failed recipient to pending. Manual action only; the
// engine never reverts failed recipients itself.
func (r *RecipientRepository) Retry(id string) error {
	res, err := r.db.Exec(
		"UPDATE recipients SET status = 'pending', error = '' WHERE id = ? AND status = 'failed'", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("recipient %s is not failed: %w", id, ErrStatusConflict)
	}
	return nil
}

// RecentOutcomes returns the statuses of the most recent n send outcomes for
// the campaign, newest first by outcome time. A manually retried recipient
// that fails again carries a fresh failed_at, so it re-enters the window as
// the newest entry regardless of its send order.
func (r *RecipientRepository) RecentOutcomes(campaignID string, n int) ([]models.RecipientStatus, error) {
	rows, err := r.db.Query(`
		SELECT status FROM recipients
		WHERE campaign_id = ? AND status IN ('sent', 'failed')
		ORDER BY COALESCE(failed_at, sent_at) DESC, send_order DESC
		LIMIT ?`, campaignID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	outcomes := []models.RecipientStatus{}
	for rows.Next() {
		var s models.RecipientStatus
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, s)
	}
	return outcomes, nil
}

// ResetStuckSending returns recipients left in sending by an unclean
// shutdown to pending so they are retried rather than assumed delivered.
func (r *RecipientRepository) ResetStuckSending() (int, error) {
	res, err := r.db.Exec("UPDATE recipients SET status = 'pending' WHERE status = 'sending'")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountByStatus returns per-status recipient counts for a campaign.
func (r *RecipientRepository) CountByStatus(campaignID string) (*models.StatusCounts, error) {
	rows, err := r.db.Query(
		"SELECT status, COUNT(*) FROM recipients WHERE campaign_id = ? GROUP BY status", campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := &models.StatusCounts{}
	for rows.Next() {
		var status models.RecipientStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case models.RecipientPending:
			counts.Pending = n
		case models.RecipientSending:
			counts.Sending = n
		case models.RecipientSent:
			counts.Sent = n
		case models.RecipientFailed:
			counts.Failed = n
		case models.RecipientSkipped:
			counts.Skipped = n
		}
	}
	return counts, nil
}
