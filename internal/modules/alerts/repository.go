package alerts

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// maxRetries is the number of failed replays after which a DLQ job is
// terminal.
const maxRetries = 3

// replayBackoff holds the seconds a job must rest before retry counts
// 0, 1 and 2 are popped again.
var replayBackoff = [maxRetries]int64{60, 300, 1800}

// Repository provides access to alerts, notifications and the dead letter
// queue in ops.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates an alerts repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "alerts").Logger(),
	}
}

// --- alerts ---

// CreateAlert persists a new alert definition.
func (r *Repository) CreateAlert(a *Alert) error {
	conditionJSON, err := json.Marshal(a.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	channelsJSON, err := json.Marshal(a.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	active := 0
	if a.Active {
		active = 1
	}
	_, err = r.db.Exec(`INSERT INTO alerts
		(id, user_id, condition_json, channels_json, cooldown_hours, last_fired_at, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, string(conditionJSON), string(channelsJSON),
		a.CooldownHours, a.LastFiredAt, active, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

const selectAlert = `SELECT id, user_id, condition_json, channels_json,
	cooldown_hours, last_fired_at, active, created_at, updated_at FROM alerts`

// GetAlert returns one alert by id, or nil when unknown.
func (r *Repository) GetAlert(id string) (*Alert, error) {
	row := r.db.QueryRow(selectAlert+` WHERE id = ?`, id)
	a, err := scanAlert(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListByUser returns a user's alerts, newest first.
func (r *Repository) ListByUser(userID string) ([]Alert, error) {
	rows, err := r.db.Query(selectAlert+` WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListActive returns every active alert.
func (r *Repository) ListActive() ([]Alert, error) {
	rows, err := r.db.Query(selectAlert + ` WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active alerts: %w", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// DeleteAlert removes an alert definition. Deleting an unknown id is a
// no-op.
func (r *Repository) DeleteAlert(id string) error {
	if _, err := r.db.Exec(`DELETE FROM alerts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	return nil
}

// SetLastFired stamps the alert's cooldown anchor.
func (r *Repository) SetLastFired(id string, firedAt int64) error {
	_, err := r.db.Exec(`UPDATE alerts SET last_fired_at = ?, updated_at = ? WHERE id = ?`,
		firedAt, firedAt, id)
	if err != nil {
		return fmt.Errorf("failed to set last_fired_at: %w", err)
	}
	return nil
}

func scanAlert(scan func(dest ...interface{}) error) (*Alert, error) {
	var a Alert
	var conditionJSON, channelsJSON string
	var lastFired sql.NullInt64
	var active int

	err := scan(&a.ID, &a.UserID, &conditionJSON, &channelsJSON,
		&a.CooldownHours, &lastFired, &active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conditionJSON), &a.Condition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal condition for alert %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(channelsJSON), &a.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels for alert %s: %w", a.ID, err)
	}
	if lastFired.Valid {
		a.LastFiredAt = &lastFired.Int64
	}
	a.Active = active == 1
	return &a, nil
}

func collectAlerts(rows *sql.Rows) ([]Alert, error) {
	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// --- notifications ---

// InsertNotification writes one in-app notification. A same-day duplicate
// for the same user and alert is a silent no-op; the bool reports whether a
// row was actually inserted.
func (r *Repository) InsertNotification(n *Notification) (bool, error) {
	res, err := r.db.Exec(`INSERT OR IGNORE INTO notifications
		(id, user_id, alert_id, title, body, playbook, delivered_day, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.AlertID, n.Title, n.Body, n.Playbook, n.DeliveredDay, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read insert result: %w", err)
	}
	return affected > 0, nil
}

// ListNotifications returns a user's notifications, newest first.
func (r *Repository) ListNotifications(userID string, limit int) ([]Notification, error) {
	rows, err := r.db.Query(`SELECT id, user_id, alert_id, title, body, playbook, delivered_day, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		var playbook sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.AlertID, &n.Title, &n.Body,
			&playbook, &n.DeliveredDay, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Playbook = playbook.String
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// --- dead letter queue ---

// EnqueueDLQ records a failed delivery for replay.
func (r *Repository) EnqueueDLQ(job *DLQJob) error {
	_, err := r.db.Exec(`INSERT INTO dlq_jobs
		(id, kind, payload_json, error, retry_count, status, created_at, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Kind, job.PayloadJSON, job.Error,
		job.RetryCount, job.Status, job.CreatedAt, job.LastAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue dlq job: %w", err)
	}
	return nil
}

// ListReplayable returns pending jobs whose rest period for their current
// retry count has elapsed, oldest first.
func (r *Repository) ListReplayable(now int64) ([]DLQJob, error) {
	rows, err := r.db.Query(`SELECT id, kind, payload_json, error, retry_count, status, created_at, last_attempt_at
		FROM dlq_jobs WHERE status = ? ORDER BY created_at`, DLQPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query dlq jobs: %w", err)
	}
	defer rows.Close()

	var jobs []DLQJob
	for rows.Next() {
		var job DLQJob
		if err := rows.Scan(&job.ID, &job.Kind, &job.PayloadJSON, &job.Error,
			&job.RetryCount, &job.Status, &job.CreatedAt, &job.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("failed to scan dlq job: %w", err)
		}
		if job.RetryCount >= maxRetries {
			continue
		}
		if now-job.LastAttemptAt < replayBackoff[job.RetryCount] {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkDelivered closes a job after a successful replay.
func (r *Repository) MarkDelivered(id string, now int64) error {
	_, err := r.db.Exec(`UPDATE dlq_jobs SET status = ?, last_attempt_at = ? WHERE id = ?`,
		DLQDelivered, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark dlq job delivered: %w", err)
	}
	return nil
}

// RecordFailedAttempt advances a job's retry count after an unsuccessful
// replay. The third failed retry is terminal.
func (r *Repository) RecordFailedAttempt(id string, retryCount int, errMsg string, now int64) error {
	status := DLQPending
	if retryCount >= maxRetries {
		status = DLQFailed
	}
	_, err := r.db.Exec(`UPDATE dlq_jobs SET retry_count = ?, status = ?, error = ?, last_attempt_at = ? WHERE id = ?`,
		retryCount, status, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("failed to record dlq attempt: %w", err)
	}
	return nil
}

// CountPending returns the DLQ depth, for the system status endpoint.
func (r *Repository) CountPending() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM dlq_jobs WHERE status = ?`, DLQPending).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending dlq jobs: %w", err)
	}
	return count, nil
}
