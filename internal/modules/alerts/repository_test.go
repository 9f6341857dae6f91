package alerts_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/modules/alerts"
	testhelper "github.com/aristath/meridian/internal/testing"
)

func newAlertsRepo(t *testing.T) *alerts.Repository {
	t.Helper()
	db, cleanup := testhelper.NewTestDB(t, "ops")
	t.Cleanup(cleanup)
	return alerts.NewRepository(testhelper.GetRawConnection(db), zerolog.Nop())
}

// macroAlert builds a minimal valid alert for repository tests.
func macroAlert(id, userID string, createdAt int64) *alerts.Alert {
	return &alerts.Alert{
		ID:     id,
		UserID: userID,
		Condition: alerts.Condition{
			Type:      alerts.ConditionMacro,
			Operator:  ">",
			Threshold: 5,
			Series:    "DGS3MO",
		},
		Channels:      []string{alerts.ChannelInApp},
		CooldownHours: 24,
		Active:        true,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestAlertRoundTrip(t *testing.T) {
	repo := newAlertsRepo(t)

	in := macroAlert("al-1", "u1", 1000)
	in.Channels = []string{alerts.ChannelInApp, alerts.ChannelEmail}
	require.NoError(t, repo.CreateAlert(in))

	out, err := repo.GetAlert("al-1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Condition, out.Condition)
	assert.Equal(t, in.Channels, out.Channels)
	assert.Equal(t, 24, out.CooldownHours)
	assert.Nil(t, out.LastFiredAt)
	assert.True(t, out.Active)

	missing, err := repo.GetAlert("al-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListByUserNewestFirst(t *testing.T) {
	repo := newAlertsRepo(t)

	require.NoError(t, repo.CreateAlert(macroAlert("al-old", "u1", 1000)))
	require.NoError(t, repo.CreateAlert(macroAlert("al-new", "u1", 2000)))
	require.NoError(t, repo.CreateAlert(macroAlert("al-other", "u2", 3000)))

	list, err := repo.ListByUser("u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "al-new", list[0].ID)
	assert.Equal(t, "al-old", list[1].ID)
}

func TestListActiveSkipsDisabled(t *testing.T) {
	repo := newAlertsRepo(t)

	require.NoError(t, repo.CreateAlert(macroAlert("al-on", "u1", 1000)))
	off := macroAlert("al-off", "u1", 2000)
	off.Active = false
	require.NoError(t, repo.CreateAlert(off))

	list, err := repo.ListActive()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "al-on", list[0].ID)
}

func TestSetLastFired(t *testing.T) {
	repo := newAlertsRepo(t)
	require.NoError(t, repo.CreateAlert(macroAlert("al-1", "u1", 1000)))

	require.NoError(t, repo.SetLastFired("al-1", 5000))

	out, err := repo.GetAlert("al-1")
	require.NoError(t, err)
	require.NotNil(t, out.LastFiredAt)
	assert.Equal(t, int64(5000), *out.LastFiredAt)
	assert.Equal(t, int64(5000), out.UpdatedAt)
}

func TestDeleteAlert(t *testing.T) {
	repo := newAlertsRepo(t)
	require.NoError(t, repo.CreateAlert(macroAlert("al-1", "u1", 1000)))

	require.NoError(t, repo.DeleteAlert("al-1"))
	out, err := repo.GetAlert("al-1")
	require.NoError(t, err)
	assert.Nil(t, out)

	// Unknown ids are a no-op, deletion is idempotent.
	require.NoError(t, repo.DeleteAlert("al-1"))
}

func TestInsertNotificationDedupesByDay(t *testing.T) {
	repo := newAlertsRepo(t)

	first := &alerts.Notification{
		ID: "nt-1", UserID: "u1", AlertID: "al-1",
		Title: "Alert: DGS3MO", Body: "body", DeliveredDay: "2026-03-02", CreatedAt: 1000,
	}
	inserted, err := repo.InsertNotification(first)
	require.NoError(t, err)
	assert.True(t, inserted)

	// A new id for the same (user, alert, day) is silently ignored.
	dup := *first
	dup.ID = "nt-2"
	dup.CreatedAt = 1100
	inserted, err = repo.InsertNotification(&dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	nextDay := *first
	nextDay.ID = "nt-3"
	nextDay.DeliveredDay = "2026-03-03"
	nextDay.CreatedAt = 90000
	inserted, err = repo.InsertNotification(&nextDay)
	require.NoError(t, err)
	assert.True(t, inserted)

	list, err := repo.ListNotifications("u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "nt-3", list[0].ID)
	assert.Equal(t, "nt-1", list[1].ID)
}

func TestListNotificationsHonorsLimit(t *testing.T) {
	repo := newAlertsRepo(t)

	for i, id := range []string{"nt-a", "nt-b", "nt-c"} {
		_, err := repo.InsertNotification(&alerts.Notification{
			ID: id, UserID: "u1", AlertID: "al-" + id,
			Title: "t", Body: "b", DeliveredDay: "2026-03-02", CreatedAt: int64(1000 + i),
		})
		require.NoError(t, err)
	}

	list, err := repo.ListNotifications("u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "nt-c", list[0].ID)
	assert.Equal(t, "nt-b", list[1].ID)
}

func seedJob(t *testing.T, repo *alerts.Repository, id string, retry int, createdAt, lastAttempt int64) {
	t.Helper()
	require.NoError(t, repo.EnqueueDLQ(&alerts.DLQJob{
		ID:            id,
		Kind:          alerts.ChannelEmail,
		PayloadJSON:   `{"alert_id":"al-1","user_id":"u1","title":"t","body":"b","day":"2026-03-02"}`,
		Error:         "smtp timeout",
		RetryCount:    retry,
		Status:        alerts.DLQPending,
		CreatedAt:     createdAt,
		LastAttemptAt: lastAttempt,
	}))
}

func TestListReplayableHonorsBackoffSchedule(t *testing.T) {
	repo := newAlertsRepo(t)
	now := int64(100000)

	// One resting and one rested job per retry count. The rest period
	// grows with each failure: 60s, 300s, 1800s.
	seedJob(t, repo, "dlq-0-early", 0, 1, now-59)
	seedJob(t, repo, "dlq-0-due", 0, 2, now-60)
	seedJob(t, repo, "dlq-1-early", 1, 3, now-299)
	seedJob(t, repo, "dlq-1-due", 1, 4, now-300)
	seedJob(t, repo, "dlq-2-early", 2, 5, now-1799)
	seedJob(t, repo, "dlq-2-due", 2, 6, now-1800)

	jobs, err := repo.ListReplayable(now)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "dlq-0-due", jobs[0].ID)
	assert.Equal(t, "dlq-1-due", jobs[1].ID)
	assert.Equal(t, "dlq-2-due", jobs[2].ID)
}

func TestRecordFailedAttemptTerminalAtThree(t *testing.T) {
	repo := newAlertsRepo(t)
	seedJob(t, repo, "dlq-1", 2, 1, 1)

	require.NoError(t, repo.RecordFailedAttempt("dlq-1", 3, "smtp timeout", 2000))

	// Terminal jobs are neither pending nor replayable, however long they rest.
	pending, err := repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	jobs, err := repo.ListReplayable(1 << 40)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRecordFailedAttemptKeepsJobPendingBelowMax(t *testing.T) {
	repo := newAlertsRepo(t)
	seedJob(t, repo, "dlq-1", 0, 1, 1)

	require.NoError(t, repo.RecordFailedAttempt("dlq-1", 1, "smtp timeout", 2000))

	pending, err := repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// The clock restarts from the failed attempt.
	jobs, err := repo.ListReplayable(2000 + 299)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = repo.ListReplayable(2000 + 300)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].RetryCount)
}

func TestMarkDelivered(t *testing.T) {
	repo := newAlertsRepo(t)
	seedJob(t, repo, "dlq-1", 0, 1, 1)
	seedJob(t, repo, "dlq-2", 0, 2, 2)

	require.NoError(t, repo.MarkDelivered("dlq-1", 3000))

	pending, err := repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	jobs, err := repo.ListReplayable(1 << 40)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "dlq-2", jobs[0].ID)
}
