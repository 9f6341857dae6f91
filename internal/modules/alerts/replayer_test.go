package alerts_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/modules/alerts"
	"github.com/aristath/meridian/internal/telemetry"
	testhelper "github.com/aristath/meridian/internal/testing"
)

type replayFixture struct {
	repo     *alerts.Repository
	mailer   *fakeMailer
	replayer *alerts.Replayer
}

func newReplayFixture(t *testing.T) *replayFixture {
	t.Helper()

	opsDB, cleanup := testhelper.NewTestDB(t, "ops")
	t.Cleanup(cleanup)
	repo := alerts.NewRepository(testhelper.GetRawConnection(opsDB), zerolog.Nop())

	mailer := &fakeMailer{}
	registry := telemetry.NewMetricsRegistry()
	notifier := alerts.NewNotifier(repo, mailer, nil, registry, zerolog.Nop())
	return &replayFixture{
		repo:     repo,
		mailer:   mailer,
		replayer: alerts.NewReplayer(repo, notifier, nil, registry, zerolog.Nop()),
	}
}

// enqueue parks a dead-lettered delivery whose last attempt happened at the
// given time.
func (f *replayFixture) enqueue(t *testing.T, id, kind string, retry int, lastAttempt int64) {
	t.Helper()
	payload, err := json.Marshal(alerts.DeliveryPayload{
		AlertID: "al-1", UserID: "u1",
		Title:    "Alert: DGS3MO",
		Body:     "DGS3MO is 5.4 (> 5) as of 2026-03-02.",
		Playbook: "Compare against the portfolio's rate sensitivity.",
		Day:      "2026-03-02",
	})
	require.NoError(t, err)
	require.NoError(t, f.repo.EnqueueDLQ(&alerts.DLQJob{
		ID: id, Kind: kind, PayloadJSON: string(payload),
		Error: "smtp timeout", RetryCount: retry, Status: alerts.DLQPending,
		CreatedAt: lastAttempt, LastAttemptAt: lastAttempt,
	}))
}

func TestReplayEmptyQueue(t *testing.T) {
	f := newReplayFixture(t)

	delivered, failed, err := f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, failed)
}

func TestReplayDeliversRestedEmailJob(t *testing.T) {
	f := newReplayFixture(t)
	f.enqueue(t, "dlq-1", alerts.ChannelEmail, 0, time.Now().Unix()-120)

	delivered, failed, err := f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, failed)

	require.Len(t, f.mailer.subjects, 1)
	assert.Equal(t, "Alert: DGS3MO", f.mailer.subjects[0])
	assert.Contains(t, f.mailer.bodies[0], "rate sensitivity")

	pending, err := f.repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}

func TestReplayWaitsOutBackoff(t *testing.T) {
	f := newReplayFixture(t)
	f.enqueue(t, "dlq-1", alerts.ChannelEmail, 0, time.Now().Unix()-30)

	delivered, failed, err := f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, failed)
	assert.Empty(t, f.mailer.subjects)

	pending, err := f.repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestReplayFailureExtendsRest(t *testing.T) {
	f := newReplayFixture(t)
	f.mailer.err = errors.New("smtp: still down")
	f.enqueue(t, "dlq-1", alerts.ChannelEmail, 0, time.Now().Unix()-120)

	delivered, failed, err := f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, failed)

	// Still pending but resting for the longer second interval; an
	// immediate retry pops nothing.
	pending, err := f.repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	f.mailer.err = nil
	delivered, failed, err = f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, failed)
}

func TestReplayThirdFailureIsTerminal(t *testing.T) {
	f := newReplayFixture(t)
	f.mailer.err = errors.New("smtp: still down")
	f.enqueue(t, "dlq-1", alerts.ChannelEmail, 2, time.Now().Unix()-3600)

	delivered, failed, err := f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, failed)

	pending, err := f.repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	// A healed mailer cannot resurrect a terminal job.
	f.mailer.err = nil
	delivered, failed, err = f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, failed)
	assert.Empty(t, f.mailer.subjects)
}

func TestReplayInAppJobWritesNotification(t *testing.T) {
	f := newReplayFixture(t)
	f.enqueue(t, "dlq-1", alerts.ChannelInApp, 1, time.Now().Unix()-400)

	delivered, failed, err := f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, failed)

	list, err := f.repo.ListNotifications("u1", 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Alert: DGS3MO", list[0].Title)
	assert.Equal(t, "2026-03-02", list[0].DeliveredDay)
}

func TestReplayRetiresUnreadablePayload(t *testing.T) {
	f := newReplayFixture(t)
	require.NoError(t, f.repo.EnqueueDLQ(&alerts.DLQJob{
		ID: "dlq-bad", Kind: alerts.ChannelEmail, PayloadJSON: "{",
		Error: "smtp timeout", RetryCount: 0, Status: alerts.DLQPending,
		CreatedAt: time.Now().Unix() - 120, LastAttemptAt: time.Now().Unix() - 120,
	}))

	delivered, failed, err := f.replayer.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, failed)

	pending, err := f.repo.CountPending()
	require.NoError(t, err)
	assert.Equal(t, 0, pending)
}
