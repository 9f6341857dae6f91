package alerts_test

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/alerts"
	testhelper "github.com/aristath/meridian/internal/testing"
)

type serviceFixture struct {
	service *alerts.Service
	repo    *alerts.Repository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	opsDB, cleanup := testhelper.NewTestDB(t, "ops")
	t.Cleanup(cleanup)
	repo := alerts.NewRepository(testhelper.GetRawConnection(opsDB), zerolog.Nop())

	return &serviceFixture{
		service: alerts.NewService(repo, newValidator(t), zerolog.Nop()),
		repo:    repo,
	}
}

func TestCreateAlertAppliesDefaults(t *testing.T) {
	f := newServiceFixture(t)

	a := &alerts.Alert{
		UserID: "u1",
		Condition: alerts.Condition{
			Type: "macro", Operator: ">", Threshold: 5, Series: "DGS3MO",
		},
	}
	require.NoError(t, f.service.CreateAlert(a))

	assert.True(t, strings.HasPrefix(a.ID, "al_"))
	assert.Equal(t, []string{alerts.ChannelInApp}, a.Channels)
	assert.Equal(t, 24, a.CooldownHours)
	assert.True(t, a.Active)

	stored, err := f.service.GetAlert(a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, a.Condition, stored.Condition)
	assert.Nil(t, stored.LastFiredAt)
}

func TestCreateAlertRejectsInvalidCondition(t *testing.T) {
	f := newServiceFixture(t)

	err := f.service.CreateAlert(&alerts.Alert{
		UserID: "u1",
		Condition: alerts.Condition{
			Type: "metric", Operator: ">", Threshold: 1,
			Metric: "twr_2d", PortfolioID: "pf-v",
		},
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	list, err := f.service.ListAlerts("u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestServiceDeleteAlert(t *testing.T) {
	f := newServiceFixture(t)

	a := &alerts.Alert{
		UserID: "u1",
		Condition: alerts.Condition{
			Type: "macro", Operator: "<", Threshold: 3, Series: "DGS10",
		},
	}
	require.NoError(t, f.service.CreateAlert(a))
	require.NoError(t, f.service.DeleteAlert(a.ID))

	stored, err := f.service.GetAlert(a.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestServiceNotifications(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.repo.InsertNotification(&alerts.Notification{
		ID: "nt-1", UserID: "u1", AlertID: "al-1",
		Title: "Alert: DGS3MO", Body: "b", DeliveredDay: "2026-03-02", CreatedAt: 1000,
	})
	require.NoError(t, err)

	list, err := f.service.Notifications("u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Alert: DGS3MO", list[0].Title)
}
