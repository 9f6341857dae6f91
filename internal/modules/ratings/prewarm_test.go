package ratings_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/modules/macro"
	"github.com/aristath/meridian/internal/modules/packs"
	"github.com/aristath/meridian/internal/modules/ratings"
	testhelper "github.com/aristath/meridian/internal/testing"
	"github.com/aristath/meridian/internal/utils"
)

type ratingsFixture struct {
	service *ratings.Service
	repo    *ratings.Repository
	packs   *packs.Repository
	history *macro.Store
}

func newRatingsFixture(t *testing.T) *ratingsFixture {
	t.Helper()

	packsDB, packsCleanup := testhelper.NewTestDB(t, "packs")
	t.Cleanup(packsCleanup)
	derivedDB, derivedCleanup := testhelper.NewTestDB(t, "derived")
	t.Cleanup(derivedCleanup)
	historyDB, historyCleanup := testhelper.NewTestDBWithSchema(t, "history", macro.Schema)
	t.Cleanup(historyCleanup)

	packsRepo := packs.NewRepository(testhelper.GetRawConnection(packsDB), zerolog.Nop())
	repo := ratings.NewRepository(testhelper.GetRawConnection(derivedDB), zerolog.Nop())
	history := macro.NewStore(testhelper.GetRawConnection(historyDB), zerolog.Nop())

	return &ratingsFixture{
		service: ratings.NewService(packsRepo, history, repo, zerolog.Nop()),
		repo:    repo,
		packs:   packsRepo,
		history: history,
	}
}

// seedCloses writes n consecutive daily closes ending on endDate.
func (f *ratingsFixture) seedCloses(t *testing.T, securityID, endDate string, n int) {
	t.Helper()
	end, err := utils.DateToUnix(endDate)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		date := utils.UnixToDate(end - int64(n-1-i)*86400)
		require.NoError(t, f.history.UpsertDailyCloses(date, map[string]float64{securityID: 100}))
	}
}

func (f *ratingsFixture) seedPack(t *testing.T, id, date string, prices map[string]float64) *packs.Pack {
	t.Helper()
	asOf, err := utils.DateToUnix(date)
	require.NoError(t, err)

	priceRows := make([]packs.PriceRow, 0, len(prices))
	for sec, closePrice := range prices {
		priceRows = append(priceRows, packs.PriceRow{SecurityID: sec, Close: closePrice, Currency: "USD", Source: "test"})
	}

	now := time.Now().Unix()
	pack := &packs.Pack{
		ID: id, AsOfDate: asOf, Policy: "eod", Hash: "h-" + id,
		Status: packs.StatusWarming, SourcesJSON: "{}",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.packs.CreateWithRows(pack, priceRows, nil, ""))
	return pack
}

func TestPrewarmScoresPriceCoverage(t *testing.T) {
	f := newRatingsFixture(t)

	// Half a trading year of closes vs a security with no history at all.
	f.seedCloses(t, "AAPL", "2026-03-02", 126)
	pack := f.seedPack(t, "pk-r", "2026-03-02", map[string]float64{"AAPL": 100, "NEWIPO": 10})

	rated, err := f.service.Prewarm(context.Background(), pack.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rated)

	rows, err := f.repo.GetRatings("AAPL", pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ratings.RatingPriceCoverage, rows[0].Rating)
	assert.InDelta(t, 0.5, rows[0].Score, 1e-12)

	rows, err = f.repo.GetRatings("NEWIPO", pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.0, rows[0].Score)
}

func TestPrewarmCoverageCapsAtOne(t *testing.T) {
	f := newRatingsFixture(t)

	// 300 calendar closes exceed the trading-day denominator.
	f.seedCloses(t, "SPX", "2026-03-02", 300)
	pack := f.seedPack(t, "pk-cap", "2026-03-02", map[string]float64{"SPX": 5000})

	rated, err := f.service.Prewarm(context.Background(), pack.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rated)

	rows, err := f.repo.GetRatings("SPX", pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, rows[0].Score)
}

func TestPrewarmIgnoresClosesOutsideWindow(t *testing.T) {
	f := newRatingsFixture(t)

	// History that ended two years ago contributes nothing.
	f.seedCloses(t, "OLD", "2024-03-02", 200)
	pack := f.seedPack(t, "pk-old", "2026-03-02", map[string]float64{"OLD": 10})

	_, err := f.service.Prewarm(context.Background(), pack.ID)
	require.NoError(t, err)

	rows, err := f.repo.GetRatings("OLD", pack.AsOfDate, pack.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.0, rows[0].Score)
}

func TestPrewarmUnknownPack(t *testing.T) {
	f := newRatingsFixture(t)
	_, err := f.service.Prewarm(context.Background(), "pk-missing")
	require.Error(t, err)
}

func TestIsRatingName(t *testing.T) {
	assert.True(t, ratings.IsRatingName(ratings.RatingPriceCoverage))
	assert.False(t, ratings.IsRatingName("alpha_capture"))
}
