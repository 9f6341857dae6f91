package macro_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/domain"
	"github.com/aristath/meridian/internal/modules/macro"
)

type fakeSentimentProvider struct {
	daily func(securityID, start, end string) ([]domain.SentimentQuote, error)
}

func (f *fakeSentimentProvider) Name() string { return "fake-sentiment" }

func (f *fakeSentimentProvider) DailySentiment(_ context.Context, securityID, start, end string) ([]domain.SentimentQuote, error) {
	return f.daily(securityID, start, end)
}

type fakeHeldLister struct {
	securities []string
	err        error
}

func (f *fakeHeldLister) HeldSecurities() ([]string, error) { return f.securities, f.err }

func TestSentimentSyncWritesHeldSecurities(t *testing.T) {
	store, cleanup := newStore(t)
	defer cleanup()

	provider := &fakeSentimentProvider{
		daily: func(securityID, start, end string) ([]domain.SentimentQuote, error) {
			return []domain.SentimentQuote{
				{SecurityID: securityID, Date: "2026-02-27", Score: 0.3, Articles: 4},
				{SecurityID: securityID, Date: "2026-03-02", Score: -0.2, Articles: 1},
			}, nil
		},
	}
	lister := &fakeHeldLister{securities: []string{"AAPL", "MSFT"}}

	sync := macro.NewSentimentSyncService(store, provider, lister, zerolog.Nop())
	require.NoError(t, sync.Sync(context.Background()))

	latest, err := store.LatestSentimentAtOrBefore("AAPL", "2026-03-02")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, -0.2, latest.Score)

	latest, err = store.LatestSentimentAtOrBefore("MSFT", "2026-02-28")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 0.3, latest.Score)
}

func TestSentimentSyncNoHoldingsIsNoop(t *testing.T) {
	store, cleanup := newStore(t)
	defer cleanup()

	provider := &fakeSentimentProvider{
		daily: func(securityID, start, end string) ([]domain.SentimentQuote, error) {
			t.Fatal("provider should not be called without holdings")
			return nil, nil
		},
	}

	sync := macro.NewSentimentSyncService(store, provider, &fakeHeldLister{}, zerolog.Nop())
	require.NoError(t, sync.Sync(context.Background()))
}

func TestSentimentSyncPartialFailureIsNotFatal(t *testing.T) {
	store, cleanup := newStore(t)
	defer cleanup()

	provider := &fakeSentimentProvider{
		daily: func(securityID, start, end string) ([]domain.SentimentQuote, error) {
			if securityID == "MSFT" {
				return nil, domain.Transient("alphavantage news sentiment", errors.New("quota"))
			}
			return []domain.SentimentQuote{
				{SecurityID: securityID, Date: "2026-03-02", Score: 0.1, Articles: 2},
			}, nil
		},
	}
	lister := &fakeHeldLister{securities: []string{"AAPL", "MSFT"}}

	sync := macro.NewSentimentSyncService(store, provider, lister, zerolog.Nop())
	require.NoError(t, sync.Sync(context.Background()))

	latest, err := store.LatestSentimentAtOrBefore("AAPL", "2026-03-02")
	require.NoError(t, err)
	assert.NotNil(t, latest)
}

func TestSentimentSyncTotalFailureReturnsError(t *testing.T) {
	store, cleanup := newStore(t)
	defer cleanup()

	provider := &fakeSentimentProvider{
		daily: func(securityID, start, end string) ([]domain.SentimentQuote, error) {
			return nil, domain.Transient("alphavantage news sentiment", errors.New("down"))
		},
	}
	lister := &fakeHeldLister{securities: []string{"AAPL"}}

	sync := macro.NewSentimentSyncService(store, provider, lister, zerolog.Nop())
	require.Error(t, sync.Sync(context.Background()))
}
