package di

import (
	"testing"

	"github.com/aristath/meridian/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeRepositories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := &config.Config{DataDir: tmpDir}
	log := zerolog.Nop()

	// Initialize databases first
	container, err := InitializeDatabases(cfg, log)
	require.NoError(t, err)
	require.NotNil(t, container)
	t.Cleanup(container.Close)

	// Initialize repositories
	err = InitializeRepositories(container, log)
	require.NoError(t, err)

	// Verify all repositories are created
	assert.NotNil(t, container.PackRepo)
	assert.NotNil(t, container.PortfolioRepo)
	assert.NotNil(t, container.LedgerRepo)
	assert.NotNil(t, container.MetricsRepo)
	assert.NotNil(t, container.FactorsRepo)
	assert.NotNil(t, container.FactorsCache)
	assert.NotNil(t, container.RatingsRepo)
	assert.NotNil(t, container.AlertRepo)
	assert.NotNil(t, container.ReportRepo)
	assert.NotNil(t, container.MacroStore)
}

func TestInitializeRepositories_NilContainer(t *testing.T) {
	err := InitializeRepositories(nil, zerolog.Nop())
	require.Error(t, err)
}
