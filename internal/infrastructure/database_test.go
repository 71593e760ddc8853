package infrastructure

import (
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpsrecon.io/reconciliation/internal/config"
	"dpsrecon.io/reconciliation/internal/jobs"
)

func TestNewPoolConfig(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host: "db", Port: 5432, User: "recon", Password: "secret", Database: "recon",
		MaxConns: 12, MinConns: 3, MaxConnLifetime: time.Hour, MaxConnIdleTime: 5 * time.Minute,
	}

	pc, err := newPoolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(12), pc.MaxConns)
	assert.Equal(t, int32(3), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 5*time.Minute, pc.MaxConnIdleTime)
	assert.Equal(t, "db", pc.ConnConfig.Host)
	assert.Equal(t, "recon", pc.ConnConfig.Database)
	assert.NotNil(t, pc.AfterConnect)
}

func TestNewPoolConfig_InvalidDSN(t *testing.T) {
	_, err := newPoolConfig(config.DatabaseConfig{URL: "postgres://%zz"})
	assert.Error(t, err)
}

func TestRiverConfig(t *testing.T) {
	workers := river.NewWorkers()

	rc := RiverConfig(workers, config.RiverConfig{MaxWorkers: 4, MaxAttempts: 7, CompletedJobRetentionPeriod: time.Hour})
	assert.Equal(t, 4, rc.Queues[jobs.QueueEvents].MaxWorkers)
	assert.Equal(t, 1, rc.Queues[river.QueueDefault].MaxWorkers)
	assert.Equal(t, 7, rc.MaxAttempts)
	assert.Equal(t, time.Hour, rc.CompletedJobRetentionPeriod)
	assert.Same(t, workers, rc.Workers)

	rc = RiverConfig(workers, config.RiverConfig{})
	assert.Equal(t, 10, rc.Queues[jobs.QueueEvents].MaxWorkers)
	assert.Equal(t, jobs.DefaultMaxAttempts, rc.MaxAttempts)
}
