package app

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpsrecon.io/reconciliation/internal/config"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
	gin.SetMode(gin.TestMode)
}

func TestBootstrap_NoDB(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Host:     "localhost",
			Port:     65432, // Non-existent port
			User:     "test",
			Password: "test",
			Database: "test",
			SSLMode:  "disable",
			MaxConns: 5,
			MinConns: 1,
		},
		Reconciliation: config.ReconciliationConfig{TimeZone: "UTC", MatchWindow: 2 * time.Hour},
		PrisonAPI:      config.PrisonAPIConfig{BaseURL: "http://prison-api.local"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app, err := Bootstrap(ctx, cfg)
	require.Error(t, err, "Bootstrap should fail without database")
	assert.Nil(t, app)
}

func TestBootstrap_BadTimeZone(t *testing.T) {
	cfg := &config.Config{Reconciliation: config.ReconciliationConfig{TimeZone: "Nowhere/Land"}}

	app, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "time zone")
	assert.Nil(t, app)
}

func TestApplication_StartShutdown_Empty(t *testing.T) {
	app := &Application{}

	assert.NoError(t, app.Start(context.Background()))
	assert.NotPanics(t, func() {
		app.Shutdown()
	}, "Shutdown on empty Application should not panic")
}
