package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tournament-wallet/internal/config"
)

func TestPoolConfigDefaults(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "wallet",
		Password: "secret",
		Name:     "tournament",
		PoolSize: 12,
	}

	pc, err := PoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(12), pc.MaxConns)
	assert.Equal(t, int32(3), pc.MinConns)
	assert.Equal(t, 10*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, pc.MaxConnIdleTime)
	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pc.ConnConfig.Port)
	assert.Equal(t, "tournament", pc.ConnConfig.Database)
}

func TestPoolConfigMinConnsFloor(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host: "localhost", Port: 5432, User: "u", Name: "n",
		PoolSize:        2,
		ConnectTimeout:  3 * time.Second,
		MaxConnIdleTime: time.Minute,
	}

	pc, err := PoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(1), pc.MinConns)
	assert.Equal(t, 3*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, time.Minute, pc.MaxConnIdleTime)
}
