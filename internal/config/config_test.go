package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Database.TxRetries)
	assert.Equal(t, 15*time.Minute, cfg.Match.LeadWindow)
	assert.Equal(t, 80, cfg.Match.SoloCapacity)
	assert.Equal(t, 20, cfg.Match.TeamCapacity)
	assert.Equal(t, 24*time.Hour, cfg.Redis.IdempotencyTTL)
	assert.Equal(t, "TOURNAMENT_LEDGER", cfg.NATS.Stream)
	assert.True(t, cfg.Wallet.MinRecharge.Equal(decimal.NewFromInt(10)))
	assert.True(t, cfg.Wallet.MinWithdrawal.Equal(decimal.NewFromInt(50)))
	assert.False(t, cfg.Settlement.EnforcePrizePool)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
storage:
  driver: memory
wallet:
  min_recharge: "25.50"
match:
  solo_capacity: 100
telegram:
  admin_chat_ids: [1001, 1002]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("MATCH_LEAD_WINDOW", "30m")
	t.Setenv("AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Wallet.MinRecharge.Equal(decimal.RequireFromString("25.50")))
	assert.Equal(t, 100, cfg.Match.SoloCapacity)
	assert.Equal(t, []int64{1001, 1002}, cfg.Telegram.AdminChatIDs)
	assert.Equal(t, 30*time.Minute, cfg.Match.LeadWindow)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORAGE_DRIVER": "sqlite"}},
		{"zero capacity", map[string]string{"MATCH_TEAM_CAPACITY": "0"}},
		{"negative lead window", map[string]string{"MATCH_LEAD_WINDOW": "-1m"}},
		{"negative minimum", map[string]string{"WALLET_MIN_WITHDRAWAL": "-5"}},
		{"unparsable minimum", map[string]string{"WALLET_MIN_RECHARGE": "ten"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir())
			assert.Error(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "wallet"}
	assert.Equal(t, "postgres://u:p@db:5433/wallet?sslmode=disable", d.DSN())

	d.SSLMode = "require"
	assert.Equal(t, "postgres://u:p@db:5433/wallet?sslmode=require", d.DSN())
}
