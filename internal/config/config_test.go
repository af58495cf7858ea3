package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Timer.CountdownSeconds)
	assert.Equal(t, time.Second, cfg.Timer.Tick)
	assert.Equal(t, "court_queue_changes", cfg.Realtime.Channel)
	assert.Equal(t, 300*time.Millisecond, cfg.Realtime.GamesDebounce)
	assert.True(t, cfg.Engine.CancelOnCourtDeactivate)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", DriverMemory)
	t.Setenv("TIMER_COUNTDOWN_SECONDS", "3")
	t.Setenv("ENGINE_RECHECK_BACKOFF", "2s")
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Timer.CountdownSeconds)
	assert.Equal(t, 2*time.Second, cfg.Engine.RecheckBackoff)
	assert.Equal(t, "123:abc", cfg.Bot.Token)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestIsAdminAndWhitelist(t *testing.T) {
	cfg := &Config{Admin: AdminConfig{IDs: []int64{1, 2}}}
	assert.True(t, cfg.IsAdmin(2))
	assert.False(t, cfg.IsAdmin(3))

	assert.True(t, cfg.IsChatAllowed(-100), "empty whitelist allows every chat")
	cfg.Whitelist.Chats = []int64{-100}
	assert.True(t, cfg.IsChatAllowed(-100))
	assert.False(t, cfg.IsChatAllowed(-200))
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "courts"}
	assert.Equal(t, "postgres://u:p@db:5432/courts?sslmode=disable", d.DSN())
}
