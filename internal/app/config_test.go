package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "taskflow", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 64, cfg.Realtime.SendBuffer)
	require.True(t, cfg.Realtime.ReconcileEnabled)
	require.Equal(t, "@every 5m", cfg.Realtime.ReconcileSchedule)
	require.Equal(t, 24*time.Hour, cfg.Realtime.ReconcileLookback)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, cfg.Monitoring.Health.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	contents := `
server:
  port: 9090
  log_level: debug
auth:
  jwt:
    secret: super-secret
    access_token_ttl: 15m
realtime:
  send_buffer: 128
  reconcile_enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "super-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 128, cfg.Realtime.SendBuffer)
	require.False(t, cfg.Realtime.ReconcileEnabled)

	// Unset keys keep their defaults.
	require.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("TASKFLOW_SERVER_PORT", "7001")
	t.Setenv("TASKFLOW_AUTH_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7001, cfg.Server.Port)
	require.Equal(t, "env-secret", cfg.Auth.JWT.Secret)
}

func TestValidateRequiresJWTSecret(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth.jwt.secret")

	cfg.Auth.JWT.Secret = "configured"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "configured"

	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg.Server.Port = 70000
	require.Error(t, cfg.Validate())
}

func TestDatabaseOpenConfigSQLiteDefault(t *testing.T) {
	cfg := DatabaseConfig{Path: " ./data/app.sqlite "}
	open := cfg.DatabaseOpenConfig()
	require.Equal(t, "sqlite", open.Driver)
	require.Equal(t, "./data/app.sqlite", open.Path)
}

func TestDatabaseOpenConfigPostgres(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "PostgreSQL",
		Postgres: DBAuthConfig{
			Host:     "db.internal",
			Port:     5432,
			Database: "taskflow",
			Username: "svc",
			Password: "pw",
		},
	}
	open := cfg.DatabaseOpenConfig()
	require.Equal(t, "postgres", open.Driver)
	require.Equal(t, "db.internal", open.Host)
	require.Equal(t, 5432, open.Port)
	require.Equal(t, "taskflow", open.Name)
	require.Equal(t, "svc", open.User)
	require.Equal(t, "pw", open.Password)
}

func TestDatabaseOpenConfigMySQL(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "mysql",
		MySQL: DBAuthConfig{
			Host:     "mysql.internal",
			Port:     3306,
			Database: "taskflow",
			Username: "svc",
			Password: "pw",
		},
	}
	open := cfg.DatabaseOpenConfig()
	require.Equal(t, "mysql", open.Driver)
	require.Equal(t, "mysql.internal", open.Host)
	require.Equal(t, 3306, open.Port)
}

func TestJWTServiceConfigTrims(t *testing.T) {
	cfg := AuthConfig{JWT: JWTSettings{
		Secret: "  secret  ",
		Issuer: " taskflow ",
		TTL:    time.Minute,
	}}
	svcCfg := cfg.JWTServiceConfig()
	require.Equal(t, "secret", svcCfg.Secret)
	require.Equal(t, "taskflow", svcCfg.Issuer)
	require.Equal(t, time.Minute, svcCfg.AccessTokenTTL)
}
