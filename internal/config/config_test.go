package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "be-spend-approvals", cfg.Service.Name)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "notifications.spend", cfg.NATS.SubjectPrefix)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", "/tmp/approvals.db")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("ROLE_DIRECTORY_DOMAIN", "example.org")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/approvals.db", cfg.Database.SQLitePath)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "example.org", cfg.Directory.Domain)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mongo")

	_, err := Load()
	assert.ErrorContains(t, err, "unsupported DB_DRIVER")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5433, Database: "x", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/x?sslmode=require", d.DSN())
}
