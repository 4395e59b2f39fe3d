package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 48*time.Hour, cfg.Auth.InviteTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, "taskflow-api", cfg.JWT.Issuer)
	assert.Equal(t, "@hourly", cfg.Workers.TokenPurgeSchedule)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8080
  environment: production
jwt:
  access_secret: file-access
  refresh_secret: file-refresh
  access_token_ttl: 5m
email:
  provider: smtp
  smtp:
    host: smtp.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("TASKFLOW_JWT_ACCESS_SECRET", "env-access")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Server.IsProduction())
	assert.Equal(t, "env-access", cfg.JWT.AccessSecret)
	assert.Equal(t, "file-refresh", cfg.JWT.RefreshSecret)
	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessTokenTTL)
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.JWT.AccessSecret = "a"
		cfg.JWT.RefreshSecret = "b"
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing secrets", func(t *testing.T) {
		cfg := base()
		cfg.JWT.RefreshSecret = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("shared secrets", func(t *testing.T) {
		cfg := base()
		cfg.JWT.RefreshSecret = cfg.JWT.AccessSecret
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "mysql"
		assert.Error(t, cfg.Validate())
	})

	t.Run("smtp without host", func(t *testing.T) {
		cfg := base()
		cfg.Email.Provider = "smtp"
		assert.Error(t, cfg.Validate())
	})
}
