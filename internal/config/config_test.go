package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DB_DRIVER", "DATABASE_URL", "SQLITE_PATH", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_MAX_CONN_LIFETIME", "DB_MAX_CONN_IDLE_TIME", "DB_HEALTH_CHECK_PERIOD", "LOG_LEVEL", "LOG_FORMAT", "UNDELETE_WINDOW"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DriverMemory, cfg.DBDriver)
	require.Equal(t, int32(10), cfg.DBMaxConns)
	require.Equal(t, 30*time.Minute, cfg.DBMaxConnLifetime)
	require.Equal(t, 5*time.Minute, cfg.DBMaxConnIdleTime)
	require.Equal(t, 30*time.Second, cfg.DBHealthCheckPeriod)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "pretty", cfg.LogFormat)
	require.Equal(t, time.Hour, cfg.UndeleteWindow)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "GORM-SQLITE")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("UNDELETE_WINDOW", "90m")
	t.Setenv("DB_MAX_CONNS", "not-a-number")
	t.Setenv("DB_MAX_CONN_LIFETIME", "2h")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DriverGormSQLite, cfg.DBDriver)
	require.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	require.Equal(t, 90*time.Minute, cfg.UndeleteWindow)
	require.Equal(t, int32(10), cfg.DBMaxConns)
	require.Equal(t, 2*time.Hour, cfg.DBMaxConnLifetime)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{DBDriver: DriverMemory, DBMaxConns: 4, DBMinConns: 1, LogFormat: "pretty", UndeleteWindow: time.Hour}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		err    string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.DBDriver = "mysql" }, err: "DB_DRIVER must be one of"},
		{name: "pgx needs url", mutate: func(c *Config) { c.DBDriver = DriverPgx }, err: "DATABASE_URL is required"},
		{name: "sqlite needs path", mutate: func(c *Config) { c.DBDriver = DriverGormSQLite }, err: "SQLITE_PATH cannot be empty"},
		{name: "max conns", mutate: func(c *Config) { c.DBMaxConns = 0 }, err: "DB_MAX_CONNS must be positive"},
		{name: "min conns", mutate: func(c *Config) { c.DBMinConns = 5 }, err: "DB_MIN_CONNS must be between"},
		{name: "pool durations", mutate: func(c *Config) { c.DBMaxConnIdleTime = -time.Minute }, err: "database pool durations cannot be negative"},
		{name: "log format", mutate: func(c *Config) { c.LogFormat = "xml" }, err: "LOG_FORMAT must be"},
		{name: "window", mutate: func(c *Config) { c.UndeleteWindow = -time.Second }, err: "UNDELETE_WINDOW cannot be negative"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.err)
		})
	}
}
