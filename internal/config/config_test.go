package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
scheduler:
  workers: 8
  claim_interval_ms: 250
  item_retries: 3
rate_limit:
  rps: 10
  burst: 20
  max_wait_seconds: 5
collectors:
  timeout_seconds: 20
  user_agent: verifier-test/1.0
  search_endpoint: http://localhost:9200/search
db:
  provider: postgres
  dsn: postgres://verifier@localhost/verifier
  max_conns: 16
redis:
  enabled: true
  addr: localhost:6380
  lock_ttl_seconds: 120
pubsub:
  project_id: zzp-scanner
  topic_name: outcomes
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 8, cfg.Scheduler.Workers)
	require.Equal(t, 250*time.Millisecond, cfg.ClaimInterval())
	require.Equal(t, 3, cfg.Scheduler.ItemRetries)
	require.Equal(t, float64(10), cfg.RateLimit.RPS)
	require.Equal(t, 5*time.Second, cfg.RateLimitMaxWait())
	require.Equal(t, 20*time.Second, cfg.ProbeTimeout())
	require.Equal(t, "http://localhost:9200/search", cfg.Collectors.SearchEndpoint)
	require.Equal(t, "postgres", cfg.DB.Provider)
	require.Equal(t, int32(16), cfg.DB.MaxConns)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, 2*time.Minute, cfg.LockTTL())
	require.Equal(t, "outcomes", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Scheduler.Workers)
	require.Equal(t, time.Second, cfg.ClaimInterval())
	require.Equal(t, "memory", cfg.DB.Provider)
	require.Equal(t, 15*time.Second, cfg.ProbeTimeout())
	require.Equal(t, time.Minute, cfg.LockTTL())
	require.Equal(t, "verification-outcomes", cfg.PubSub.TopicName)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"zero port":              func(c *Config) { c.Server.Port = 0 },
		"zero workers":           func(c *Config) { c.Scheduler.Workers = 0 },
		"negative item retries":  func(c *Config) { c.Scheduler.ItemRetries = -1 },
		"zero probe timeout":     func(c *Config) { c.Collectors.TimeoutSeconds = 0 },
		"postgres without dsn":   func(c *Config) { c.DB.Provider = "postgres"; c.DB.DSN = "" },
		"unknown db provider":    func(c *Config) { c.DB.Provider = "oracle" },
		"auth without api key":   func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load("")
			require.NoError(t, err)
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
