package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(nil, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "payroll.db", cfg.DBPath)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 3, cfg.Lock.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Lock.BatchTTL)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Empty(t, cfg.Scheduler.OrgIDs)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	// GIVEN: env sets a port and the scheduler
	env := envMap(map[string]string{
		"PAYROLL_PORT":      "9000",
		"SCHEDULER_ENABLED": "true",
		"SCHEDULER_ORG_IDS": "1, 2,3",
		"LOG_FORMAT":        "console",
	})

	// WHEN: a flag also sets the port
	cfg, err := load([]string{"-port=9100", "-db=:memory:"}, env)

	// THEN: the flag wins, env fills the rest
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, []int64{1, 2, 3}, cfg.Scheduler.OrgIDs)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_MalformedEnvironment(t *testing.T) {
	_, err := load(nil, envMap(map[string]string{"LOCK_TTL": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCK_TTL")
}

func TestValidate(t *testing.T) {
	cfg, err := load(nil, envMap(nil))
	require.NoError(t, err)

	cfg.Port = 0
	cfg.Lock.TTL = 10 * time.Millisecond
	cfg.Lock.MaxRetries = -1
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
	assert.Contains(t, err.Error(), "TTL")
	assert.Contains(t, err.Error(), "retries")
}

func TestParseOrgIDs(t *testing.T) {
	ids, err := ParseOrgIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = ParseOrgIDs("1,abc")
	assert.Error(t, err)

	_, err = ParseOrgIDs("0")
	assert.Error(t, err)
}

func TestLoad_DemoExcludesUserService(t *testing.T) {
	cfg, err := load([]string{"-demo"}, envMap(nil))
	require.NoError(t, err)
	assert.True(t, cfg.Demo)

	_, err = load([]string{"-demo"}, envMap(map[string]string{"USER_SERVICE_URL": "http://users:8080"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "demo")
}
