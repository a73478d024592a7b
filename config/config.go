/*
Package config loads the payroll server configuration.

PRECEDENCE:
  command-line flag > environment variable > built-in default

FLAGS / ENVIRONMENT:
  -port                PAYROLL_PORT          HTTP port (8080)
  -db                  PAYROLL_DB            SQLite path, ":memory:" allowed (payroll.db)
  -redis-addr          REDIS_ADDR            lock + events backend (localhost:6379)
  -redis-password      REDIS_PASSWORD
  -redis-db            REDIS_DB              (0)
  -user-service-url    USER_SERVICE_URL      empty disables user validation
  -log-level           LOG_LEVEL             debug|info|warn|error (info)
  -log-format          LOG_FORMAT            json|console (json)
  -events-stream       EVENTS_STREAM         Redis Stream name (payroll:events)
  -scheduler           SCHEDULER_ENABLED     monthly batch scheduler (false)
  -scheduler-interval  SCHEDULER_INTERVAL    (1h)
  -scheduler-orgs      SCHEDULER_ORG_IDS     comma separated org ids
  -lock-ttl            LOCK_TTL              single-write lease (30s)
  -lock-retries        LOCK_MAX_RETRIES      (3)
  -lock-retry-delay    LOCK_RETRY_DELAY      (100ms)
  -batch-lock-ttl      BATCH_LOCK_TTL        batch lease (60s)
  -demo                PAYROLL_DEMO          in-memory directory + /api/scenarios (false)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Port   int
	DBPath string

	Redis RedisConfig

	UserServiceURL string

	LogLevel  string
	LogFormat string

	EventsStream string

	Scheduler SchedulerConfig
	Lock      LockConfig

	// Demo serves an in-memory user directory and the scenario loaders.
	Demo bool
}

// RedisConfig locates the lock and events backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
	OrgIDs   []int64
}

type LockConfig struct {
	TTL        time.Duration
	MaxRetries int
	RetryDelay time.Duration
	BatchTTL   time.Duration
}

// Load parses args (without the program name) over environment defaults.
func Load(args []string) (*Config, error) {
	return load(args, os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	env := envReader{getenv: getenv}
	fs := flag.NewFlagSet("payroll-server", flag.ContinueOnError)

	cfg := &Config{}
	fs.IntVar(&cfg.Port, "port", env.integer("PAYROLL_PORT", 8080), "HTTP server port")
	fs.StringVar(&cfg.DBPath, "db", env.str("PAYROLL_DB", "payroll.db"), "SQLite database path")
	fs.StringVar(&cfg.Redis.Addr, "redis-addr", env.str("REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.StringVar(&cfg.Redis.Password, "redis-password", env.str("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.Redis.DB, "redis-db", env.integer("REDIS_DB", 0), "Redis database number")
	fs.StringVar(&cfg.UserServiceURL, "user-service-url", env.str("USER_SERVICE_URL", ""), "User service base URL")
	fs.StringVar(&cfg.LogLevel, "log-level", env.str("LOG_LEVEL", "info"), "Log level")
	fs.StringVar(&cfg.LogFormat, "log-format", env.str("LOG_FORMAT", "json"), "Log format (json|console)")
	fs.StringVar(&cfg.EventsStream, "events-stream", env.str("EVENTS_STREAM", "payroll:events"), "Redis Stream for domain events")
	fs.BoolVar(&cfg.Scheduler.Enabled, "scheduler", env.boolean("SCHEDULER_ENABLED", false), "Enable the monthly batch scheduler")
	fs.DurationVar(&cfg.Scheduler.Interval, "scheduler-interval", env.duration("SCHEDULER_INTERVAL", time.Hour), "Scheduler check interval")
	orgs := fs.String("scheduler-orgs", env.str("SCHEDULER_ORG_IDS", ""), "Comma separated org ids for scheduled batches")
	fs.DurationVar(&cfg.Lock.TTL, "lock-ttl", env.duration("LOCK_TTL", 30*time.Second), "Lock lease for single writes")
	fs.IntVar(&cfg.Lock.MaxRetries, "lock-retries", env.integer("LOCK_MAX_RETRIES", 3), "Lock acquisition retries")
	fs.DurationVar(&cfg.Lock.RetryDelay, "lock-retry-delay", env.duration("LOCK_RETRY_DELAY", 100*time.Millisecond), "Delay between lock attempts")
	fs.DurationVar(&cfg.Lock.BatchTTL, "batch-lock-ttl", env.duration("BATCH_LOCK_TTL", 60*time.Second), "Lock lease for batches")
	fs.BoolVar(&cfg.Demo, "demo", env.boolean("PAYROLL_DEMO", false), "Serve demo scenarios over an in-memory user directory")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if env.err != nil {
		return nil, env.err
	}

	ids, err := ParseOrgIDs(*orgs)
	if err != nil {
		return nil, err
	}
	cfg.Scheduler.OrgIDs = ids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis address is required"))
	}
	if c.Lock.TTL < time.Second || c.Lock.BatchTTL < time.Second {
		errs = append(errs, errors.New("lock TTLs must be at least 1s"))
	}
	if c.Lock.MaxRetries < 0 {
		errs = append(errs, errors.New("lock retries must be >= 0"))
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler interval must be positive"))
	}
	if c.Demo && c.UserServiceURL != "" {
		errs = append(errs, errors.New("demo mode uses its own directory; unset user service url"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseOrgIDs parses "1, 2,3".
func ParseOrgIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid org id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// envReader records the first malformed variable instead of silently
// falling back to the default.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return d
}

func (e *envReader) fail(key, value string) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q", key, value)
	}
}
