// Package config loads server tunables from the environment. There is no
// config file parser: every default below has a matching FLEET_* env var
// and a hardcoded fallback, the same pattern main.go used before this was
// pulled out into its own package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env      string // "production" or "development" — selects the slog handler.
	HTTPAddr string

	StoreBackend string // "sqlite", "postgres", "memory"
	SQLitePath   string
	PostgresDSN  string
	RedisAddr    string

	JWTSecret string

	WorkerOutputBufferLines int
	WorkerRestartBudgetHour int
	WorkerSpawnTimeout      time.Duration
	WorkerSendTimeout       time.Duration
	WorkerGracefulDeadline  time.Duration

	SpawnQueueTick time.Duration
	WorkflowTick   time.Duration
	TriggerTick    time.Duration
	HealthTick     time.Duration
	JanitorTick    time.Duration

	EventBusQueueSize int

	WSWriteTimeout time.Duration
	WSPingInterval time.Duration
	WSReadTimeout  time.Duration

	WorkflowStuckTimeout time.Duration
	ShutdownGrace        time.Duration

	WorktreeRoot string
}

func Load() *Config {
	c := &Config{
		Env:      getEnv("FLEET_ENV", "development"),
		HTTPAddr: getEnv("FLEET_HTTP_ADDR", ":8080"),

		StoreBackend: getEnv("FLEET_STORE_BACKEND", "sqlite"),
		SQLitePath:   getEnv("FLEET_SQLITE_PATH", "fleet.db"),
		PostgresDSN:  getEnv("FLEET_POSTGRES_DSN", ""),
		RedisAddr:    getEnv("FLEET_REDIS_ADDR", "localhost:6379"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		WorkerOutputBufferLines: getEnvInt("FLEET_WORKER_OUTPUT_BUFFER_LINES", 4096),
		WorkerRestartBudgetHour: getEnvInt("FLEET_WORKER_RESTART_BUDGET_PER_HOUR", 3),
		WorkerSpawnTimeout:      getEnvDuration("FLEET_WORKER_SPAWN_TIMEOUT", 30*time.Second),
		WorkerSendTimeout:       getEnvDuration("FLEET_WORKER_SEND_TIMEOUT", 5*time.Second),
		WorkerGracefulDeadline:  getEnvDuration("FLEET_WORKER_GRACEFUL_DEADLINE", 10*time.Second),

		SpawnQueueTick: getEnvDuration("FLEET_SPAWN_QUEUE_TICK", 1*time.Second),
		WorkflowTick:   getEnvDuration("FLEET_WORKFLOW_TICK", 2*time.Second),
		TriggerTick:    getEnvDuration("FLEET_TRIGGER_TICK", 5*time.Second),
		HealthTick:     getEnvDuration("FLEET_WORKER_HEALTH_TICK", 10*time.Second),
		JanitorTick:    getEnvDuration("FLEET_JANITOR_TICK", 60*time.Second),

		EventBusQueueSize: getEnvInt("FLEET_EVENTBUS_QUEUE_SIZE", 256),

		WSWriteTimeout: getEnvDuration("FLEET_WS_WRITE_TIMEOUT", 10*time.Second),
		WSPingInterval: getEnvDuration("FLEET_WS_PING_INTERVAL", 30*time.Second),
		WSReadTimeout:  getEnvDuration("FLEET_WS_READ_TIMEOUT", 90*time.Second),

		WorkflowStuckTimeout: getEnvDuration("FLEET_WORKFLOW_STUCK_TIMEOUT", 30*time.Minute),
		ShutdownGrace:        getEnvDuration("FLEET_SHUTDOWN_GRACE", 15*time.Second),

		WorktreeRoot: getEnv("FLEET_WORKTREE_ROOT", ""),
	}
	return c
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
