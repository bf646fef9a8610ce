package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv          string   `env:"APP_ENV" envDefault:"development"`
	APIAddr         string   `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN     string   `env:"POSTGRES_DSN"`
	RedisAddr       string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string   `env:"REDIS_PASSWORD"`
	BackendURL      string   `env:"BACKEND_URL,notEmpty" envDefault:"http://localhost:9470"`
	BackendTimeout  int      `env:"BACKEND_TIMEOUT_SEC" envDefault:"300"`
	LedgerBackend   string   `env:"LEDGER_BACKEND" envDefault:"memory"`
	StatusTTL       int      `env:"STATUS_TTL_SEC" envDefault:"900"`
	StaticDomains   []string `env:"STATIC_DOMAINS" envSeparator:","`
	SchedulerTickMS int      `env:"SCHEDULER_TICK_MS" envDefault:"1000"`
	Schedules       string   `env:"SCHEDULES"`
	MigrationsDir   string   `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func Parse() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SharedLedger reports whether jobs are visible across processes. The memory
// ledger only shows jobs started by the process that holds it.
func (c Config) SharedLedger() bool {
	return c.LedgerBackend == "postgres"
}

func (c Config) BackendTimeoutDuration() time.Duration {
	return time.Duration(c.BackendTimeout) * time.Second
}

func (c Config) StatusTTLDuration() time.Duration {
	return time.Duration(c.StatusTTL) * time.Second
}

func (c Config) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickMS) * time.Millisecond
}

// CronSchedules parses SCHEDULES ("op=cron;op=cron") into operation -> cron spec.
func (c Config) CronSchedules() map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(c.Schedules, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		op, spec, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(op)] = strings.TrimSpace(spec)
	}
	return out
}
