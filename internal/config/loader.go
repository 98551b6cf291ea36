package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config captures environment driven configuration values for the classboard service.
type Config struct {
	HTTPPort int

	DBDriver string
	DBDSN    string

	// GapMinutes is the minimum turnaround between two events of a teacher.
	GapMinutes int
	// CascadeLocked is the default editing mode of adjustment sessions.
	CascadeLocked bool
	// FirstSlot is where the first event of an empty day is placed, as an
	// offset from local midnight.
	FirstSlot    time.Duration
	Timezone     *time.Location
	TeacherOrder []string
	CacheTTL     time.Duration
	// SessionTTL is the idle timeout of adjustment sessions; zero disables it.
	SessionTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AMQPURL       string

	// ResyncSchedule is a cron spec; empty disables periodic resyncs.
	ResyncSchedule string
}

// Load reads an optional .env file from the working directory and then parses
// configuration values from the process environment. Variables already present
// in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv parses configuration values from the current process environment.
//
// Defaults apply to unset keys; every malformed key is reported in one error.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPPort:       8080,
		DBDriver:       "sqlite",
		DBDSN:          "file:classboard.db?_pragma=foreign_keys(1)",
		CascadeLocked:  true,
		FirstSlot:      9 * time.Hour,
		Timezone:       time.UTC,
		CacheTTL:       30 * time.Second,
		SessionTTL:     30 * time.Minute,
		ResyncSchedule: "@every 5m",
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if portValue := env("CLASSBOARD_HTTP_PORT"); portValue != "" {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "CLASSBOARD_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if driver := strings.ToLower(env("CLASSBOARD_DB_DRIVER")); driver != "" {
		switch driver {
		case "sqlite", "mysql", "postgres":
			cfg.DBDriver = driver
		default:
			invalid = append(invalid, "CLASSBOARD_DB_DRIVER")
		}
	}

	if dsn := env("CLASSBOARD_DB_DSN"); dsn != "" {
		cfg.DBDSN = dsn
	} else if cfg.DBDriver != "sqlite" {
		missing = append(missing, "CLASSBOARD_DB_DSN")
	}

	if gapValue := env("CLASSBOARD_GAP_MINUTES"); gapValue != "" {
		gap, err := strconv.Atoi(gapValue)
		if err != nil || gap < 0 {
			invalid = append(invalid, "CLASSBOARD_GAP_MINUTES")
		} else {
			cfg.GapMinutes = gap
		}
	}

	if lockedValue := env("CLASSBOARD_CASCADE_LOCKED"); lockedValue != "" {
		locked, err := strconv.ParseBool(lockedValue)
		if err != nil {
			invalid = append(invalid, "CLASSBOARD_CASCADE_LOCKED")
		} else {
			cfg.CascadeLocked = locked
		}
	}

	if slotValue := env("CLASSBOARD_FIRST_SLOT"); slotValue != "" {
		slot, err := time.ParseDuration(slotValue)
		if err != nil || slot < 0 || slot >= 24*time.Hour {
			invalid = append(invalid, "CLASSBOARD_FIRST_SLOT")
		} else {
			cfg.FirstSlot = slot
		}
	}

	if tzValue := env("CLASSBOARD_TIMEZONE"); tzValue != "" {
		loc, err := time.LoadLocation(tzValue)
		if err != nil {
			invalid = append(invalid, "CLASSBOARD_TIMEZONE")
		} else {
			cfg.Timezone = loc
		}
	}

	if order := env("CLASSBOARD_TEACHER_ORDER"); order != "" {
		for _, id := range strings.Split(order, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.TeacherOrder = append(cfg.TeacherOrder, id)
			}
		}
	}

	if ttlValue := env("CLASSBOARD_CACHE_TTL"); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl < 0 {
			invalid = append(invalid, "CLASSBOARD_CACHE_TTL")
		} else {
			cfg.CacheTTL = ttl
		}
	}

	if ttlValue := env("CLASSBOARD_SESSION_TTL"); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl < 0 {
			invalid = append(invalid, "CLASSBOARD_SESSION_TTL")
		} else {
			cfg.SessionTTL = ttl
		}
	}

	cfg.RedisAddr = env("CLASSBOARD_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("CLASSBOARD_REDIS_PASSWORD")
	if dbValue := env("CLASSBOARD_REDIS_DB"); dbValue != "" {
		db, err := strconv.Atoi(dbValue)
		if err != nil || db < 0 {
			invalid = append(invalid, "CLASSBOARD_REDIS_DB")
		} else {
			cfg.RedisDB = db
		}
	}

	cfg.AMQPURL = env("CLASSBOARD_AMQP_URL")

	if spec, ok := os.LookupEnv("CLASSBOARD_RESYNC_SCHEDULE"); ok {
		cfg.ResyncSchedule = strings.TrimSpace(spec)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
