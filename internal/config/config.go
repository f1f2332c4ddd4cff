// Package config loads the process-wide bot configuration from the
// environment. Values are read once at startup; there is no hot reload.
package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	BotToken string `env:"BOT_TOKEN" env-required:"true"`

	AdminIDs []int64 `env:"ADMIN_IDS" env-separator:","`

	HouseID    string `env:"HOUSE_ID" env-default:"house1"`
	AuthMode   string `env:"AUTH_MODE" env-default:"code"` // code | phone
	AccessDays int    `env:"ACCESS_DAYS" env-default:"30"`

	DBPath     string `env:"DB_PATH" env-default:"./house-bots.db"`
	ContentDir string `env:"CONTENT_DIR" env-default:"./content"`

	ConciergeMinInterval time.Duration `env:"CONCIERGE_MIN_INTERVAL" env-default:"2s"`
	ConciergeWindow      time.Duration `env:"CONCIERGE_WINDOW" env-default:"60s"`
	ConciergeMaxPerWin   int           `env:"CONCIERGE_MAX_PER_WINDOW" env-default:"20"`

	MaxMediaBytes int64         `env:"MAX_MEDIA_BYTES" env-default:"20971520"`
	SessionTTL    time.Duration `env:"SESSION_TTL" env-default:"24h"`
}

// IsAdmin reports whether the given telegram user id is in the admin set.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// MustLoad reads .env (if present) and the environment. A missing bot token
// is the only fatal startup condition.
func MustLoad() *Config {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}
