package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port      string `env:"PORT,      default=8080"`
	Env       string `env:"ENV,       default=development"`
	LogLevel  string `env:"LOG_LEVEL, default=info"`
	JWTSecret string `env:"OPERATOR_JWT_SECRET"`

	Store    StoreConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Rotation RotationConfig
	Reaper   ReaperConfig
}

type StoreConfig struct {
	Driver        string `env:"STORE_DRIVER,  default=mongo"`
	MongoURI      string `env:"MONGO_URI,     default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DB,      default=fleet_gateway"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	// Timeout bounds each durable write issued on behalf of a message.
	Timeout time.Duration `env:"STORE_TIMEOUT, default=5s"`
}

type RedisConfig struct {
	Enabled bool   `env:"REDIS_ENABLED,       default=false"`
	Addr    string `env:"REDIS_ADDR,          default=localhost:6379"`
	DB      int    `env:"REDIS_DB,            default=0"`
	Channel string `env:"REDIS_RELAY_CHANNEL, default=fleet:worker-commands"`
}

type GatewayConfig struct {
	AuthTimeout     time.Duration `env:"AUTH_TIMEOUT,      default=10s"`
	TouchInterval   time.Duration `env:"TOUCH_INTERVAL,    default=1m"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES, default=65536"`
	MaxBatchSize    int           `env:"MAX_BATCH_SIZE,    default=500"`
	Mailbox         int           `env:"ACTOR_MAILBOX,     default=16"`
	BcryptCost      int           `env:"BCRYPT_COST,       default=10"`
}

type RotationConfig struct {
	Validity   time.Duration `env:"TOKEN_VALIDITY,      default=2160h"`
	Threshold  time.Duration `env:"RENEWAL_THRESHOLD,   default=168h"`
	AckTimeout time.Duration `env:"RENEWAL_ACK_TIMEOUT, default=24h"`
}

type ReaperConfig struct {
	Enabled    bool          `env:"REAPER_ENABLED,  default=true"`
	Interval   time.Duration `env:"REAPER_INTERVAL, default=1m"`
	StaleAfter time.Duration `env:"STALE_AFTER,     default=5m"`
}

// IsProduction reports whether pretty console logging should be off.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: failed to load configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "mongo", "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Rotation.Threshold >= c.Rotation.Validity {
		return fmt.Errorf("config: RENEWAL_THRESHOLD must be shorter than TOKEN_VALIDITY")
	}
	if c.Reaper.StaleAfter <= c.Gateway.TouchInterval {
		return fmt.Errorf("config: STALE_AFTER must exceed TOUCH_INTERVAL")
	}
	return nil
}
