package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type App struct {
	Env                    string `mapstructure:"env"`
	Port                   int    `mapstructure:"port"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	RateLimitPerMin        int    `mapstructure:"rate_limit_per_min"`
	SendLimitPerMin        int    `mapstructure:"send_limit_per_min"`
}

func (a *App) PortString() string { return fmt.Sprintf("%d", a.Port) }

func (a *App) Development() bool { return strings.EqualFold(a.Env, "development") }

type Store struct {
	Driver         string `mapstructure:"driver"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type Mongo struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type Firestore struct {
	ProjectID string `mapstructure:"project_id"`
}

type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type Kafka struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	TopicEffects string   `mapstructure:"topic_effects"`
	GroupID      string   `mapstructure:"group_id"`
}

type NATS struct {
	URL string `mapstructure:"url"`
}

type JWT struct {
	Alg           string `mapstructure:"alg"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	HSSecret      string `mapstructure:"hs_secret"`
}

type Auth struct {
	Provider string `mapstructure:"provider"`
}

type Identity struct {
	Provider        string `mapstructure:"provider"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

type S3 struct {
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	Endpoint   string `mapstructure:"endpoint"`
	PublicRead bool   `mapstructure:"public_read"`
}

type Chat struct {
	PageSize       int `mapstructure:"page_size"`
	MaxPageSize    int `mapstructure:"max_page_size"`
	TypingTTLMs    int `mapstructure:"typing_ttl_ms"`
	MaxGroupName   int `mapstructure:"max_group_name"`
	MaxImageBytes  int `mapstructure:"max_image_bytes"`
	AppliedIDsKeep int `mapstructure:"applied_ids_keep"`
}

type Retry struct {
	MaxAttempts       int `mapstructure:"max_attempts"`
	InitialIntervalMs int `mapstructure:"initial_interval_ms"`
	Workers           int `mapstructure:"workers"`
}

type Config struct {
	App       App       `mapstructure:"app"`
	Store     Store     `mapstructure:"store"`
	Mongo     Mongo     `mapstructure:"mongo"`
	Firestore Firestore `mapstructure:"firestore"`
	Redis     Redis     `mapstructure:"redis"`
	Kafka     Kafka     `mapstructure:"kafka"`
	NATS      NATS      `mapstructure:"nats"`
	JWT       JWT       `mapstructure:"jwt"`
	Auth      Auth      `mapstructure:"auth"`
	Identity  Identity  `mapstructure:"identity"`
	S3        S3        `mapstructure:"s3"`
	Chat      Chat      `mapstructure:"chat"`
	Retry     Retry     `mapstructure:"retry"`

	// Derived
	ShutdownTimeout time.Duration `mapstructure:"-"`
	StoreTimeout    time.Duration `mapstructure:"-"`
	TypingTTL       time.Duration `mapstructure:"-"`
	IdentityTTL     time.Duration `mapstructure:"-"`
	RetryInterval   time.Duration `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.shutdown_timeout_seconds", 10)
	v.SetDefault("app.rate_limit_per_min", 600)
	v.SetDefault("app.send_limit_per_min", 120)

	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.timeout_seconds", 5)
	v.SetDefault("mongo.database", "chatapp")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "chatsync")

	v.SetDefault("kafka.topic_effects", "message.effects")
	v.SetDefault("kafka.group_id", "chat-sync")

	v.SetDefault("jwt.alg", "RS256")
	v.SetDefault("auth.provider", "jwt")
	v.SetDefault("identity.provider", "store")
	v.SetDefault("identity.cache_ttl_seconds", 60)

	v.SetDefault("chat.page_size", 50)
	v.SetDefault("chat.max_page_size", 200)
	v.SetDefault("chat.typing_ttl_ms", 2000)
	v.SetDefault("chat.max_group_name", 50)
	v.SetDefault("chat.max_image_bytes", 10*1024*1024)
	v.SetDefault("chat.applied_ids_keep", 500)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval_ms", 100)
	v.SetDefault("retry.workers", 4)
}

// Load reads path (optional) and environment overrides such as MONGO_URI or
// REDIS_ADDR. An empty path falls back to CONFIG_PATH.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{"mongo.uri", "firestore.project_id", "redis.password", "kafka.brokers",
		"nats.url", "jwt.public_key_path", "jwt.hs_secret", "s3.region", "s3.bucket", "s3.endpoint", "s3.public_read"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	cfg.derive()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) derive() {
	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
	c.StoreTimeout = time.Duration(c.Store.TimeoutSeconds) * time.Second
	c.TypingTTL = time.Duration(c.Chat.TypingTTLMs) * time.Millisecond
	c.IdentityTTL = time.Duration(c.Identity.CacheTTLSeconds) * time.Second
	c.RetryInterval = time.Duration(c.Retry.InitialIntervalMs) * time.Millisecond
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 {
		return errors.New("app.port missing or invalid")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("store.timeout_seconds must be positive")
	}

	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("mongo.uri missing")
		}
		if c.Mongo.Database == "" {
			return errors.New("mongo.database missing")
		}
	case "firestore":
		if c.Firestore.ProjectID == "" {
			return errors.New("firestore.project_id missing")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store.driver %q (use mongo, firestore or memory)", c.Store.Driver)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers missing")
		}
		if c.Kafka.TopicEffects == "" {
			return errors.New("kafka.topic_effects missing")
		}
	}

	switch c.Auth.Provider {
	case "jwt":
		switch strings.ToUpper(c.JWT.Alg) {
		case "RS256":
			if c.JWT.PublicKeyPath == "" {
				return errors.New("jwt.public_key_path required for RS256")
			}
		case "HS256":
			if c.JWT.HSSecret == "" {
				return errors.New("jwt.hs_secret required for HS256")
			}
		default:
			return errors.New("invalid jwt.alg (use RS256 or HS256)")
		}
	case "firebase":
	default:
		return fmt.Errorf("invalid auth.provider %q (use jwt or firebase)", c.Auth.Provider)
	}

	switch c.Identity.Provider {
	case "store", "firebase":
	default:
		return fmt.Errorf("invalid identity.provider %q (use store or firebase)", c.Identity.Provider)
	}

	if c.Chat.PageSize <= 0 || c.Chat.PageSize > c.Chat.MaxPageSize {
		return errors.New("chat.page_size must be between 1 and chat.max_page_size")
	}
	if c.TypingTTL <= 0 {
		return errors.New("chat.typing_ttl_ms must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	return nil
}
