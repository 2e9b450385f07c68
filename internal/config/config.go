package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Room      RoomConfig      `yaml:"room"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	Driver   string         `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

type RoomConfig struct {
	DefaultCapacity  int           `yaml:"default_capacity"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	NoteStaleness    time.Duration `yaml:"note_staleness"`
	NoteRetention    int           `yaml:"note_retention"`
	CompactInterval  time.Duration `yaml:"compact_interval"`
}

type RateLimitConfig struct {
	ChatMax       int           `yaml:"chat_max"`
	ChatWindow    time.Duration `yaml:"chat_window"`
	NoteMax       int           `yaml:"note_max"`
	NoteWindow    time.Duration `yaml:"note_window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	cfg, err := LoadPath(configPath)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// LoadPath reads the YAML file at configPath, overlays environment variables
// and fills every unset knob with its default.
func LoadPath(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, &loadError{msg: "config file does not exist: " + configPath}
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, &loadError{msg: "cannot read config: " + err.Error()}
	}

	cfg.setDefaults()

	return &cfg, nil
}

type loadError struct {
	msg string
}

func (e *loadError) Error() string { return e.msg }

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}

	if c.Room.DefaultCapacity <= 0 {
		c.Room.DefaultCapacity = 10
	}
	if c.Room.WatchdogInterval <= 0 {
		c.Room.WatchdogInterval = 30 * time.Second
	}
	if c.Room.NoteStaleness <= 0 {
		c.Room.NoteStaleness = 5 * time.Second
	}
	if c.Room.NoteRetention <= 0 {
		c.Room.NoteRetention = 50
	}
	if c.Room.CompactInterval <= 0 {
		c.Room.CompactInterval = 10 * time.Second
	}

	if c.RateLimit.ChatMax <= 0 {
		c.RateLimit.ChatMax = 30
	}
	if c.RateLimit.ChatWindow <= 0 {
		c.RateLimit.ChatWindow = time.Minute
	}
	if c.RateLimit.NoteMax <= 0 {
		c.RateLimit.NoteMax = 100
	}
	if c.RateLimit.NoteWindow <= 0 {
		c.RateLimit.NoteWindow = 10 * time.Second
	}
	if c.RateLimit.SweepInterval <= 0 {
		c.RateLimit.SweepInterval = 5 * time.Minute
	}
	if c.RateLimit.IdleTTL <= 0 {
		c.RateLimit.IdleTTL = 5 * time.Minute
	}
}
