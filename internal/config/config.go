package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sync store backends
const (
	BackendRedis    = "redis"
	BackendMQTT     = "mqtt"
	BackendPostgres = "postgres"
)

// ErrInvalidSettings is wrapped by every ValidateSettings failure
var ErrInvalidSettings = errors.New("invalid settings")

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig       `yaml:"server"`
	Log      LogConfig          `yaml:"log"`
	Local    LocalConfig        `yaml:"local"`
	Identity IdentityConfig     `yaml:"identity"`
	Sync     SyncConfig         `yaml:"sync"`
	Geocoder GeocoderConfig     `yaml:"geocoder"`
	Position PositionConfig     `yaml:"position"`
	App      models.AppSettings `yaml:"app"`
}

// ServerConfig holds the local dashboard server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	// AllowedOrigins lists browser origins besides the dashboard itself
	// that may call the API and open the WebSocket
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// LocalConfig holds the device-local state database configuration
type LocalConfig struct {
	Path string `yaml:"path"`
}

// IdentityConfig holds identity provider configuration
type IdentityConfig struct {
	APIKey        string        `yaml:"api_key"`
	Endpoint      string        `yaml:"endpoint"`
	TokenEndpoint string        `yaml:"token_endpoint"`
	Timeout       time.Duration `yaml:"timeout"`
}

// SyncConfig holds shared store configuration
type SyncConfig struct {
	Backend  string         `yaml:"backend"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig holds redis backend configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// MQTTConfig holds mqtt backend configuration
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// PostgresConfig holds postgres backend configuration
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// GeocoderConfig holds place-name resolver configuration
type GeocoderConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PositionConfig selects the device position source
type PositionConfig struct {
	// Source is "browser" (fixes pushed by the dashboard) or "static"
	Source   string        `yaml:"source"`
	Lat      float64       `yaml:"lat"`
	Lon      float64       `yaml:"lon"`
	Accuracy float64       `yaml:"accuracy"`
	Interval time.Duration `yaml:"interval"`
}

// Load reads configuration from a YAML file, applies secrets from the
// environment (optionally a .env file next to the process) and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("IDENTITY_API_KEY"); v != "" {
		c.Identity.APIKey = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Sync.Redis.Password = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.Sync.MQTT.Password = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Sync.Postgres.DSN = v
	}
}

// Validate fills defaults and checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Local.Path == "" {
		c.Local.Path = "distance.db"
	}

	if c.Identity.Endpoint == "" {
		c.Identity.Endpoint = "https://identitytoolkit.googleapis.com/v1"
	}
	if c.Identity.TokenEndpoint == "" {
		c.Identity.TokenEndpoint = "https://securetoken.googleapis.com/v1"
	}
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 15 * time.Second
	}
	if c.Identity.APIKey == "" {
		return fmt.Errorf("identity.api_key is required")
	}

	switch c.Sync.Backend {
	case "":
		c.Sync.Backend = BackendRedis
	case BackendRedis, BackendMQTT, BackendPostgres:
	default:
		return fmt.Errorf("unknown sync backend %q", c.Sync.Backend)
	}
	if c.Sync.Backend == BackendRedis && c.Sync.Redis.Addr == "" {
		return fmt.Errorf("sync.redis.addr is required")
	}
	if c.Sync.Redis.PingInterval == 0 {
		c.Sync.Redis.PingInterval = 5 * time.Second
	}
	if c.Sync.Backend == BackendMQTT && c.Sync.MQTT.Broker == "" {
		return fmt.Errorf("sync.mqtt.broker is required")
	}
	if c.Sync.MQTT.QoS > 2 {
		return fmt.Errorf("sync.mqtt.qos must be 0, 1 or 2")
	}
	if c.Sync.Backend == BackendPostgres && c.Sync.Postgres.DSN == "" {
		return fmt.Errorf("sync.postgres.dsn is required")
	}

	if c.Geocoder.Endpoint == "" {
		c.Geocoder.Endpoint = "https://nominatim.openstreetmap.org"
	}
	if c.Geocoder.UserAgent == "" {
		c.Geocoder.UserAgent = "distance-tracker/1.0"
	}
	if c.Geocoder.Timeout == 0 {
		c.Geocoder.Timeout = 10 * time.Second
	}

	switch c.Position.Source {
	case "":
		c.Position.Source = "browser"
	case "browser", "static":
	default:
		return fmt.Errorf("unknown position source %q", c.Position.Source)
	}
	if c.Position.Interval == 0 {
		c.Position.Interval = time.Minute
	}

	c.App = NormalizeSettings(c.App)
	if err := ValidateSettings(c.App); err != nil {
		return fmt.Errorf("invalid app defaults: %w", err)
	}
	return nil
}

// NormalizeSettings applies the defaults used by the settings form
func NormalizeSettings(s models.AppSettings) models.AppSettings {
	if s.Person1Name == "" {
		s.Person1Name = "Person 1"
	}
	if s.Person2Name == "" {
		s.Person2Name = "Person 2"
	}
	if s.CoupleID == "" {
		s.CoupleID = "default-couple"
	}
	if s.WhoAmI == "" {
		s.WhoAmI = models.SlotA
	}
	return s
}

// ValidateSettings checks user-supplied settings after normalization
func ValidateSettings(s models.AppSettings) error {
	if strings.ContainsAny(s.CoupleID, "/+#") {
		return fmt.Errorf("%w: coupleId must not contain '/', '+' or '#'", ErrInvalidSettings)
	}
	if !s.WhoAmI.Valid() {
		return fmt.Errorf("%w: whoAmI must be %q or %q", ErrInvalidSettings, models.SlotA, models.SlotB)
	}
	for _, d := range []string{s.RelationshipStart, s.NextMeetDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidSettings, d)
		}
	}
	return nil
}
