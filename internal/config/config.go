package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Progression ProgressionConfig `yaml:"progression"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// OpTimeout bounds every cache call; on expiry reads fall back to the database.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ActivityTopic string        `yaml:"activity_topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
}

// ProgressionConfig holds the level curve and anti-automation thresholds
type ProgressionConfig struct {
	XPBase                int64         `yaml:"xp_base"`
	MaxLevel              int           `yaml:"max_level"`
	XPPerPoint            float64       `yaml:"xp_per_point"`
	StarsPerLevel         int64         `yaml:"stars_per_level"`
	MinSessionDuration    time.Duration `yaml:"min_session_duration"`
	PointsCeilingPerLevel int64         `yaml:"points_ceiling_per_level"`
	MaxGameLevel          int           `yaml:"max_game_level"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	KeyPrefix          string        `yaml:"key_prefix"`
	GlobalTTL          time.Duration `yaml:"global_ttl"`
	DailyTTL           time.Duration `yaml:"daily_ttl"`
	WeeklyTTL          time.Duration `yaml:"weekly_ttl"`
	DefaultPageSize    int           `yaml:"default_page_size"`
	MaxPageSize        int           `yaml:"max_page_size"`
	InvalidateOnSubmit bool          `yaml:"invalidate_on_submit"`
}

// SnapshotConfig holds the periodic snapshot worker configuration
type SnapshotConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	TopN     int           `yaml:"top_n"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the level curve cannot work with.
func (c *Config) Validate() error {
	if c.Progression.XPBase <= 0 {
		return fmt.Errorf("progression.xp_base must be positive, got %d", c.Progression.XPBase)
	}
	if c.Progression.MaxLevel < 1 {
		return fmt.Errorf("progression.max_level must be at least 1, got %d", c.Progression.MaxLevel)
	}
	// The floor one past the cap is reported as the next-level target, so it must fit in int64 too.
	if float64(c.Progression.XPBase)*math.Pow(1.5, float64(c.Progression.MaxLevel)) >= math.MaxInt64 {
		return fmt.Errorf("progression.max_level %d overflows the level curve for xp_base %d",
			c.Progression.MaxLevel, c.Progression.XPBase)
	}
	if c.Leaderboard.DefaultPageSize > c.Leaderboard.MaxPageSize {
		return fmt.Errorf("leaderboard.default_page_size %d exceeds max_page_size %d",
			c.Leaderboard.DefaultPageSize, c.Leaderboard.MaxPageSize)
	}
	return nil
}

// applyDefaults fills every unset field with its default
func (c *Config) applyDefaults() {
	c.Server.applyDefaults()
	c.Redis.applyDefaults()
	c.Postgres.applyDefaults()
	c.Kafka.applyDefaults()
	c.Progression.applyDefaults()
	c.Leaderboard.applyDefaults()
	c.Snapshot.applyDefaults()
}

func (s *ServerConfig) applyDefaults() {
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 5 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 120 * time.Second
	}
}

func (r *RedisConfig) applyDefaults() {
	if r.Addr == "" {
		r.Addr = "localhost:6379"
	}
	if r.PoolSize == 0 {
		r.PoolSize = 100
	}
	if r.MinIdleConns == 0 {
		r.MinIdleConns = 10
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = 5 * time.Second
	}
	if r.ReadTimeout == 0 {
		r.ReadTimeout = 3 * time.Second
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = 3 * time.Second
	}
	if r.OpTimeout == 0 {
		r.OpTimeout = 250 * time.Millisecond
	}
}

func (p *PostgresConfig) applyDefaults() {
	if p.Host == "" {
		p.Host = "localhost"
	}
	if p.Port == 0 {
		p.Port = 5432
	}
	if p.MaxConnections == 0 {
		p.MaxConnections = 50
	}
	if p.MinConnections == 0 {
		p.MinConnections = 5
	}
	if p.MaxConnLifetime == 0 {
		p.MaxConnLifetime = 1 * time.Hour
	}
	if p.MaxConnIdleTime == 0 {
		p.MaxConnIdleTime = 30 * time.Minute
	}
	if p.QueryTimeout == 0 {
		p.QueryTimeout = 5 * time.Second
	}
}

func (k *KafkaConfig) applyDefaults() {
	if len(k.Brokers) == 0 {
		k.Brokers = []string{"localhost:9092"}
	}
	if k.ActivityTopic == "" {
		k.ActivityTopic = "player-activity"
	}
	if k.GroupID == "" {
		k.GroupID = "leaderboard-invalidator"
	}
	if k.BatchSize == 0 {
		k.BatchSize = 100
	}
	if k.BatchTimeout == 0 {
		k.BatchTimeout = 2 * time.Second
	}
}

func (p *ProgressionConfig) applyDefaults() {
	if p.XPBase == 0 {
		p.XPBase = 1000
	}
	if p.MaxLevel == 0 {
		p.MaxLevel = 50
	}
	if p.XPPerPoint == 0 {
		p.XPPerPoint = 2
	}
	if p.StarsPerLevel == 0 {
		p.StarsPerLevel = 3
	}
	if p.MinSessionDuration == 0 {
		p.MinSessionDuration = 1 * time.Second
	}
	if p.PointsCeilingPerLevel == 0 {
		p.PointsCeilingPerLevel = 10000
	}
	if p.MaxGameLevel == 0 {
		p.MaxGameLevel = 50
	}
}

func (l *LeaderboardConfig) applyDefaults() {
	if l.KeyPrefix == "" {
		l.KeyPrefix = "leaderboard:"
	}
	if l.GlobalTTL == 0 {
		l.GlobalTTL = 300 * time.Second
	}
	if l.DailyTTL == 0 {
		l.DailyTTL = 60 * time.Second
	}
	if l.WeeklyTTL == 0 {
		l.WeeklyTTL = 300 * time.Second
	}
	if l.DefaultPageSize == 0 {
		l.DefaultPageSize = 20
	}
	if l.MaxPageSize == 0 {
		l.MaxPageSize = 100
	}
}

func (s *SnapshotConfig) applyDefaults() {
	if s.Interval == 0 {
		s.Interval = 1 * time.Hour
	}
	if s.TopN == 0 {
		s.TopN = 100
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Snapshot.Enabled = true
	return cfg
}
