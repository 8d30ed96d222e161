package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure choices
	Tier Tier `json:"tier"`

	// Component configurations
	Store    StoreConfig    `json:"store"`
	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`

	// Detection pipeline settings
	Detection DetectionConfig `json:"detection"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// DetectionConfig holds the scoring pipeline settings.
type DetectionConfig struct {
	// ModelDir is the directory holding fitted model artifacts.
	ModelDir string `json:"modelDir"`

	// Canonical ensemble weighting. The isolation and density weights
	// must sum to 1.
	IsolationWeight float64 `json:"isolationWeight"`
	DensityWeight   float64 `json:"densityWeight"`

	// Training hyperparameters
	Contamination float64 `json:"contamination"`
	TreeCount     int     `json:"treeCount"`
	SampleSize    int     `json:"sampleSize"`
	Neighbors     int     `json:"neighbors"`
	Seed          int64   `json:"seed"`

	// AlertPolicy is an optional CEL expression gating alert creation
	// for CRITICAL/HIGH transactions. Empty means no extra filtering.
	AlertPolicy string `json:"alertPolicy,omitempty"`

	// DedupeOpenAlerts suppresses a new alert when the transaction
	// already has an OPEN one. Off by default: repeated detect calls for
	// the same transaction create duplicate alerts.
	DedupeOpenAlerts bool `json:"dedupeOpenAlerts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ScoreTTL:     time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			ModelDir:        "./models",
			IsolationWeight: 0.6,
			DensityWeight:   0.4,
			Contamination:   0.05,
			TreeCount:       100,
			SampleSize:      256,
			Neighbors:       20,
			Seed:            42,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Store = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		ScoreTTL:       time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
