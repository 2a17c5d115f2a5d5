package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"agenthub/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Logger        LoggerConfig        `yaml:"logger"`
	Tracer        TracerConfig        `yaml:"tracer"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Audit         AuditConfig         `yaml:"audit"`
	Router        RouterConfig        `yaml:"router"`
	Governance    GovernanceConfig    `yaml:"governance"`
	Authorization AuthorizationConfig `yaml:"authorization"`
	Agents        AgentsConfig        `yaml:"agents"`
	Memory        MemoryConfig        `yaml:"memory"`
	Include       []string            `yaml:"include,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// GatewayConfig controls the observer gateway: a WebSocket event stream plus
// JSON status routes.
type GatewayConfig struct {
	Enabled        bool           `yaml:"enabled"`
	Addr           string         `yaml:"addr"`
	Tokens         []GatewayToken `yaml:"tokens,omitempty"`
	RequestsPerMin int            `yaml:"requests_per_min"`
	Burst          int            `yaml:"burst"`
	TrustedProxies []string       `yaml:"trusted_proxies,omitempty"`
}

// GatewayToken is one accepted gateway credential. Token may be "enc:" encrypted.
type GatewayToken struct {
	Token string   `yaml:"token"`
	Name  string   `yaml:"name"`
	Roles []string `yaml:"roles,omitempty"`
}

// AuditConfig controls the governance audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	MaxSize string `yaml:"max_size"` // e.g. "10MB"; empty disables rotation
}

// RouterConfig holds message router settings.
type RouterConfig struct {
	// StrictDelivery makes Publish report ErrDeliveryUnresolved instead of
	// silently dropping messages whose target is not live.
	StrictDelivery bool `yaml:"strict_delivery"`
	MentionRouting bool `yaml:"mention_routing"`
}

// GovernanceConfig holds the admission-control policy.
type GovernanceConfig struct {
	Enforce                 bool          `yaml:"enforce"`
	Plan                    string        `yaml:"plan"` // "free", "pro", "enterprise"
	Cooldown                time.Duration `yaml:"cooldown"`
	MaxTokensPerCycle       int           `yaml:"max_tokens_per_cycle"`
	CycleDuration           time.Duration `yaml:"cycle_duration"`
	MaxTurns                int           `yaml:"max_turns"`
	SimilarityThreshold     float64       `yaml:"similarity_threshold"`
	LoopDetectionWindow     int           `yaml:"loop_detection_window"`
	DecayFactor             float64       `yaml:"decay_factor"`
	MaxTrackedAgents        int           `yaml:"max_tracked_agents"`
	MaxTrackedConversations int           `yaml:"max_tracked_conversations"`
}

// AuthorizationConfig holds capability and hierarchy settings.
type AuthorizationConfig struct {
	// Enforce turns the capability, hierarchy and binding checks into hard
	// gates. When false every agent receives the broad capability grant.
	Enforce            bool                     `yaml:"enforce"`
	PromotionThreshold int                      `yaml:"promotion_threshold"`
	SendRate           float64                  `yaml:"send_rate"` // messages per second per agent, 0 = unlimited
	SendBurst          int                      `yaml:"send_burst"`
	Profiles           map[string]ProfileConfig `yaml:"profiles,omitempty"`
}

// ProfileConfig is the capability profile of one agent type.
type ProfileConfig struct {
	PrivilegeLevel string   `yaml:"privilege_level"`
	Capabilities   []string `yaml:"capabilities,omitempty"`
	SafeActions    []string `yaml:"safe_actions,omitempty"`
	CommandScope   []string `yaml:"command_scope,omitempty"`
}

// AgentsConfig holds agent unit defaults and the instances to spawn.
type AgentsConfig struct {
	MemoryLimit      int                      `yaml:"memory_limit"`
	AutonomyEnabled  bool                     `yaml:"autonomy_enabled"`
	AutonomyInterval time.Duration            `yaml:"autonomy_interval"`
	TalkingPulse     time.Duration            `yaml:"talking_pulse"`
	Instances        []domain.AgentDescriptor `yaml:"instances,omitempty"`
}

// MemoryConfig holds memory store and durable sink settings.
type MemoryConfig struct {
	Backend        string        `yaml:"backend"` // "none", "sqlite", "redis"
	ShortTermLimit int           `yaml:"short_term_limit"`
	SharedLogLimit int           `yaml:"shared_log_limit"`
	SQLitePath     string        `yaml:"sqlite_path"`
	Redis          RedisConfig   `yaml:"redis"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// RedisConfig holds the redis durable sink settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	MaxLen    int    `yaml:"max_len"`
}

// BreakerConfig configures the circuit breaker in front of the durable sink.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// defaultDataDir returns the persistent data directory under $HOME/.agenthub/data.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agenthub", "data")
}

// Defaults returns a Config with every field set to its default value.
func Defaults() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Gateway: GatewayConfig{
			Enabled:        false,
			Addr:           "127.0.0.1:8470",
			RequestsPerMin: 120,
			Burst:          20,
		},
		Audit: AuditConfig{
			Enabled: false,
			Path:    filepath.Join(defaultDataDir(), "audit.jsonl"),
			MaxSize: "10MB",
		},
		Router: RouterConfig{
			StrictDelivery: false,
			MentionRouting: true,
		},
		Governance: GovernanceConfig{
			Enforce:                 false,
			Plan:                    "enterprise",
			Cooldown:                0,
			MaxTokensPerCycle:       50000,
			CycleDuration:           5 * time.Minute,
			MaxTurns:                100,
			SimilarityThreshold:     0.85,
			LoopDetectionWindow:     4,
			DecayFactor:             0.2,
			MaxTrackedAgents:        1024,
			MaxTrackedConversations: 4096,
		},
		Authorization: AuthorizationConfig{
			Enforce:            false,
			PromotionThreshold: 10,
			SendRate:           0,
			SendBurst:          10,
		},
		Agents: AgentsConfig{
			MemoryLimit:      200,
			AutonomyEnabled:  true,
			AutonomyInterval: 5 * time.Second,
			TalkingPulse:     250 * time.Millisecond,
		},
		Memory: MemoryConfig{
			Backend:        "none",
			ShortTermLimit: 50,
			SharedLogLimit: 500,
			SQLitePath:     filepath.Join(defaultDataDir(), "memory.db"),
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "agenthub:memory",
				MaxLen:    1000,
			},
			Workers:   4,
			QueueSize: 256,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
	}
}

// Load reads the YAML config at path on top of Defaults. A missing file is
// not an error: defaults plus environment overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Included files are overlays; the main file is applied again on top.
	if len(cfg.Include) > 0 {
		seen := map[string]bool{absPath: true}
		if err := mergeIncludes(cfg, filepath.Dir(absPath), seen, 0); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		cfg.Include = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("AGENTHUB_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays AGENTHUB_* environment variables onto cfg.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTHUB_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTHUB_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTHUB_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTHUB_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("AGENTHUB_METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("AGENTHUB_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("AGENTHUB_GATEWAY_ENABLED"); v == "true" {
		cfg.Gateway.Enabled = true
	}
	if v := os.Getenv("AGENTHUB_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("AGENTHUB_AUDIT_ENABLED"); v == "true" {
		cfg.Audit.Enabled = true
	}
	if v := os.Getenv("AGENTHUB_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("AGENTHUB_ROUTER_STRICT_DELIVERY"); v == "true" {
		cfg.Router.StrictDelivery = true
	}
	if v := os.Getenv("AGENTHUB_GOVERNANCE_ENFORCE"); v != "" {
		cfg.Governance.Enforce = v == "true"
	}
	if v := os.Getenv("AGENTHUB_GOVERNANCE_PLAN"); v != "" {
		cfg.Governance.Plan = v
	}
	if v := os.Getenv("AGENTHUB_GOVERNANCE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Governance.Cooldown = d
		}
	}
	if v := os.Getenv("AGENTHUB_GOVERNANCE_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Governance.MaxTurns = n
		}
	}
	if v := os.Getenv("AGENTHUB_GOVERNANCE_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			cfg.Governance.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("AGENTHUB_AUTHORIZATION_ENFORCE"); v != "" {
		cfg.Authorization.Enforce = v == "true"
	}
	if v := os.Getenv("AGENTHUB_AGENTS_AUTONOMY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Agents.AutonomyInterval = d
		}
	}
	if v := os.Getenv("AGENTHUB_MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = v
	}
	if v := os.Getenv("AGENTHUB_MEMORY_SQLITE_PATH"); v != "" {
		cfg.Memory.SQLitePath = v
	}
	if v := os.Getenv("AGENTHUB_MEMORY_REDIS_ADDR"); v != "" {
		cfg.Memory.Redis.Addr = v
	}
	if v := os.Getenv("AGENTHUB_MEMORY_REDIS_PASSWORD"); v != "" {
		cfg.Memory.Redis.Password = v
	}
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
