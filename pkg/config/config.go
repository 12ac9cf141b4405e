package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/flowsmith/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all flowsmith configuration. It is built once at startup and
// passed to constructors; nothing reads the environment after Load returns.
type Config struct {
	Listen     string               `yaml:"listen"`
	DBPath     string               `yaml:"db_path"`
	Log        LogConfig            `yaml:"log"`
	Providers  []ProviderConfig     `yaml:"providers"`
	Router     RouterConfig         `yaml:"router"`
	Embedding  EmbeddingConfig      `yaml:"embedding"`
	Cache      CacheConfig          `yaml:"cache"`
	Generation GenerationConfig     `yaml:"generation"`
	Complexity ComplexityConfig     `yaml:"complexity"`
	Selector   SelectorConfig       `yaml:"selector"`
	Dispatch   DispatchConfig       `yaml:"dispatch"`
	Tasks      TasksConfig          `yaml:"tasks"`
	Quotas     []models.QuotaPolicy `yaml:"quotas"`
	Audit      models.AuditConfig   `yaml:"audit"`
	Tracing    TracingConfig        `yaml:"tracing"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// RouterConfig maps capability tiers to ordered provider+model targets.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a tier name ("fast", "smart") to an ordered list of targets.
type RouteConfig struct {
	Tier    models.Tier   `yaml:"tier"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ProviderConfig defines an upstream OpenAI-compatible provider.
type ProviderConfig struct {
	Name              string        `yaml:"name"`
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	Type              string        `yaml:"type"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// EmbeddingConfig selects the embedding model used by the semantic cache tier.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// CacheConfig controls the two-tier result cache.
type CacheConfig struct {
	Enabled           bool           `yaml:"enabled"`
	SemanticEnabled   bool           `yaml:"semantic_enabled"`
	SemanticThreshold float64        `yaml:"semantic_threshold"`
	LookupTimeout     time.Duration  `yaml:"lookup_timeout"`
	VectorBackend     string         `yaml:"vector_backend"` // sqlite or weaviate
	Weaviate          WeaviateConfig `yaml:"weaviate"`
}

// WeaviateConfig locates the optional vector index.
type WeaviateConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
	Class  string `yaml:"class"`
}

// GenerationConfig bounds the retry loop.
type GenerationConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// ComplexityConfig holds the router's named weights and thresholds.
type ComplexityConfig struct {
	Weights        Weights       `yaml:"weights"`
	T1             float64       `yaml:"t1"`
	T2             float64       `yaml:"t2"`
	MaxScore       float64       `yaml:"max_score"`
	BorderlineBand float64       `yaml:"borderline_band"`
	RefineTimeout  time.Duration `yaml:"refine_timeout"`
}

// Weights are the per-signal contributions to the complexity score.
type Weights struct {
	Actor       float64 `yaml:"actor"`
	Gateway     float64 `yaml:"gateway"`
	Event       float64 `yaml:"event"`
	Timer       float64 `yaml:"timer"`
	Loop        float64 `yaml:"loop"`
	Swimlane    float64 `yaml:"swimlane"`
	Subprocess  float64 `yaml:"subprocess"`
	LengthPer1K float64 `yaml:"length_per_1k"`
}

// SelectorConfig drives the tier and temperature mapping.
type SelectorConfig struct {
	HighComplexityScore float64 `yaml:"high_complexity_score"`
	SmartTemperature    float32 `yaml:"smart_temperature"`
	FastTemperature     float32 `yaml:"fast_temperature"`
	SmartMaxTokens      int     `yaml:"smart_max_tokens"`
	FastMaxTokens       int     `yaml:"fast_max_tokens"`
}

// DispatchConfig describes the platform deadline and the latency model.
type DispatchConfig struct {
	Deadline        time.Duration `yaml:"deadline"`
	SafetyMargin    time.Duration `yaml:"safety_margin"`
	BaseLatency     time.Duration `yaml:"base_latency"`
	FastTokensPerS  float64       `yaml:"fast_tokens_per_second"`
	SmartTokensPerS float64       `yaml:"smart_tokens_per_second"`
	ActorPenalty    time.Duration `yaml:"actor_penalty"`
	GatewayPenalty  time.Duration `yaml:"gateway_penalty"`
	TimerPenalty    time.Duration `yaml:"timer_penalty"`
	RetryFactor     float64       `yaml:"retry_factor"`
	Workers         int           `yaml:"workers"`
}

// TasksConfig sizes the fire-and-forget side-effect queue.
type TasksConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "flowsmith.db",
		Log:    LogConfig{Level: "info", Format: "text"},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Cache: CacheConfig{
			Enabled:           true,
			SemanticEnabled:   false,
			SemanticThreshold: 0.9,
			LookupTimeout:     2 * time.Second,
			VectorBackend:     "sqlite",
			Weaviate: WeaviateConfig{
				Host:   "localhost:8080",
				Scheme: "http",
				Class:  "DiagramCache",
			},
		},
		Generation: GenerationConfig{
			MaxAttempts: 3,
			BaseBackoff: time.Second,
		},
		Complexity: ComplexityConfig{
			Weights: Weights{
				Actor:       0.5,
				Gateway:     0.6,
				Event:       0.2,
				Timer:       0.5,
				Loop:        0.5,
				Swimlane:    0.4,
				Subprocess:  0.8,
				LengthPer1K: 1.0,
			},
			T1:             4,
			T2:             7,
			MaxScore:       10,
			BorderlineBand: 0.5,
			RefineTimeout:  4 * time.Second,
		},
		Selector: SelectorConfig{
			HighComplexityScore: 5,
			SmartTemperature:    0.2,
			FastTemperature:     0.5,
			SmartMaxTokens:      16000,
			FastMaxTokens:       8000,
		},
		Dispatch: DispatchConfig{
			Deadline:        60 * time.Second,
			SafetyMargin:    15 * time.Second,
			BaseLatency:     3 * time.Second,
			FastTokensPerS:  90,
			SmartTokensPerS: 45,
			ActorPenalty:    500 * time.Millisecond,
			GatewayPenalty:  700 * time.Millisecond,
			TimerPenalty:    500 * time.Millisecond,
			RetryFactor:     1.3,
			Workers:         4,
		},
		Tasks: TasksConfig{
			Workers:   4,
			QueueSize: 256,
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "flowsmith-audit.db",
			RetentionDays: 30,
			RedactPII:     true,
			Include:       []string{"prompts", "documents"},
			MaxBodySize:   256 * 1024,
		},
		Tracing: TracingConfig{Exporter: "stdout"},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	var errs []error
	cx := c.Complexity
	if cx.T1 <= 0 || cx.T2 <= cx.T1 {
		errs = append(errs, fmt.Errorf("complexity thresholds must satisfy 0 < t1 < t2 (got %v, %v)", cx.T1, cx.T2))
	}
	if cx.MaxScore < cx.T2 {
		errs = append(errs, fmt.Errorf("complexity max_score %v below t2 %v", cx.MaxScore, cx.T2))
	}
	if c.Cache.SemanticThreshold <= 0 || c.Cache.SemanticThreshold > 1 {
		errs = append(errs, fmt.Errorf("cache semantic_threshold must be in (0,1], got %v", c.Cache.SemanticThreshold))
	}
	switch c.Cache.VectorBackend {
	case "", "sqlite", "weaviate":
	default:
		errs = append(errs, fmt.Errorf("unknown cache vector_backend %q", c.Cache.VectorBackend))
	}
	if c.Generation.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("generation max_attempts must be >= 1"))
	}
	if c.Dispatch.Deadline <= c.Dispatch.SafetyMargin {
		errs = append(errs, fmt.Errorf("dispatch deadline %v must exceed safety margin %v", c.Dispatch.Deadline, c.Dispatch.SafetyMargin))
	}
	for i, q := range c.Quotas {
		if q.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("quota %d: max_tokens must be > 0", i))
		}
		switch q.Period {
		case "", models.QuotaDaily, models.QuotaMonthly:
		default:
			errs = append(errs, fmt.Errorf("quota %d: unknown period %q", i, q.Period))
		}
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("provider with empty name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate provider %q", p.Name))
		}
		seen[p.Name] = true
		switch p.Type {
		case "", "openai", "azure":
		default:
			errs = append(errs, fmt.Errorf("provider %q: unsupported type %q", p.Name, p.Type))
		}
	}
	return errors.Join(errs...)
}

// SyncBudget is the time a synchronous request may spend before the platform
// deadline cuts it off.
func (c *Config) SyncBudget() time.Duration {
	return c.Dispatch.Deadline - c.Dispatch.SafetyMargin
}
