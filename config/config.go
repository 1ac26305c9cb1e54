package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the tunable parameters of the recommendation pipeline.
// Zero values are replaced by defaults in Normalize.
type Config struct {
	// RetryBudget is the total number of generation attempts allowed per
	// session run before the pipeline fails.
	RetryBudget int

	// RelevanceFloor is the minimum cosine similarity a retrieved chunk
	// must reach to be included as evidence.
	RelevanceFloor float64

	// TopK caps the number of chunks returned per retrieval query.
	TopK int

	// MaxFeatureQueries caps how many per-feature retrieval queries the
	// agent issues on top of the primary query.
	MaxFeatureQueries int

	// GenerationTimeout bounds a single text-generation call.
	GenerationTimeout time.Duration

	// RetentionWindow is the number of verbatim turns kept in session
	// memory before older turns fold into the rolling summary.
	RetentionWindow int

	// IdleTimeout is how long a session may sit idle before the reaper
	// removes it.
	IdleTimeout time.Duration

	// ReapInterval is how often the reaper scans for idle sessions.
	ReapInterval time.Duration

	// WeightTolerance is the allowed deviation of factor weight sums
	// from 1.0 in risk assessments.
	WeightTolerance float64

	// RetrievalAttempts and RetrievalBackoff bound retries against the
	// vector backend before retrieval is declared unavailable.
	RetrievalAttempts int
	RetrievalBackoff  time.Duration

	// PromptTokenBudget caps the token count of assembled prompts.
	PromptTokenBudget int
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		RetryBudget:       3,
		RelevanceFloor:    0.25,
		TopK:              5,
		MaxFeatureQueries: 3,
		GenerationTimeout: 60 * time.Second,
		RetentionWindow:   10,
		IdleTimeout:       30 * time.Minute,
		ReapInterval:      time.Minute,
		WeightTolerance:   0.05,
		RetrievalAttempts: 3,
		RetrievalBackoff:  100 * time.Millisecond,
		PromptTokenBudget: 6000,
	}
}

// FromEnv builds a configuration from FLEETSENSE_* environment variables,
// falling back to defaults for anything unset.
func FromEnv() Config {
	cfg := Default()
	if v, ok := envInt("FLEETSENSE_RETRY_BUDGET"); ok {
		cfg.RetryBudget = v
	}
	if v, ok := envFloat("FLEETSENSE_RELEVANCE_FLOOR"); ok {
		cfg.RelevanceFloor = v
	}
	if v, ok := envInt("FLEETSENSE_TOP_K"); ok {
		cfg.TopK = v
	}
	if v, ok := envInt("FLEETSENSE_MAX_FEATURE_QUERIES"); ok {
		cfg.MaxFeatureQueries = v
	}
	if v, ok := envDuration("FLEETSENSE_GENERATION_TIMEOUT"); ok {
		cfg.GenerationTimeout = v
	}
	if v, ok := envInt("FLEETSENSE_RETENTION_WINDOW"); ok {
		cfg.RetentionWindow = v
	}
	if v, ok := envDuration("FLEETSENSE_IDLE_TIMEOUT"); ok {
		cfg.IdleTimeout = v
	}
	if v, ok := envDuration("FLEETSENSE_REAP_INTERVAL"); ok {
		cfg.ReapInterval = v
	}
	if v, ok := envInt("FLEETSENSE_PROMPT_TOKEN_BUDGET"); ok {
		cfg.PromptTokenBudget = v
	}
	return cfg
}

// Normalize fills zero fields with defaults and returns the result.
// RelevanceFloor and WeightTolerance are left alone: zero is a valid
// setting for both (no floor, exact weight sums), not an unset marker.
func (c Config) Normalize() Config {
	def := Default()
	if c.RetryBudget == 0 {
		c.RetryBudget = def.RetryBudget
	}
	if c.TopK == 0 {
		c.TopK = def.TopK
	}
	if c.MaxFeatureQueries == 0 {
		c.MaxFeatureQueries = def.MaxFeatureQueries
	}
	if c.GenerationTimeout == 0 {
		c.GenerationTimeout = def.GenerationTimeout
	}
	if c.RetentionWindow == 0 {
		c.RetentionWindow = def.RetentionWindow
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ReapInterval == 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.RetrievalAttempts == 0 {
		c.RetrievalAttempts = def.RetrievalAttempts
	}
	if c.RetrievalBackoff == 0 {
		c.RetrievalBackoff = def.RetrievalBackoff
	}
	if c.PromptTokenBudget == 0 {
		c.PromptTokenBudget = def.PromptTokenBudget
	}
	return c
}

// Validate rejects configurations that would break pipeline invariants.
func (c Config) Validate() error {
	if c.RetryBudget < 1 {
		return fmt.Errorf("config: retry budget must be >= 1, got %d", c.RetryBudget)
	}
	if c.TopK < 1 {
		return fmt.Errorf("config: top-k must be >= 1, got %d", c.TopK)
	}
	if c.RelevanceFloor < 0 || c.RelevanceFloor > 1 {
		return fmt.Errorf("config: relevance floor must be in [0,1], got %v", c.RelevanceFloor)
	}
	if c.RetentionWindow < 1 {
		return fmt.Errorf("config: retention window must be >= 1, got %d", c.RetentionWindow)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("config: idle timeout must be positive, got %v", c.IdleTimeout)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("config: generation timeout must be positive, got %v", c.GenerationTimeout)
	}
	return nil
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
