// Package config loads forge.yaml and applies FORGE_* environment overrides.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/forge/internal/logging"
	"github.com/aretw0/forge/pkg/critic"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no explicit config file is given.
const DefaultPath = "forge.yaml"

// MaxNoSourceScore caps the grounding score given to output that cannot be verified.
const MaxNoSourceScore = 30

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// StoreConfig selects where workflow state, memory tiers and results live.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`

	// EncryptionKey is a base64 AES-256 key sealing workflow checkpoints at rest.
	EncryptionKey string   `yaml:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys"`
	// RedactKeys are regular expressions over blackboard keys masked before checkpointing.
	RedactKeys []string `yaml:"redact_keys"`
}

// Keys decodes the active and fallback encryption keys. The active key is nil
// when encryption is off.
func (s StoreConfig) Keys() (active []byte, fallback [][]byte, err error) {
	if s.EncryptionKey == "" {
		return nil, nil, nil
	}
	decode := func(field, v string) ([]byte, error) {
		k, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		if len(k) != 32 {
			return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", field, len(k))
		}
		return k, nil
	}
	if active, err = decode("store.encryption_key", s.EncryptionKey); err != nil {
		return nil, nil, err
	}
	for i, v := range s.FallbackKeys {
		k, err := decode(fmt.Sprintf("store.fallback_keys[%d]", i), v)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, k)
	}
	return active, fallback, nil
}

// BackendConfig describes one OpenAI-compatible text generation backend.
type BackendConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	// PlainText disables the json_object response format for servers without it.
	PlainText   bool          `yaml:"plain_text"`
	Timeout     time.Duration `yaml:"timeout"`
}

// APIKey reads the backend key from its environment variable.
func (b BackendConfig) APIKey() string {
	if b.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(b.APIKeyEnv)
}

type WorkflowConfig struct {
	Budget         time.Duration `yaml:"budget"`
	AbortOnTimeout bool          `yaml:"abort_on_timeout"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	ReviewMean     float64       `yaml:"review_mean"`
	ReviewSpread   int           `yaml:"review_spread"`
}

// CriticConfig overrides the critic loop. Each policy row is decoded over the
// built-in row of the same agent, so unset fields keep their defaults.
type CriticConfig struct {
	Thresholds critic.Thresholds        `yaml:"thresholds"`
	Retrieval  critic.Retrieval         `yaml:"retrieval"`
	Policies   map[string]critic.Config `yaml:"policies"`
}

func (c *CriticConfig) UnmarshalYAML(n *yaml.Node) error {
	raw := struct {
		Thresholds critic.Thresholds    `yaml:"thresholds"`
		Retrieval  critic.Retrieval     `yaml:"retrieval"`
		Policies   map[string]yaml.Node `yaml:"policies"`
	}{Thresholds: c.Thresholds, Retrieval: c.Retrieval}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	c.Thresholds, c.Retrieval = raw.Thresholds, raw.Retrieval
	if len(raw.Policies) > 0 && c.Policies == nil {
		c.Policies = make(map[string]critic.Config, len(raw.Policies))
	}
	for name, node := range raw.Policies {
		row, ok := c.Policies[name]
		if !ok {
			row = policyDefault(name)
		}
		if err := node.Decode(&row); err != nil {
			return fmt.Errorf("critic.policies.%s: %w", name, err)
		}
		c.Policies[name] = row
	}
	return nil
}

// policyDefault returns the built-in critic row for agentName.
func policyDefault(agentName string) critic.Config {
	if row, ok := critic.Policies[agentName]; ok {
		return row
	}
	return critic.DefaultConfig
}

type TelemetryConfig struct {
	ServiceName string            `yaml:"service_name"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
}

// Config is the full forge configuration.
type Config struct {
	Log            LogConfig       `yaml:"log"`
	Store          StoreConfig     `yaml:"store"`
	Backends       []BackendConfig `yaml:"backends"`
	DefaultBackend string          `yaml:"default_backend"`
	Reviewers      []string        `yaml:"reviewers"`
	Workflow       WorkflowConfig  `yaml:"workflow"`
	Critic         CriticConfig    `yaml:"critic"`
	CorpusDir      string          `yaml:"corpus_dir"`
	ServerAddr     string          `yaml:"server_addr"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Driver: DriverMemory, Path: ".forge", Redis: RedisConfig{Addr: "localhost:6379", Prefix: "forge:"}},
		Workflow: WorkflowConfig{
			Budget:       20 * time.Minute,
			LockTTL:      30 * time.Minute,
			ReviewMean:   85,
			ReviewSpread: 15,
		},
		Critic: CriticConfig{
			Thresholds: critic.DefaultThresholds(),
			Retrieval:  critic.DefaultRetrieval(),
		},
		CorpusDir:  ".forge/corpus",
		ServerAddr: ":8080",
		Telemetry:  TelemetryConfig{ServiceName: "forge"},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
// A missing file at DefaultPath is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"FORGE_LOG_LEVEL":       &c.Log.Level,
		"FORGE_LOG_FORMAT":      &c.Log.Format,
		"FORGE_STORE_DRIVER":    &c.Store.Driver,
		"FORGE_STORE_PATH":      &c.Store.Path,
		"FORGE_REDIS_ADDR":      &c.Store.Redis.Addr,
		"FORGE_REDIS_PASSWORD":  &c.Store.Redis.Password,
		"FORGE_ENCRYPTION_KEY":  &c.Store.EncryptionKey,
		"FORGE_SERVER_ADDR":     &c.ServerAddr,
		"FORGE_CORPUS_DIR":      &c.CorpusDir,
		"FORGE_DEFAULT_BACKEND": &c.DefaultBackend,
		"FORGE_OTLP_ENDPOINT":   &c.Telemetry.Endpoint,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("FORGE_WORKFLOW_BUDGET"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FORGE_WORKFLOW_BUDGET: %w", err)
		}
		c.Workflow.Budget = d
	}
	if v, ok := lookup("FORGE_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FORGE_REDIS_DB: %w", err)
		}
		c.Store.Redis.DB = n
	}
	// A single backend can be configured from the environment alone.
	if v, ok := lookup("FORGE_LLM_BASE_URL"); ok && len(c.Backends) == 0 {
		model, _ := lookup("FORGE_LLM_MODEL")
		c.Backends = append(c.Backends, BackendConfig{Name: "default", BaseURL: v, Model: model, APIKeyEnv: "FORGE_LLM_API_KEY"})
	}
	return nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch c.Store.Driver {
	case DriverMemory, DriverFile:
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if _, _, err := c.Store.Keys(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.Store.RedactKeys {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("store.redact_keys: %w", err))
		}
	}

	names := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("backends[%d]: name is required", i))
		}
		if names[b.Name] {
			errs = append(errs, fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name))
		}
		names[b.Name] = true
		if b.BaseURL == "" {
			errs = append(errs, fmt.Errorf("backends[%d]: base_url is required", i))
		}
	}
	if c.DefaultBackend != "" && !names[c.DefaultBackend] {
		errs = append(errs, fmt.Errorf("default_backend %q is not configured", c.DefaultBackend))
	}
	for _, r := range c.Reviewers {
		if !names[r] {
			errs = append(errs, fmt.Errorf("reviewer %q is not a configured backend", r))
		}
	}

	t := c.Critic.Thresholds
	for _, th := range []struct {
		name string
		v    int
	}{
		{"acceptance", t.Acceptance},
		{"grounding", t.Grounding},
		{"hard_failure_floor", t.HardFailureFloor},
		{"no_source_score", t.NoSourceScore},
		{"judge_fallback_score", t.JudgeFallbackScore},
		{"neutral_grounding_score", t.NeutralGroundingScore},
	} {
		if th.v < 0 || th.v > 100 {
			errs = append(errs, fmt.Errorf("critic.thresholds.%s must be within 0-100, got %d", th.name, th.v))
		}
	}
	if t.HardFailureFloor > t.Grounding {
		errs = append(errs, errors.New("critic.thresholds.hard_failure_floor must not exceed grounding"))
	}
	// Unverifiable output must always be rejected.
	if t.NoSourceScore > min(MaxNoSourceScore, t.HardFailureFloor) {
		errs = append(errs, fmt.Errorf("critic.thresholds.no_source_score must not exceed %d or hard_failure_floor, got %d",
			MaxNoSourceScore, t.NoSourceScore))
	}
	if t.PenaltyFactor < 0 {
		errs = append(errs, fmt.Errorf("critic.thresholds.penalty_factor must not be negative, got %g", t.PenaltyFactor))
	}
	for name, p := range c.Critic.Policies {
		if p.MaxIterations < 1 {
			errs = append(errs, fmt.Errorf("critic.policies.%s.max_iterations must be at least 1, got %d", name, p.MaxIterations))
		}
		if p.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("critic.policies.%s.timeout must be positive, got %s", name, p.Timeout))
		}
	}
	if c.Workflow.Budget < 0 {
		errs = append(errs, errors.New("workflow.budget must not be negative"))
	}
	return errors.Join(errs...)
}
