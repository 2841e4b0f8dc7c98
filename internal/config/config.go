// Package config loads slideflow settings from defaults, an optional YAML
// file, a .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Lllllllleong/slideflow/internal/pipeline"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for slideflow.
type Config struct {
	Vertex     VertexConfig     `yaml:"vertex"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Conversion ConversionConfig `yaml:"conversion"`
	Paths      PathsConfig      `yaml:"paths"`
	Cloud      CloudConfig      `yaml:"cloud"`
}

// VertexConfig selects the vision model.
type VertexConfig struct {
	ProjectID string `yaml:"project_id"`
	Region    string `yaml:"region"`
	Model     string `yaml:"model"`
}

// AnalysisConfig controls the analysis stage.
type AnalysisConfig struct {
	Workers           int           `yaml:"workers"`
	MaxAttempts       int           `yaml:"max_attempts"`
	MinBackoff        time.Duration `yaml:"min_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// ConversionConfig controls the conversion stage.
type ConversionConfig struct {
	SofficePath   string        `yaml:"soffice_path"`
	OfficeTimeout time.Duration `yaml:"office_timeout"`
	DPI           float64       `yaml:"dpi"`
	MaxDepth      int           `yaml:"max_depth"`
}

// PathsConfig locates local inputs and state.
type PathsConfig struct {
	InputDir       string `yaml:"input_dir"`
	OutputDir      string `yaml:"output_dir"`
	WorkDir        string `yaml:"work_dir"`
	CheckpointPath string `yaml:"checkpoint_path"`
	OutcomesPath   string `yaml:"outcomes_path"`
}

// CloudConfig is used by the Cloud Functions.
type CloudConfig struct {
	SlidesBucket     string `yaml:"slides_bucket"`
	ArtifactsBucket  string `yaml:"artifacts_bucket"`
	Collection       string `yaml:"firestore_collection"`
	WorkflowID       string `yaml:"workflow_id"`
	WorkflowLocation string `yaml:"workflow_location"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	policy := pipeline.DefaultRetryPolicy()
	return &Config{
		Vertex: VertexConfig{
			Region: "us-central1",
			Model:  "gemini-1.5-pro",
		},
		Analysis: AnalysisConfig{
			Workers:     5,
			MaxAttempts: policy.MaxAttempts,
			MinBackoff:  policy.MinDelay,
			MaxBackoff:  policy.MaxDelay,
			CallTimeout: 2 * time.Minute,
		},
		Conversion: ConversionConfig{
			SofficePath:   "soffice",
			OfficeTimeout: 5 * time.Minute,
			DPI:           144,
			MaxDepth:      pipeline.DefaultMaxDepth,
		},
		Paths: PathsConfig{
			InputDir:  "data",
			OutputDir: "output",
			WorkDir:   "temp",
		},
		Cloud: CloudConfig{
			Collection:       "slideRuns",
			WorkflowID:       "slide-analysis-orchestrator",
			WorkflowLocation: "us-central1",
		},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path or a missing .env file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.fillDerived()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func applyEnvOverrides(cfg *Config) error {
	cfg.Vertex.ProjectID = GetEnv("PROJECT_ID", cfg.Vertex.ProjectID)
	cfg.Vertex.Region = GetEnv("VERTEX_AI_REGION", cfg.Vertex.Region)
	cfg.Vertex.Model = GetEnv("VERTEX_MODEL", cfg.Vertex.Model)

	cfg.Conversion.SofficePath = GetEnv("SOFFICE_PATH", cfg.Conversion.SofficePath)
	cfg.Paths.InputDir = GetEnv("INPUT_DIR", cfg.Paths.InputDir)
	cfg.Paths.OutputDir = GetEnv("OUTPUT_DIR", cfg.Paths.OutputDir)
	cfg.Paths.WorkDir = GetEnv("TEMP_DIR", cfg.Paths.WorkDir)
	cfg.Paths.CheckpointPath = GetEnv("CHECKPOINT_PATH", cfg.Paths.CheckpointPath)
	cfg.Paths.OutcomesPath = GetEnv("OUTCOMES_PATH", cfg.Paths.OutcomesPath)

	cfg.Cloud.SlidesBucket = GetEnv("SLIDES_BUCKET", cfg.Cloud.SlidesBucket)
	cfg.Cloud.ArtifactsBucket = GetEnv("ARTIFACTS_BUCKET", cfg.Cloud.ArtifactsBucket)
	cfg.Cloud.Collection = GetEnv("FIRESTORE_COLLECTION", cfg.Cloud.Collection)
	cfg.Cloud.WorkflowID = GetEnv("WORKFLOW_ID", cfg.Cloud.WorkflowID)
	cfg.Cloud.WorkflowLocation = GetEnv("WORKFLOW_LOCATION", cfg.Cloud.WorkflowLocation)

	var errs []error
	envInt("MAX_WORKERS", &cfg.Analysis.Workers, &errs)
	envInt("MAX_ATTEMPTS", &cfg.Analysis.MaxAttempts, &errs)
	envInt("MAX_DEPTH", &cfg.Conversion.MaxDepth, &errs)
	envDuration("MIN_BACKOFF", &cfg.Analysis.MinBackoff, &errs)
	envDuration("MAX_BACKOFF", &cfg.Analysis.MaxBackoff, &errs)
	envDuration("CALL_TIMEOUT", &cfg.Analysis.CallTimeout, &errs)
	envDuration("OFFICE_TIMEOUT", &cfg.Conversion.OfficeTimeout, &errs)
	envFloat("REQUESTS_PER_SECOND", &cfg.Analysis.RequestsPerSecond, &errs)
	envFloat("RENDER_DPI", &cfg.Conversion.DPI, &errs)
	return errors.Join(errs...)
}

func envInt(key string, dst *int, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (c *Config) fillDerived() {
	if c.Paths.CheckpointPath == "" {
		c.Paths.CheckpointPath = filepath.Join(c.Paths.OutputDir, "checkpoint.json")
	}
	if c.Paths.OutcomesPath == "" {
		c.Paths.OutcomesPath = filepath.Join(c.Paths.OutputDir, "outcomes.jsonl")
	}
}

// Validate checks the values every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Analysis.Workers < 1 {
		errs = append(errs, fmt.Errorf("analysis.workers must be at least 1, got %d", c.Analysis.Workers))
	}
	if c.Analysis.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("analysis.max_attempts must be at least 1, got %d", c.Analysis.MaxAttempts))
	}
	if c.Analysis.MinBackoff < 0 || c.Analysis.MaxBackoff < c.Analysis.MinBackoff {
		errs = append(errs, fmt.Errorf("analysis backoff range %s..%s is invalid", c.Analysis.MinBackoff, c.Analysis.MaxBackoff))
	}
	if c.Analysis.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("analysis.requests_per_second cannot be negative"))
	}
	if c.Conversion.MaxDepth < 0 {
		errs = append(errs, errors.New("conversion.max_depth cannot be negative"))
	}
	if c.Conversion.DPI <= 0 {
		errs = append(errs, errors.New("conversion.dpi must be positive"))
	}
	return errors.Join(errs...)
}

// RequireVertex reports a missing credential needed before any analysis starts.
func (c *Config) RequireVertex() error {
	if c.Vertex.ProjectID == "" {
		return errors.New("PROJECT_ID environment variable must be set")
	}
	if c.Vertex.Region == "" {
		return errors.New("VERTEX_AI_REGION must not be empty")
	}
	return nil
}

// RetryPolicy is the per-slide retry policy described by the analysis settings.
func (c *Config) RetryPolicy() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		MaxAttempts: c.Analysis.MaxAttempts,
		MinDelay:    c.Analysis.MinBackoff,
		MaxDelay:    c.Analysis.MaxBackoff,
	}
}
