package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "out")
	t.Setenv("CHECKPOINT_PATH", "")
	t.Setenv("OUTCOMES_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Analysis.Workers)
	assert.Equal(t, 3, cfg.Analysis.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Analysis.MinBackoff)
	assert.Equal(t, 10*time.Second, cfg.Analysis.MaxBackoff)
	assert.Equal(t, filepath.Join("out", "checkpoint.json"), cfg.Paths.CheckpointPath)
	assert.Equal(t, filepath.Join("out", "outcomes.jsonl"), cfg.Paths.OutcomesPath)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slideflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vertex:
  project_id: from-file
analysis:
  workers: 8
  min_backoff: 1s
  max_backoff: 4s
conversion:
  max_depth: 3
`), 0o644))
	t.Setenv("MAX_WORKERS", "12")
	t.Setenv("PROJECT_ID", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Analysis.Workers)
	assert.Equal(t, "from-env", cfg.Vertex.ProjectID)
	assert.Equal(t, 3, cfg.Conversion.MaxDepth)

	policy := cfg.RetryPolicy()
	assert.Equal(t, time.Second, policy.MinDelay)
	assert.Equal(t, 4*time.Second, policy.MaxDelay)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("MAX_WORKERS", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "MAX_WORKERS")

	t.Setenv("MAX_WORKERS", "0")
	_, err = Load("")
	assert.ErrorContains(t, err, "workers")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRequireVertex(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireVertex())
	cfg.Vertex.ProjectID = "p"
	assert.NoError(t, cfg.RequireVertex())
}

func TestGetEnv(t *testing.T) {
	t.Setenv("SLIDEFLOW_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnv("SLIDEFLOW_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("SLIDEFLOW_TEST_UNSET_VALUE", "fallback"))
}
