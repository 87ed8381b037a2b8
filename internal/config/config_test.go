package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"KRYPTICTRACK_DB", "KRYPTICTRACK_CHECKPOINTS", "KRYPTICTRACK_TZ", "KRYPTICTRACK_METRICS_ADDR",
		"NATS_URL", "KRYPTICTRACK_LOG_LEVEL", "KRYPTICTRACK_EXPLAINER", "OPENAI_API_KEY", "KRYPTICTRACK_EPOCHS",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kryptictrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, []int{256, 128, 64}, cfg.Training.Hidden)
	assert.Equal(t, 10, cfg.Inference.Window)
	assert.Equal(t, "template", cfg.Explainer.Provider)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	path := writeConfig(t, `
database:
  path: /var/lib/kryptictrack/actions.db
features:
  timezone: Europe/Berlin
training:
  hidden: [64, 32]
  epochs: 7
explainer:
  provider: openai
  api_key: ${TEST_OPENAI_KEY}
  timeout: 3s
nats:
  url: nats://bus:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/kryptictrack/actions.db", cfg.Database.Path)
	assert.Equal(t, "models/checkpoints", cfg.Checkpoints.Dir)
	assert.Equal(t, []int{64, 32}, cfg.Training.Hidden)
	assert.Equal(t, 7, cfg.Training.Epochs)
	assert.Equal(t, 64, cfg.Training.BatchSize)
	assert.Equal(t, "sk-test", cfg.Explainer.APIKey)
	assert.Equal(t, 3*time.Second, cfg.Explainer.Timeout)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, "kryptictrack.training.progress", cfg.NATS.Subject)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
	assert.Equal(t, loc, cfg.FeaturesConfig().Location)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "database:\n  path: from-file.db\n")
	t.Setenv("KRYPTICTRACK_DB", "from-env.db")
	t.Setenv("KRYPTICTRACK_EPOCHS", "12")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.Database.Path)
	assert.Equal(t, 12, cfg.Training.Epochs)
	assert.Equal(t, "sk-env", cfg.Explainer.APIKey)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = Load(writeConfig(t, "training: [unclosed"))
	assert.ErrorContains(t, err, "parse config")

	t.Setenv("KRYPTICTRACK_EPOCHS", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "KRYPTICTRACK_EPOCHS")
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Path = ""
	cfg.Features.Timezone = "Mars/Olympus_Mons"
	cfg.Training.Hidden = []int{32, 0}
	cfg.Training.Dropout = 1
	cfg.Inference.Window = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database.path", "features.timezone", "layer width 0", "training.dropout", "inference.window"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Training.Hidden = []int{16}
	cfg.Training.Epochs = 3
	cfg.Training.TrainPolicy = true
	cfg.Training.MaxActions = 5000
	cfg.Inference.Window = 20

	tr := cfg.TrainerConfig()
	assert.Equal(t, 192, tr.Reward.StateDim)
	assert.Equal(t, 48, tr.Reward.ActionDim)
	assert.Equal(t, []int{16}, tr.Reward.Hidden)
	assert.Equal(t, 1e-3, tr.Optimizer.LearningRate)

	j := cfg.JobsConfig()
	assert.Equal(t, "models/checkpoints", j.CheckpointDir)
	assert.Equal(t, 3, j.Options.Epochs)
	assert.True(t, j.Options.TrainPolicy)
	assert.Equal(t, 5000, j.MaxActions)
	assert.Equal(t, time.UTC, j.Trajectory.Features.Location)
	assert.Equal(t, 1e-4, j.Eval.MinRewardStd)

	m := cfg.ManagerConfig()
	assert.Equal(t, 20, m.Window)
	assert.Equal(t, 192, m.Features.StateDim)
}
