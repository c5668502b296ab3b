package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
logging:
  level: debug
orchestrator:
  max_retries: 0
  default_deadline: 90s
news:
  providers: [tavily]
  tavily:
    api_key: tvly-test
gate:
  delta_threshold: 0.25
runs:
  retention: 10m
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, 0, cfg.Orchestrator.MaxRetries, "explicit zero survives defaults")
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.DefaultDeadline.Duration())
	assert.Equal(t, []string{"tavily"}, cfg.News.Providers)
	assert.Equal(t, "tvly-test", cfg.News.Tavily.APIKey.Value())
	assert.InDelta(t, 0.25, cfg.Gate.DeltaThreshold, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Runs.Retention.Duration())

	// Untouched sections keep defaults.
	assert.Equal(t, "finsight_findings", cfg.Memory.Collection)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.Shutdown.Timeout)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n", 0o600)
	t.Setenv("FINSIGHT_SERVER__PORT", "9191")
	t.Setenv("FINSIGHT_LLM__API_KEY", "sk-env")
	t.Setenv("FINSIGHT_MEMORY__QDRANT__HOST", "qdrant.internal")
	t.Setenv("FINSIGHT_EVENTS__ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey.Value())
	assert.Equal(t, "qdrant.internal", cfg.Memory.Qdrant.Host)
	assert.True(t, cfg.Events.Enabled)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "finsight.yaml"), []byte("server:\n  port: 7070\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [port", 0o600)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "memory:\n  backend: redis\n", 0o600)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}
	path := writeConfig(t, "server:\n  port: 9090\n", 0o666)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")

	path = writeConfig(t, "server:\n  port: 9090\n", 0o644)
	_, err = Load(path)
	assert.NoError(t, err, "world readable is fine")
}

func TestLoad_FileTooLarge(t *testing.T) {
	body := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, body, 0o600)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", envKey("FINSIGHT_SERVER__PORT"))
	assert.Equal(t, "market_data.fixture_path", envKey("FINSIGHT_MARKET_DATA__FIXTURE_PATH"))
	assert.Equal(t, "memory.qdrant.api_key", envKey("FINSIGHT_MEMORY__QDRANT__API_KEY"))
}
