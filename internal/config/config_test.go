package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillgraph/quill/internal/config"
)

func TestDefaultsMatchDocumentedOptions(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, config.VerbosityMinimal, cfg.Verbosity)
	require.Equal(t, time.Second, cfg.NotificationDelay)
	require.Zero(t, cfg.JournalChunkMiB)
	require.Empty(t, cfg.JournalRotateDestination)
	require.Equal(t, 4000, cfg.BatchRowThreshold)
	require.Equal(t, 5*time.Second, cfg.ProgressSampleInterval)
	require.Positive(t, cfg.MaxConcurrentReaders)
}

func TestLoadWithoutFileKeepsDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoadAppliesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	doc := `verbosity: debug
notification_delay_ms: 250
journal_chunk_mib: 16
max_concurrent_readers: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quill.yaml"), []byte(doc), 0o644))

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	require.Equal(t, config.VerbosityDebug, cfg.Verbosity)
	require.Equal(t, 250*time.Millisecond, cfg.NotificationDelay)
	require.Equal(t, 16, cfg.JournalChunkMiB)
	require.Equal(t, 2, cfg.MaxConcurrentReaders)
}

func TestApplyLayersOptionsOverLoadedValues(t *testing.T) {
	cfg := config.Default().Apply(
		config.WithVerbosity(config.VerbosityErrors),
		config.WithMaxConcurrentReaders(1),
	)
	require.Equal(t, config.VerbosityErrors, cfg.Verbosity)
	require.Equal(t, 1, cfg.MaxConcurrentReaders)
}
