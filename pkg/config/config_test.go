package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigOverridesDefaults(t *testing.T) {
	viper.Reset()
	setDefaults()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	content := `
ingest:
  batchSize: 50
  consumerThreads: 2
queue:
  backend: wal
`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))
	assert.NoError(t, LoadConfig(path))

	ingest := GetIngestConfig()
	assert.Equal(t, 50, ingest.BatchSize)
	assert.Equal(t, 2, ingest.ConsumerThreads)

	queue := GetQueueConfig()
	assert.Equal(t, "wal", queue.Backend)
}

func TestDefaultsWithoutFile(t *testing.T) {
	viper.Reset()
	setDefaults()
	assert.NoError(t, LoadConfig(""))

	ingest := GetIngestConfig()
	assert.Equal(t, 200, ingest.BatchSize)
	assert.Equal(t, 4, ingest.ConsumerThreads)

	assert.Equal(t, "local", GetCacheConfig().Backend)
	assert.Equal(t, 12, GetPartitionsConfig().MonthsAhead)
	assert.Contains(t, DefaultPathTemplate(), "00080018")
}
