// Package config loads SPAX's runtime configuration from an optional YAML
// file and environment variables, following the teacher's viper-based
// LoadConfig/Get<Section> pattern (common/pkg/config).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable: SPAX_SERVER_PORT,
// SPAX_DATABASE_HOST, etc.
const envPrefix = "SPAX"

func init() {
	setDefaults()
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "60s")

	viper.SetDefault("database.maxOpenConns", 50)
	viper.SetDefault("database.maxIdleConns", 10)

	viper.SetDefault("ingest.batchSize", 200)
	viper.SetDefault("ingest.flushInterval", "2s")
	viper.SetDefault("ingest.consumerThreads", 4)
	viper.SetDefault("ingest.errorDir", "error")

	viper.SetDefault("partitions.monthsAhead", 12)

	viper.SetDefault("disk.thresholdMB", 5120)
	viper.SetDefault("disk.pollInterval", "5m")

	viper.SetDefault("queue.backend", "stream")
	viper.SetDefault("cache.backend", "local")

	viper.SetDefault("pathTemplate.default", "{now,date,yyyy/MM/dd}/{0020000D,hash}/{0020000E,hash}/{00080018,hash}")

	viper.SetDefault("lifecycle.evaluateCron", "0 2 * * *")
	viper.SetDefault("lifecycle.workerCron", "*/10 * * * *")
	viper.SetDefault("lifecycle.migrationTaskCap", 10000)
	viper.SetDefault("lifecycle.workerBatchSize", 100)

	viper.SetDefault("volume.safetyThresholdBytes", 1<<30) // 1 GiB
}

// LoadConfig reads an optional YAML file at path (empty skips the file)
// then overlays environment variables prefixed with SPAX_.
func LoadConfig(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return nil
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

func GetServerConfig() ServerConfig {
	var c ServerConfig
	_ = viper.UnmarshalKey("server", &c)
	return c
}

// DatabaseConfig is the tenant-aware Postgres pool configuration.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"maxOpenConns"`
	MaxIdleConns int    `mapstructure:"maxIdleConns"`
}

func GetDatabaseConfig() DatabaseConfig {
	var c DatabaseConfig
	_ = viper.UnmarshalKey("database", &c)
	return c
}

// IngestConfig carries the knobs named in spec.md §6.
type IngestConfig struct {
	BatchSize       int           `mapstructure:"batchSize"`
	FlushInterval   time.Duration `mapstructure:"flushInterval"`
	ConsumerThreads int           `mapstructure:"consumerThreads"`
	ErrorDir        string        `mapstructure:"errorDir"`
}

func GetIngestConfig() IngestConfig {
	var c IngestConfig
	_ = viper.UnmarshalKey("ingest", &c)
	return c
}

// DiskConfig drives the disk monitor described in spec.md §5.
type DiskConfig struct {
	ThresholdMB  int64         `mapstructure:"thresholdMB"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

func GetDiskConfig() DiskConfig {
	var c DiskConfig
	_ = viper.UnmarshalKey("disk", &c)
	return c
}

// QueueConfig holds the ingest queue settings. Redis Streams is the only
// queue implementation; Backend is loaded (default "stream") but
// cmd/spax-server does not consult it, and no "wal" backend exists.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
	RedisDSN string `mapstructure:"redisDsn"`
}

func GetQueueConfig() QueueConfig {
	var c QueueConfig
	_ = viper.UnmarshalKey("queue", &c)
	return c
}

// CacheConfig selects between "local" (in-process) and "shared" (Redis)
// cache backends.
type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	RedisDSN string `mapstructure:"redisDsn"`
}

func GetCacheConfig() CacheConfig {
	var c CacheConfig
	_ = viper.UnmarshalKey("cache", &c)
	return c
}

// PartitionsConfig controls the daily partition pre-creation job.
type PartitionsConfig struct {
	MonthsAhead int `mapstructure:"monthsAhead"`
}

func GetPartitionsConfig() PartitionsConfig {
	var c PartitionsConfig
	_ = viper.UnmarshalKey("partitions", &c)
	return c
}

// LifecycleConfig drives the nightly rule evaluator and the migration
// worker tick.
type LifecycleConfig struct {
	EvaluateCron     string `mapstructure:"evaluateCron"`
	WorkerCron       string `mapstructure:"workerCron"`
	MigrationTaskCap int    `mapstructure:"migrationTaskCap"`
	WorkerBatchSize  int    `mapstructure:"workerBatchSize"`
}

func GetLifecycleConfig() LifecycleConfig {
	var c LifecycleConfig
	_ = viper.UnmarshalKey("lifecycle", &c)
	return c
}

// VolumeConfig carries a configurable free-space margin (default 1 GiB).
// Active-write volume selection in pkg/volume does not read it; it uses
// its own fixed 1 GiB constant.
type VolumeConfig struct {
	SafetyThresholdBytes int64 `mapstructure:"safetyThresholdBytes"`
}

func GetVolumeConfig() VolumeConfig {
	var c VolumeConfig
	_ = viper.UnmarshalKey("volume", &c)
	return c
}

// DefaultPathTemplate returns the template used when a volume has no
// template override, per spec.md §4.3.
func DefaultPathTemplate() string {
	return viper.GetString("pathTemplate.default")
}

// AdminConfig carries the shared secret gating the narrow admin surface
// (volume reload, lifecycle manual-run, migration re-queue).
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

func GetAdminConfig() AdminConfig {
	var c AdminConfig
	_ = viper.UnmarshalKey("admin", &c)
	return c
}
