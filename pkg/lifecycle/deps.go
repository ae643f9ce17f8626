// Package lifecycle implements the lifecycle engine (spec.md §4.12): a
// nightly rule evaluator that turns MIGRATE/COMPRESS lifecycle_rule rows
// into migration_task/compression_task work items, and the two workers
// that drain those queues — moving instances between storage tiers and
// transcoding studies in place.
package lifecycle

import (
	"context"
	"io"

	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/registry"
	"github.com/spax-archive/spax/pkg/storage"
	"github.com/spax-archive/spax/pkg/volume"
)

// Repository is the tenant-scoped data surface the evaluator and workers
// need from pkg/dbclient. *dbclient.Client satisfies it; tests
// substitute a fake.
type Repository interface {
	CandidateMigrationInstances(ctx context.Context, sourceVolumeIDs []int64, conditionKind string, conditionDays int, limit int) ([]dbclient.MigrationCandidate, error)
	CandidateCompressionStudies(ctx context.Context, sourceVolumeIDs []int64, conditionKind string, conditionDays int, compressionType string) ([]int64, error)
	InsertCompressionTask(ctx context.Context, studyID int64, compressionType string) error
	ListPendingCompressionTasks(ctx context.Context, limit int) ([]dbclient.CompressionTask, error)
	MarkCompressionTaskInProgress(ctx context.Context, taskID int64) error
	MarkCompressionTaskCompleted(ctx context.Context, taskID int64) error
	MarkCompressionTaskFailed(ctx context.Context, taskID int64, cause error) error
	LoadInstanceByID(ctx context.Context, instanceID int64) (dbclient.Instance, error)
	InstancesForStudy(ctx context.Context, studyID int64) ([]dbclient.Instance, error)
	UpdateInstanceVolume(ctx context.Context, instanceID, volumeID int64, storagePath string) error
	UpdateInstanceTransferSyntax(ctx context.Context, instanceID int64, transferSyntaxUID string, byteSize int64) error
	AllInstancesOnVolume(ctx context.Context, seriesID, volumeID int64) (bool, error)
	ClearSeriesMetadataInfo(ctx context.Context, seriesID int64) error
	RecomputeCompressionSizes(ctx context.Context, studyID int64, seriesIDs []int64, compressionType string) error
	SeriesIDsForStudy(ctx context.Context, studyID int64) ([]int64, error)
}

// RepositoryFor resolves a tenant-scoped Repository, mirroring
// ingest.ClientFor / handlers.RepositoryFor's one-connection-per-tenant
// shape.
type RepositoryFor func(ctx context.Context, tenantCode string) (Repository, error)

// closeRepository releases repo's underlying connection when it holds
// one. *dbclient.Client implements io.Closer; test fakes generally
// don't, so this is a no-op for them.
func closeRepository(repo Repository) {
	if closer, ok := repo.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			klog.ErrorS(err, "lifecycle: close repository connection failed")
		}
	}
}

// Registry is the shared-schema surface the engine needs from
// pkg/registry. *registry.Registry satisfies it.
type Registry interface {
	ActiveTenantCodes(ctx context.Context) ([]string, error)
	LifecycleRules(ctx context.Context, actionType string) ([]registry.LifecycleRule, error)
	RuleByID(ctx context.Context, ruleID int64) (registry.LifecycleRule, error)
	ExistingMigrationInstanceIDs(ctx context.Context, tenantCode string, candidateInstanceIDs []int64) (map[int64]bool, error)
	InsertMigrationTasks(ctx context.Context, tasks []registry.MigrationTask) error
	ListPendingMigrationTasks(ctx context.Context, limit int) ([]registry.MigrationTask, error)
	MarkMigrationTaskInProgress(ctx context.Context, taskID int64) error
	MarkMigrationTaskCompleted(ctx context.Context, taskID int64) error
	MarkMigrationTaskFailed(ctx context.Context, taskID int64, cause error) error
	RequeueMigrationTask(ctx context.Context, taskID int64) error
}

// Volumes is the subset of *volume.Manager the engine needs: candidate
// scans by source tier, target-volume selection for MIGRATE rules, and
// provider lookups for the migration worker's cross-volume copy step.
type Volumes interface {
	VolumeIDsInTier(tier volume.Tier) []int64
	ActiveWriteVolume(tier volume.Tier) (volume.Volume, error)
	Volume(volumeID int64) (volume.Volume, bool)
	Provider(volumeID int64) (storage.Provider, error)
}
