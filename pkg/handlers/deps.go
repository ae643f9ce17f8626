package handlers

import (
	"context"
	"io"

	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/cache"
	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/pathtemplate"
	"github.com/spax-archive/spax/pkg/queue"
	"github.com/spax-archive/spax/pkg/volume"
)

// TemplateFor returns the compiled path template the write path for vol
// should resolve instances through, mirroring ingest.TemplateFor.
type TemplateFor func(vol volume.Volume) (*pathtemplate.Template, error)

// Repository is the read/write database surface the handlers need.
// *dbclient.Client satisfies it; tests substitute a fake.
type Repository interface {
	QueryStudies(ctx context.Context, filter dbclient.StudyFilter) ([]dbclient.StudyListRow, error)
	QuerySeriesForStudy(ctx context.Context, studyUID string) ([]dbclient.Series, error)
	QueryInstancesForSeries(ctx context.Context, studyUID, seriesUID string) ([]dbclient.Instance, error)
	TouchLastAccessed(ctx context.Context, studyIDs []int64) error
	LoadInstanceLocations(ctx context.Context, seriesUID string) (dbclient.SeriesRef, []dbclient.InstanceLocation, error)
	LoadSeriesMetadataInfo(ctx context.Context, seriesID int64) (dbclient.SeriesMetadataInfo, error)
	SetSeriesMetadataInfo(ctx context.Context, seriesID, volumeID int64, path string) error
	BulkUpsert(ctx context.Context, items []dbclient.IngestItem) (*dbclient.BulkUpsertResult, error)
}

// RepositoryFor resolves a tenant-scoped Repository, mirroring
// ingest.ClientFor's one-connection-per-tenant-operation shape. The
// returned Repository may hold a dedicated connection (pkg/tenant's
// schema-scoped checkout); callers release it with closeRepo once done.
type RepositoryFor func(ctx context.Context, tenantCode string) (Repository, error)

// closeRepo releases repo's underlying connection when it holds one.
// *dbclient.Client implements io.Closer; test fakes generally don't,
// so this is a no-op for them.
func closeRepo(repo Repository) {
	if closer, ok := repo.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			klog.ErrorS(err, "handlers: close repository connection failed")
		}
	}
}

// LifecycleRunner triggers an out-of-band evaluation of one lifecycle
// rule, satisfied by the lifecycle engine's rule evaluator.
type LifecycleRunner interface {
	RunRule(ctx context.Context, ruleID int64) error
}

// MigrationRequeuer re-queues one FAILED migration_task row,
// satisfied by the lifecycle engine's migration worker.
type MigrationRequeuer interface {
	Requeue(ctx context.Context, taskID int64) error
}

// API holds every dependency the route handlers close over. Construct
// one per process and wire its methods onto a *gin.Engine via Router.
type API struct {
	Repo        RepositoryFor
	Volumes     *volume.Manager
	Cache       *cache.Store
	Queue       *queue.Queue
	TemplateFor TemplateFor

	// IngestLandingDir is where POST .../ingest uploads are written
	// before being queued, matching the ingest consumer's expectation
	// that queue.Message.FilePath already exists on a shared volume.
	IngestLandingDir string

	// IngestBlocked reports the disk monitor's current ingestBlocked
	// flag (spec.md §5): true means every ingest write must be refused
	// with 507 without touching storage.
	IngestBlocked func() bool

	Lifecycle  LifecycleRunner
	Migrations MigrationRequeuer
}
