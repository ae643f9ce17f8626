package lifecycle

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/registry"
)

// MigrationWorker drains PENDING migration_task rows, copying each
// instance's file from its source volume to its target volume (spec.md
// §4.12). Failures mark the task FAILED with the cause rather than
// retrying automatically; an admin re-queues via the requeue endpoint.
type MigrationWorker struct {
	Registry  Registry
	RepoFor   RepositoryFor
	Volumes   Volumes
	BatchSize int
}

func NewMigrationWorker(reg Registry, repoFor RepositoryFor, volumes Volumes) *MigrationWorker {
	return &MigrationWorker{Registry: reg, RepoFor: repoFor, Volumes: volumes, BatchSize: 100}
}

func (w *MigrationWorker) batchSize() int {
	if w.BatchSize <= 0 {
		return 100
	}
	return w.BatchSize
}

// RunOnce processes up to one batch of PENDING migration tasks, the body
// of the 10-minute worker tick.
func (w *MigrationWorker) RunOnce(ctx context.Context) error {
	tasks, err := w.Registry.ListPendingMigrationTasks(ctx, w.batchSize())
	if err != nil {
		return errors.Wrap(err, "lifecycle: list pending migration tasks")
	}
	for _, task := range tasks {
		if err := w.runTask(ctx, task); err != nil {
			klog.ErrorS(err, "lifecycle: migration task failed", "task", task.ID, "instance", task.InstanceID)
			if markErr := w.Registry.MarkMigrationTaskFailed(ctx, task.ID, err); markErr != nil {
				klog.ErrorS(markErr, "lifecycle: mark migration task failed", "task", task.ID)
			}
		}
	}
	return nil
}

// Requeue resets one FAILED migration task to PENDING, satisfying
// handlers.MigrationRequeuer for the admin endpoint.
func (w *MigrationWorker) Requeue(ctx context.Context, taskID int64) error {
	return w.Registry.RequeueMigrationTask(ctx, taskID)
}

func (w *MigrationWorker) runTask(ctx context.Context, task registry.MigrationTask) error {
	if err := w.Registry.MarkMigrationTaskInProgress(ctx, task.ID); err != nil {
		return errors.Wrap(err, "mark in progress")
	}

	repo, err := w.RepoFor(ctx, task.TenantCode)
	if err != nil {
		return errors.Wrapf(err, "repository for tenant %s", task.TenantCode)
	}
	defer closeRepository(repo)
	inst, err := repo.LoadInstanceByID(ctx, task.InstanceID)
	if err != nil {
		return errors.Wrap(err, "load instance")
	}

	srcProvider, err := w.Volumes.Provider(task.SourceVolumeID)
	if err != nil {
		return errors.Wrapf(err, "source provider for volume %d", task.SourceVolumeID)
	}
	dstProvider, err := w.Volumes.Provider(task.TargetVolumeID)
	if err != nil {
		return errors.Wrapf(err, "target provider for volume %d", task.TargetVolumeID)
	}

	if err := dstProvider.CopyFrom(ctx, srcProvider, inst.StoragePath, inst.StoragePath); err != nil {
		return errors.Wrap(err, "copy to target volume")
	}

	ok, err := dstProvider.Exists(ctx, inst.StoragePath)
	if err != nil {
		return errors.Wrap(err, "verify target exists")
	}
	if !ok {
		return errors.New("target file missing after copy")
	}
	size, err := dstProvider.Size(ctx, inst.StoragePath)
	if err != nil {
		return errors.Wrap(err, "verify target size")
	}
	if size != inst.ByteSize {
		return errors.Errorf("target size %d does not match source size %d", size, inst.ByteSize)
	}

	if err := repo.UpdateInstanceVolume(ctx, task.InstanceID, task.TargetVolumeID, inst.StoragePath); err != nil {
		return errors.Wrap(err, "update instance volume")
	}

	if task.DeleteSource {
		if err := srcProvider.Delete(ctx, inst.StoragePath); err != nil {
			klog.ErrorS(err, "lifecycle: delete source after migration failed, leaving orphan copy", "task", task.ID, "instance", task.InstanceID)
		}
	}

	allMoved, err := repo.AllInstancesOnVolume(ctx, task.SeriesID, task.TargetVolumeID)
	if err != nil {
		klog.ErrorS(err, "lifecycle: check series fully migrated", "task", task.ID, "series", task.SeriesID)
	} else if allMoved {
		if err := repo.ClearSeriesMetadataInfo(ctx, task.SeriesID); err != nil {
			klog.ErrorS(err, "lifecycle: invalidate series metadata cache", "task", task.ID, "series", task.SeriesID)
		}
	}

	if err := w.Registry.MarkMigrationTaskCompleted(ctx, task.ID); err != nil {
		return errors.Wrap(err, "mark completed")
	}
	klog.InfoS("lifecycle: migration task completed", "task", task.ID, "instance", task.InstanceID, "targetVolume", task.TargetVolumeID)
	return nil
}
