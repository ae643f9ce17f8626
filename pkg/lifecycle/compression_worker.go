package lifecycle

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/dbclient"
)

// Transcoder rewrites one instance's pixel data into targetTransferSyntaxUID,
// writing the full re-encoded object (preamble, meta, and pixel data) to
// out and returning its size. CompressionWorker treats transcoding as a
// narrow, swappable seam: no pixel codec ships in this module, so the
// wiring below is built to the real interface a codec library would
// fill, with PassthroughTranscoder as the only implementation present
// (see DESIGN.md for why).
type Transcoder interface {
	Transcode(ctx context.Context, in io.Reader, size int64, targetTransferSyntaxUID string, out io.Writer) (int64, error)
}

// PassthroughTranscoder copies the source bytes unchanged. It satisfies
// Transcoder's contract (same reader/writer shape a real codec would
// use) without performing pixel-data re-encoding.
type PassthroughTranscoder struct{}

func (PassthroughTranscoder) Transcode(_ context.Context, in io.Reader, size int64, _ string, out io.Writer) (int64, error) {
	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CompressionWorker drains PENDING compression_task rows, one study at a
// time, transcoding every instance not already at the target transfer
// syntax (spec.md §4.12).
type CompressionWorker struct {
	RepoFor    RepositoryFor
	Volumes    Volumes
	Transcoder Transcoder
	BatchSize  int
}

func NewCompressionWorker(repoFor RepositoryFor, volumes Volumes, transcoder Transcoder) *CompressionWorker {
	if transcoder == nil {
		transcoder = PassthroughTranscoder{}
	}
	return &CompressionWorker{RepoFor: repoFor, Volumes: volumes, Transcoder: transcoder, BatchSize: 20}
}

func (w *CompressionWorker) batchSize() int {
	if w.BatchSize <= 0 {
		return 20
	}
	return w.BatchSize
}

// RunOnce processes up to one batch of PENDING compression tasks for
// tenantCode — compression tasks live in the tenant's own schema, so the
// caller iterates tenants (pkg/registry.ActiveTenantCodes) and calls
// this once per tenant per tick.
func (w *CompressionWorker) RunOnce(ctx context.Context, tenantCode string) error {
	repo, err := w.RepoFor(ctx, tenantCode)
	if err != nil {
		return errors.Wrapf(err, "lifecycle: repository for tenant %s", tenantCode)
	}
	defer closeRepository(repo)

	tasks, err := repo.ListPendingCompressionTasks(ctx, w.batchSize())
	if err != nil {
		return errors.Wrap(err, "lifecycle: list pending compression tasks")
	}
	for _, task := range tasks {
		if err := w.runTask(ctx, repo, task); err != nil {
			klog.ErrorS(err, "lifecycle: compression task failed", "task", task.ID, "study", task.StudyID)
			if markErr := repo.MarkCompressionTaskFailed(ctx, task.ID, err); markErr != nil {
				klog.ErrorS(markErr, "lifecycle: mark compression task failed", "task", task.ID)
			}
		}
	}
	return nil
}

func (w *CompressionWorker) runTask(ctx context.Context, repo Repository, task dbclient.CompressionTask) error {
	if err := repo.MarkCompressionTaskInProgress(ctx, task.ID); err != nil {
		return errors.Wrap(err, "mark in progress")
	}

	instances, err := repo.InstancesForStudy(ctx, task.StudyID)
	if err != nil {
		return errors.Wrap(err, "list study instances")
	}

	for _, inst := range instances {
		if inst.TransferSyntaxUID == task.CompressionType {
			continue
		}
		if err := w.transcodeInstance(ctx, repo, inst, task.CompressionType); err != nil {
			return errors.Wrapf(err, "transcode instance %d", inst.ID)
		}
	}

	seriesIDs, err := repo.SeriesIDsForStudy(ctx, task.StudyID)
	if err != nil {
		return errors.Wrap(err, "list study series")
	}
	if err := repo.RecomputeCompressionSizes(ctx, task.StudyID, seriesIDs, task.CompressionType); err != nil {
		return errors.Wrap(err, "recompute sizes")
	}

	if err := repo.MarkCompressionTaskCompleted(ctx, task.ID); err != nil {
		return errors.Wrap(err, "mark completed")
	}
	klog.InfoS("lifecycle: compression task completed", "task", task.ID, "study", task.StudyID, "instances", len(instances))
	return nil
}

func (w *CompressionWorker) transcodeInstance(ctx context.Context, repo Repository, inst dbclient.Instance, targetTransferSyntaxUID string) error {
	provider, err := w.Volumes.Provider(inst.VolumeID)
	if err != nil {
		return errors.Wrapf(err, "provider for volume %d", inst.VolumeID)
	}

	rc, err := provider.Read(ctx, inst.StoragePath)
	if err != nil {
		return errors.Wrap(err, "read source")
	}
	defer rc.Close()

	var buf bytes.Buffer
	size, err := w.Transcoder.Transcode(ctx, rc, inst.ByteSize, targetTransferSyntaxUID, &buf)
	if err != nil {
		return errors.Wrap(err, "transcode")
	}

	if err := provider.Write(ctx, inst.StoragePath, bytes.NewReader(buf.Bytes()), size); err != nil {
		return errors.Wrap(err, "write transcoded file")
	}

	if err := repo.UpdateInstanceTransferSyntax(ctx, inst.ID, targetTransferSyntaxUID, size); err != nil {
		return errors.Wrap(err, "update instance transfer syntax")
	}
	return nil
}
