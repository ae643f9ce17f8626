package lifecycle

import (
	"bytes"
	"context"
	"testing"

	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/volume"
)

func testCompressionVolumes(t *testing.T) *volume.Manager {
	t.Helper()
	vol := volume.Volume{ID: 1, Code: "warm-a", ProviderKind: volume.ProviderKindLocal, BasePath: t.TempDir(), Tier: volume.TierWarm, Status: volume.StatusActive, Priority: 10}
	m := volume.NewManager(func(ctx context.Context) ([]volume.Volume, error) { return []volume.Volume{vol}, nil })
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	return m
}

const targetTSUID = "1.2.840.10008.1.2.4.70"

func TestCompressionWorkerTranscodesNonTargetInstancesOnly(t *testing.T) {
	vols := testCompressionVolumes(t)
	provider, err := vols.Provider(1)
	if err != nil {
		t.Fatalf("Provider(1) error = %v", err)
	}
	if err := provider.Write(context.Background(), "acme/study/1.dcm", bytes.NewReader([]byte("raw bytes one")), 13); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := provider.Write(context.Background(), "acme/study/2.dcm", bytes.NewReader([]byte("already-done")), 12); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	repo := newFakeRepository()
	repo.pendingCompression = []dbclient.CompressionTask{{ID: 1, StudyID: 500, CompressionType: targetTSUID}}
	repo.instancesByStudy[500] = []dbclient.Instance{
		{ID: 1, VolumeID: 1, StoragePath: "acme/study/1.dcm", TransferSyntaxUID: "1.2.840.10008.1.2.1", ByteSize: 13},
		{ID: 2, VolumeID: 1, StoragePath: "acme/study/2.dcm", TransferSyntaxUID: targetTSUID, ByteSize: 12},
	}
	repo.seriesIDsByStudy[500] = []int64{900}

	w := NewCompressionWorker(func(ctx context.Context, tenantCode string) (Repository, error) { return repo, nil }, vols, nil)
	if err := w.RunOnce(context.Background(), "acme"); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if repo.compressionStatus[1] != "COMPLETED" {
		t.Fatalf("task status = %q, want COMPLETED", repo.compressionStatus[1])
	}
	if got, ok := repo.updatedTransferSyntax[1]; !ok || got != targetTSUID {
		t.Fatalf("instance 1 transfer syntax = %q, want %q (should be transcoded)", got, targetTSUID)
	}
	if _, ok := repo.updatedTransferSyntax[2]; ok {
		t.Fatal("instance 2 was already at the target syntax and should be skipped")
	}
	if len(repo.recomputedStudies) != 1 || repo.recomputedStudies[0] != 500 {
		t.Fatalf("recomputed studies = %v, want [500]", repo.recomputedStudies)
	}
}

func TestCompressionWorkerFailsTaskWhenProviderMissing(t *testing.T) {
	vols := testCompressionVolumes(t)

	repo := newFakeRepository()
	repo.pendingCompression = []dbclient.CompressionTask{{ID: 1, StudyID: 500, CompressionType: targetTSUID}}
	repo.instancesByStudy[500] = []dbclient.Instance{
		{ID: 1, VolumeID: 99, StoragePath: "acme/study/1.dcm", TransferSyntaxUID: "1.2.840.10008.1.2.1", ByteSize: 13},
	}

	w := NewCompressionWorker(func(ctx context.Context, tenantCode string) (Repository, error) { return repo, nil }, vols, nil)
	if err := w.RunOnce(context.Background(), "acme"); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	if repo.compressionStatus[1] != "FAILED" {
		t.Fatalf("task status = %q, want FAILED when the instance's volume has no provider", repo.compressionStatus[1])
	}
}

func TestPassthroughTranscoderCopiesBytesUnchanged(t *testing.T) {
	var out bytes.Buffer
	n, err := (PassthroughTranscoder{}).Transcode(context.Background(), bytes.NewReader([]byte("hello")), 5, targetTSUID, &out)
	if err != nil {
		t.Fatalf("Transcode() error = %v", err)
	}
	if n != 5 || out.String() != "hello" {
		t.Fatalf("Transcode() = (%d, %q), want (5, \"hello\")", n, out.String())
	}
}
