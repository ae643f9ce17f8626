package lifecycle

import (
	"context"
	"fmt"

	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/registry"
	"github.com/spax-archive/spax/pkg/storage"
	"github.com/spax-archive/spax/pkg/volume"
)

// fakeRegistry is an in-memory stand-in for *registry.Registry.
type fakeRegistry struct {
	tenants       []string
	rules         []registry.LifecycleRule
	existing      map[int64]bool
	inserted      []registry.MigrationTask
	pending       []registry.MigrationTask
	statusByID    map[int64]string
	errByID       map[int64]string
	requeueErr    error
	insertTasksFn func(tasks []registry.MigrationTask) error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{statusByID: map[int64]string{}, errByID: map[int64]string{}}
}

func (f *fakeRegistry) ActiveTenantCodes(ctx context.Context) ([]string, error) {
	return f.tenants, nil
}

func (f *fakeRegistry) LifecycleRules(ctx context.Context, actionType string) ([]registry.LifecycleRule, error) {
	var out []registry.LifecycleRule
	for _, r := range f.rules {
		if r.Enabled && r.Action == actionType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRegistry) RuleByID(ctx context.Context, ruleID int64) (registry.LifecycleRule, error) {
	for _, r := range f.rules {
		if r.ID == ruleID {
			return r, nil
		}
	}
	return registry.LifecycleRule{}, fmt.Errorf("rule %d not found", ruleID)
}

func (f *fakeRegistry) ExistingMigrationInstanceIDs(ctx context.Context, tenantCode string, candidateInstanceIDs []int64) (map[int64]bool, error) {
	return f.existing, nil
}

func (f *fakeRegistry) InsertMigrationTasks(ctx context.Context, tasks []registry.MigrationTask) error {
	if f.insertTasksFn != nil {
		if err := f.insertTasksFn(tasks); err != nil {
			return err
		}
	}
	f.inserted = append(f.inserted, tasks...)
	return nil
}

func (f *fakeRegistry) ListPendingMigrationTasks(ctx context.Context, limit int) ([]registry.MigrationTask, error) {
	if limit < len(f.pending) {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeRegistry) MarkMigrationTaskInProgress(ctx context.Context, taskID int64) error {
	f.statusByID[taskID] = "IN_PROGRESS"
	return nil
}

func (f *fakeRegistry) MarkMigrationTaskCompleted(ctx context.Context, taskID int64) error {
	f.statusByID[taskID] = "COMPLETED"
	return nil
}

func (f *fakeRegistry) MarkMigrationTaskFailed(ctx context.Context, taskID int64, cause error) error {
	f.statusByID[taskID] = "FAILED"
	f.errByID[taskID] = cause.Error()
	return nil
}

func (f *fakeRegistry) RequeueMigrationTask(ctx context.Context, taskID int64) error {
	if f.requeueErr != nil {
		return f.requeueErr
	}
	f.statusByID[taskID] = "PENDING"
	return nil
}

// fakeRepository is an in-memory stand-in for *dbclient.Client as seen
// through pkg/lifecycle's Repository interface.
type fakeRepository struct {
	migrationCandidates   []dbclient.MigrationCandidate
	compressionStudyIDs   []int64
	insertedCompression   []struct {
		studyID int64
		ctype   string
	}
	pendingCompression    []dbclient.CompressionTask
	instancesByID         map[int64]dbclient.Instance
	instancesByStudy      map[int64][]dbclient.Instance
	seriesIDsByStudy      map[int64][]int64
	allOnVolume           bool
	clearedSeries         []int64
	recomputedStudies     []int64
	updatedVolume         map[int64]int64
	updatedTransferSyntax map[int64]string
	compressionStatus     map[int64]string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		instancesByID:         map[int64]dbclient.Instance{},
		instancesByStudy:      map[int64][]dbclient.Instance{},
		seriesIDsByStudy:      map[int64][]int64{},
		updatedVolume:         map[int64]int64{},
		updatedTransferSyntax: map[int64]string{},
		compressionStatus:     map[int64]string{},
	}
}

func (f *fakeRepository) CandidateMigrationInstances(ctx context.Context, sourceVolumeIDs []int64, conditionKind string, conditionDays int, limit int) ([]dbclient.MigrationCandidate, error) {
	return f.migrationCandidates, nil
}

func (f *fakeRepository) CandidateCompressionStudies(ctx context.Context, sourceVolumeIDs []int64, conditionKind string, conditionDays int, compressionType string) ([]int64, error) {
	return f.compressionStudyIDs, nil
}

func (f *fakeRepository) InsertCompressionTask(ctx context.Context, studyID int64, compressionType string) error {
	f.insertedCompression = append(f.insertedCompression, struct {
		studyID int64
		ctype   string
	}{studyID, compressionType})
	return nil
}

func (f *fakeRepository) ListPendingCompressionTasks(ctx context.Context, limit int) ([]dbclient.CompressionTask, error) {
	return f.pendingCompression, nil
}

func (f *fakeRepository) MarkCompressionTaskInProgress(ctx context.Context, taskID int64) error {
	f.compressionStatus[taskID] = "IN_PROGRESS"
	return nil
}

func (f *fakeRepository) MarkCompressionTaskCompleted(ctx context.Context, taskID int64) error {
	f.compressionStatus[taskID] = "COMPLETED"
	return nil
}

func (f *fakeRepository) MarkCompressionTaskFailed(ctx context.Context, taskID int64, cause error) error {
	f.compressionStatus[taskID] = "FAILED"
	return nil
}

func (f *fakeRepository) LoadInstanceByID(ctx context.Context, instanceID int64) (dbclient.Instance, error) {
	inst, ok := f.instancesByID[instanceID]
	if !ok {
		return dbclient.Instance{}, fmt.Errorf("instance %d not found", instanceID)
	}
	return inst, nil
}

func (f *fakeRepository) InstancesForStudy(ctx context.Context, studyID int64) ([]dbclient.Instance, error) {
	return f.instancesByStudy[studyID], nil
}

func (f *fakeRepository) UpdateInstanceVolume(ctx context.Context, instanceID, volumeID int64, storagePath string) error {
	f.updatedVolume[instanceID] = volumeID
	inst := f.instancesByID[instanceID]
	inst.VolumeID = volumeID
	inst.StoragePath = storagePath
	f.instancesByID[instanceID] = inst
	return nil
}

func (f *fakeRepository) UpdateInstanceTransferSyntax(ctx context.Context, instanceID int64, transferSyntaxUID string, byteSize int64) error {
	f.updatedTransferSyntax[instanceID] = transferSyntaxUID
	inst := f.instancesByID[instanceID]
	inst.TransferSyntaxUID = transferSyntaxUID
	inst.ByteSize = byteSize
	f.instancesByID[instanceID] = inst
	return nil
}

func (f *fakeRepository) AllInstancesOnVolume(ctx context.Context, seriesID, volumeID int64) (bool, error) {
	return f.allOnVolume, nil
}

func (f *fakeRepository) ClearSeriesMetadataInfo(ctx context.Context, seriesID int64) error {
	f.clearedSeries = append(f.clearedSeries, seriesID)
	return nil
}

func (f *fakeRepository) RecomputeCompressionSizes(ctx context.Context, studyID int64, seriesIDs []int64, compressionType string) error {
	f.recomputedStudies = append(f.recomputedStudies, studyID)
	return nil
}

func (f *fakeRepository) SeriesIDsForStudy(ctx context.Context, studyID int64) ([]int64, error) {
	return f.seriesIDsByStudy[studyID], nil
}

// fakeVolumes is an in-memory stand-in for *volume.Manager, used by the
// evaluator tests, which never need a real provider.
type fakeVolumes struct {
	idsByTier   map[volume.Tier][]int64
	writeVolume map[volume.Tier]volume.Volume
	writeErr    map[volume.Tier]error
	volumesByID map[int64]volume.Volume
}

func newFakeVolumes() *fakeVolumes {
	return &fakeVolumes{
		idsByTier:   map[volume.Tier][]int64{},
		writeVolume: map[volume.Tier]volume.Volume{},
		writeErr:    map[volume.Tier]error{},
		volumesByID: map[int64]volume.Volume{},
	}
}

func (f *fakeVolumes) VolumeIDsInTier(tier volume.Tier) []int64 {
	return f.idsByTier[tier]
}

func (f *fakeVolumes) ActiveWriteVolume(tier volume.Tier) (volume.Volume, error) {
	if err, ok := f.writeErr[tier]; ok {
		return volume.Volume{}, err
	}
	return f.writeVolume[tier], nil
}

func (f *fakeVolumes) Volume(volumeID int64) (volume.Volume, bool) {
	v, ok := f.volumesByID[volumeID]
	return v, ok
}

func (f *fakeVolumes) Provider(volumeID int64) (storage.Provider, error) {
	return nil, fmt.Errorf("fakeVolumes.Provider not implemented for volume %d", volumeID)
}
