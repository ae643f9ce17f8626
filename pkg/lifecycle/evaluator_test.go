package lifecycle

import (
	"context"
	"database/sql"
	"testing"

	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/registry"
	"github.com/spax-archive/spax/pkg/volume"
)

func migrateRuleFixture() registry.LifecycleRule {
	return registry.LifecycleRule{
		ID:             1,
		Enabled:        true,
		Action:         actionMigrate,
		SourceTier:     string(volume.TierHot),
		TargetTier:     sql.NullString{String: string(volume.TierCold), Valid: true},
		ConditionKind:  "STUDY_AGE_DAYS",
		ConditionValue: 90,
		DeleteSource:   true,
	}
}

func TestEvaluateMigrationRulesQueuesNewCandidatesOnly(t *testing.T) {
	reg := newFakeRegistry()
	reg.rules = []registry.LifecycleRule{migrateRuleFixture()}
	reg.existing = map[int64]bool{20: true}

	repo := newFakeRepository()
	repo.migrationCandidates = []dbclient.MigrationCandidate{
		{InstanceID: 10, SeriesID: 100, SourceVolumeID: 1, SOPInstanceUID: "1.1"},
		{InstanceID: 20, SeriesID: 100, SourceVolumeID: 1, SOPInstanceUID: "1.2"},
	}

	vols := newFakeVolumes()
	vols.idsByTier[volume.TierHot] = []int64{1}
	vols.writeVolume[volume.TierCold] = volume.Volume{ID: 9, Tier: volume.TierCold}

	e := NewEvaluator(reg, func(ctx context.Context, tenantCode string) (Repository, error) { return repo, nil }, vols)

	if err := e.EvaluateMigrationRules(context.Background()); err != nil {
		t.Fatalf("EvaluateMigrationRules() error = %v", err)
	}

	if len(reg.inserted) != 1 {
		t.Fatalf("inserted %d tasks, want 1 (instance 20 already has a task)", len(reg.inserted))
	}
	task := reg.inserted[0]
	if task.InstanceID != 10 || task.TargetVolumeID != 9 || !task.DeleteSource {
		t.Fatalf("inserted task = %+v, want instance 10 targeting volume 9 with delete_source", task)
	}
}

func TestEvaluateMigrationRulesSkipsWhenSourceTierEmpty(t *testing.T) {
	reg := newFakeRegistry()
	reg.rules = []registry.LifecycleRule{migrateRuleFixture()}

	vols := newFakeVolumes() // no volumes registered in any tier

	e := NewEvaluator(reg, func(ctx context.Context, tenantCode string) (Repository, error) {
		t.Fatal("RepoFor should not be called when there are no source volumes")
		return nil, nil
	}, vols)

	if err := e.EvaluateMigrationRules(context.Background()); err != nil {
		t.Fatalf("EvaluateMigrationRules() error = %v", err)
	}
	if len(reg.inserted) != 0 {
		t.Fatalf("inserted %d tasks, want 0", len(reg.inserted))
	}
}

func TestEvaluateMigrationRulesScopesToRuleTenantWhenSet(t *testing.T) {
	reg := newFakeRegistry()
	rule := migrateRuleFixture()
	rule.TenantCode = sql.NullString{String: "acme", Valid: true}
	reg.rules = []registry.LifecycleRule{rule}
	reg.tenants = []string{"other-tenant"} // must NOT be consulted

	repo := newFakeRepository()
	repo.migrationCandidates = []dbclient.MigrationCandidate{{InstanceID: 1, SeriesID: 1, SourceVolumeID: 1}}

	vols := newFakeVolumes()
	vols.idsByTier[volume.TierHot] = []int64{1}
	vols.writeVolume[volume.TierCold] = volume.Volume{ID: 9, Tier: volume.TierCold}

	var seenTenant string
	e := NewEvaluator(reg, func(ctx context.Context, tenantCode string) (Repository, error) {
		seenTenant = tenantCode
		return repo, nil
	}, vols)

	if err := e.EvaluateMigrationRules(context.Background()); err != nil {
		t.Fatalf("EvaluateMigrationRules() error = %v", err)
	}
	if seenTenant != "acme" {
		t.Fatalf("repository resolved for tenant %q, want acme", seenTenant)
	}
}

func TestEvaluateCompressionRulesQueuesOneTaskPerStudy(t *testing.T) {
	reg := newFakeRegistry()
	reg.tenants = []string{"acme"}
	reg.rules = []registry.LifecycleRule{{
		ID:              2,
		Enabled:         true,
		Action:          actionCompress,
		SourceTier:      string(volume.TierWarm),
		ConditionKind:   "LAST_ACCESS_DAYS",
		ConditionValue:  30,
		CompressionType: sql.NullString{String: "1.2.840.10008.1.2.4.70", Valid: true},
	}}

	repo := newFakeRepository()
	repo.compressionStudyIDs = []int64{55, 56}

	vols := newFakeVolumes()
	vols.idsByTier[volume.TierWarm] = []int64{2}

	e := NewEvaluator(reg, func(ctx context.Context, tenantCode string) (Repository, error) { return repo, nil }, vols)

	if err := e.EvaluateCompressionRules(context.Background()); err != nil {
		t.Fatalf("EvaluateCompressionRules() error = %v", err)
	}
	if len(repo.insertedCompression) != 2 {
		t.Fatalf("inserted %d compression tasks, want 2", len(repo.insertedCompression))
	}
}

func TestRunRuleRejectsDisabledRule(t *testing.T) {
	reg := newFakeRegistry()
	rule := migrateRuleFixture()
	rule.Enabled = false
	reg.rules = []registry.LifecycleRule{rule}

	e := NewEvaluator(reg, nil, newFakeVolumes())
	if err := e.RunRule(context.Background(), rule.ID); err == nil {
		t.Fatal("expected RunRule to reject a disabled rule")
	}
}

func TestRunRuleDispatchesByAction(t *testing.T) {
	reg := newFakeRegistry()
	rule := migrateRuleFixture()
	reg.rules = []registry.LifecycleRule{rule}

	vols := newFakeVolumes()
	vols.idsByTier[volume.TierHot] = []int64{1}
	vols.writeVolume[volume.TierCold] = volume.Volume{ID: 9, Tier: volume.TierCold}

	repo := newFakeRepository()
	e := NewEvaluator(reg, func(ctx context.Context, tenantCode string) (Repository, error) { return repo, nil }, vols)

	if err := e.RunRule(context.Background(), rule.ID); err != nil {
		t.Fatalf("RunRule() error = %v", err)
	}
}
