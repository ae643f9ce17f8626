package lifecycle

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/registry"
	"github.com/spax-archive/spax/pkg/volume"
)

const (
	actionMigrate  = "MIGRATE"
	actionCompress = "COMPRESS"
)

// maxMigrationTasksPerPass caps how many migration_task rows one
// evaluation of a MIGRATE rule inserts, summed over that rule's tenants
// (spec.md §4.12). Each rule has its own cap.
const maxMigrationTasksPerPass = 10000

// migrationScanBatch bounds the CandidateMigrationInstances call made
// once per rule/tenant pair in a pass; candidates beyond it are not
// scanned until a later pass.
const migrationScanBatch = 1000

// Evaluator turns enabled lifecycle_rule rows into queued work. It reads
// rules and the active-tenant list from the shared registry, scans
// candidates through a tenant-scoped Repository, and writes task rows
// back through whichever store owns them (migration_task in the shared
// registry, compression_task in the tenant's own schema).
type Evaluator struct {
	Registry Registry
	RepoFor  RepositoryFor
	Volumes  Volumes

	// MaxTasksPerPass overrides maxMigrationTasksPerPass, set from
	// pkg/config.LifecycleConfig.MigrationTaskCap.
	MaxTasksPerPass int
}

func NewEvaluator(reg Registry, repoFor RepositoryFor, volumes Volumes) *Evaluator {
	return &Evaluator{Registry: reg, RepoFor: repoFor, Volumes: volumes}
}

func (e *Evaluator) maxTasksPerPass() int {
	if e.MaxTasksPerPass <= 0 {
		return maxMigrationTasksPerPass
	}
	return e.MaxTasksPerPass
}

// EvaluateMigrationRules runs every enabled MIGRATE rule once.
func (e *Evaluator) EvaluateMigrationRules(ctx context.Context) error {
	rules, err := e.Registry.LifecycleRules(ctx, actionMigrate)
	if err != nil {
		return errors.Wrap(err, "lifecycle: load migrate rules")
	}
	for _, rule := range rules {
		if err := e.evaluateMigrationRule(ctx, rule); err != nil {
			klog.ErrorS(err, "lifecycle: migrate rule evaluation failed", "rule", rule.ID)
		}
	}
	return nil
}

// EvaluateCompressionRules runs every enabled COMPRESS rule once.
func (e *Evaluator) EvaluateCompressionRules(ctx context.Context) error {
	rules, err := e.Registry.LifecycleRules(ctx, actionCompress)
	if err != nil {
		return errors.Wrap(err, "lifecycle: load compress rules")
	}
	for _, rule := range rules {
		if err := e.evaluateCompressionRule(ctx, rule); err != nil {
			klog.ErrorS(err, "lifecycle: compress rule evaluation failed", "rule", rule.ID)
		}
	}
	return nil
}

// RunRule evaluates a single rule by id regardless of its action,
// satisfying handlers.LifecycleRunner for the admin manual-trigger
// endpoint.
func (e *Evaluator) RunRule(ctx context.Context, ruleID int64) error {
	rule, err := e.Registry.RuleByID(ctx, ruleID)
	if err != nil {
		return errors.Wrapf(err, "lifecycle: load rule %d", ruleID)
	}
	if !rule.Enabled {
		return errors.Errorf("lifecycle: rule %d is disabled", ruleID)
	}
	switch rule.Action {
	case actionMigrate:
		return e.evaluateMigrationRule(ctx, rule)
	case actionCompress:
		return e.evaluateCompressionRule(ctx, rule)
	default:
		return errors.Errorf("lifecycle: rule %d has unknown action %q", ruleID, rule.Action)
	}
}

// rulesTenants returns the tenants a rule applies to: just its scoped
// tenant if one is set, otherwise every active tenant (spec.md §3's
// "optional tenant scope, null = all tenants").
func (e *Evaluator) rulesTenants(ctx context.Context, rule registry.LifecycleRule) ([]string, error) {
	if rule.TenantCode.Valid && rule.TenantCode.String != "" {
		return []string{rule.TenantCode.String}, nil
	}
	return e.Registry.ActiveTenantCodes(ctx)
}

func (e *Evaluator) evaluateMigrationRule(ctx context.Context, rule registry.LifecycleRule) error {
	if !rule.TargetTier.Valid || rule.TargetTier.String == "" {
		return errors.Errorf("lifecycle: migrate rule %d has no target tier", rule.ID)
	}
	sourceVolumeIDs := e.Volumes.VolumeIDsInTier(volume.Tier(rule.SourceTier))
	if len(sourceVolumeIDs) == 0 {
		return nil
	}
	targetVol, err := e.Volumes.ActiveWriteVolume(volume.Tier(rule.TargetTier.String))
	if err != nil {
		return errors.Wrapf(err, "lifecycle: no target volume for rule %d tier %s", rule.ID, rule.TargetTier.String)
	}

	tenants, err := e.rulesTenants(ctx, rule)
	if err != nil {
		return errors.Wrap(err, "lifecycle: resolve rule tenants")
	}

	taskCap := e.maxTasksPerPass()
	inserted := 0
	for _, tenantCode := range tenants {
		if inserted >= taskCap {
			klog.InfoS("lifecycle: migration task cap reached, deferring remaining tenants to next pass", "rule", rule.ID, "cap", taskCap)
			break
		}
		n, err := e.queueMigrationTasksForTenant(ctx, rule, tenantCode, sourceVolumeIDs, targetVol.ID, taskCap-inserted)
		if err != nil {
			klog.ErrorS(err, "lifecycle: migrate rule tenant scan failed", "rule", rule.ID, "tenant", tenantCode)
			continue
		}
		inserted += n
	}
	return nil
}

func (e *Evaluator) queueMigrationTasksForTenant(ctx context.Context, rule registry.LifecycleRule, tenantCode string, sourceVolumeIDs []int64, targetVolumeID int64, remaining int) (int, error) {
	repo, err := e.RepoFor(ctx, tenantCode)
	if err != nil {
		return 0, errors.Wrapf(err, "lifecycle: repository for tenant %s", tenantCode)
	}
	defer closeRepository(repo)

	candidates, err := repo.CandidateMigrationInstances(ctx, sourceVolumeIDs, rule.ConditionKind, rule.ConditionValue, migrationScanBatch)
	if err != nil {
		return 0, errors.Wrap(err, "lifecycle: scan migration candidates")
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	candidateIDs := make([]int64, len(candidates))
	for i, c := range candidates {
		candidateIDs[i] = c.InstanceID
	}
	existing, err := e.Registry.ExistingMigrationInstanceIDs(ctx, tenantCode, candidateIDs)
	if err != nil {
		return 0, errors.Wrap(err, "lifecycle: check existing migration tasks")
	}

	var tasks []registry.MigrationTask
	for _, c := range candidates {
		if existing[c.InstanceID] {
			continue
		}
		if len(tasks) >= remaining {
			break
		}
		tasks = append(tasks, registry.MigrationTask{
			RuleID:         rule.ID,
			TenantCode:     tenantCode,
			InstanceID:     c.InstanceID,
			SeriesID:       c.SeriesID,
			SourceVolumeID: c.SourceVolumeID,
			TargetVolumeID: targetVolumeID,
			DeleteSource:   rule.DeleteSource,
		})
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	if err := e.Registry.InsertMigrationTasks(ctx, tasks); err != nil {
		return 0, errors.Wrap(err, "lifecycle: insert migration tasks")
	}
	klog.InfoS("lifecycle: queued migration tasks", "rule", rule.ID, "tenant", tenantCode, "count", len(tasks))
	return len(tasks), nil
}

func (e *Evaluator) evaluateCompressionRule(ctx context.Context, rule registry.LifecycleRule) error {
	if !rule.CompressionType.Valid || rule.CompressionType.String == "" {
		return errors.Errorf("lifecycle: compress rule %d has no compression type", rule.ID)
	}
	sourceVolumeIDs := e.Volumes.VolumeIDsInTier(volume.Tier(rule.SourceTier))
	if len(sourceVolumeIDs) == 0 {
		return nil
	}

	tenants, err := e.rulesTenants(ctx, rule)
	if err != nil {
		return errors.Wrap(err, "lifecycle: resolve rule tenants")
	}

	for _, tenantCode := range tenants {
		if err := e.queueCompressionTasksForTenant(ctx, rule, tenantCode, sourceVolumeIDs); err != nil {
			klog.ErrorS(err, "lifecycle: compress rule tenant scan failed", "rule", rule.ID, "tenant", tenantCode)
		}
	}
	return nil
}

func (e *Evaluator) queueCompressionTasksForTenant(ctx context.Context, rule registry.LifecycleRule, tenantCode string, sourceVolumeIDs []int64) error {
	repo, err := e.RepoFor(ctx, tenantCode)
	if err != nil {
		return errors.Wrapf(err, "lifecycle: repository for tenant %s", tenantCode)
	}
	defer closeRepository(repo)

	studyIDs, err := repo.CandidateCompressionStudies(ctx, sourceVolumeIDs, rule.ConditionKind, rule.ConditionValue, rule.CompressionType.String)
	if err != nil {
		return errors.Wrap(err, "lifecycle: scan compression candidates")
	}
	for _, studyID := range studyIDs {
		if err := repo.InsertCompressionTask(ctx, studyID, rule.CompressionType.String); err != nil {
			klog.ErrorS(err, "lifecycle: queue compression task failed", "rule", rule.ID, "tenant", tenantCode, "study", studyID)
			continue
		}
	}
	if len(studyIDs) > 0 {
		klog.InfoS("lifecycle: queued compression tasks", "rule", rule.ID, "tenant", tenantCode, "count", len(studyIDs))
	}
	return nil
}
