package registry

import (
	"context"
	"database/sql"
	"fmt"

	sqrl "github.com/Masterminds/squirrel"
)

const tableMigrationTask = "migration_task"

// Migration task lifecycle states (spec.md §4.12).
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
	TaskFailed     = "FAILED"
)

// MigrationTask mirrors the shared-schema migration_task table: one row
// per candidate instance, naming the tenant it belongs to since the
// instance itself lives in that tenant's partitioned schema.
type MigrationTask struct {
	ID             int64          `db:"id"`
	RuleID         int64          `db:"rule_fk"`
	TenantCode     string         `db:"tenant_code"`
	InstanceID     int64          `db:"instance_id"`
	SeriesID       int64          `db:"series_id"`
	SourceVolumeID int64          `db:"source_volume_id"`
	TargetVolumeID int64          `db:"target_volume_id"`
	DeleteSource   bool           `db:"delete_source"`
	Status         string         `db:"status"`
	ErrorMessage   sql.NullString `db:"error_message"`
}

// RuleByID fetches a single lifecycle rule, used by the admin manual-run
// trigger (spec.md §4.12).
func (r *Registry) RuleByID(ctx context.Context, ruleID int64) (LifecycleRule, error) {
	q, args, err := psql.Select(
		"id", "enabled", "action", "source_tier", "target_tier",
		"condition_kind", "condition_value_days", "delete_source",
		"compression_type", "tenant_code",
	).From(tableLifecycleRule).
		Where(sqrl.Eq{"id": ruleID}).
		ToSql()
	if err != nil {
		return LifecycleRule{}, err
	}
	var rule LifecycleRule
	if err := r.db.GetContext(ctx, &rule, q, args...); err != nil {
		return LifecycleRule{}, fmt.Errorf("registry: load lifecycle rule %d: %w", ruleID, err)
	}
	return rule, nil
}

// ExistingMigrationInstanceIDs reports which of candidateInstanceIDs
// already have a non-terminal-or-completed migration_task row for this
// tenant, implementing spec.md §4.12's "no PENDING/IN_PROGRESS/COMPLETED
// migration task already exists" exclusion.
func (r *Registry) ExistingMigrationInstanceIDs(ctx context.Context, tenantCode string, candidateInstanceIDs []int64) (map[int64]bool, error) {
	if len(candidateInstanceIDs) == 0 {
		return nil, nil
	}
	ids := make([]interface{}, len(candidateInstanceIDs))
	for i, id := range candidateInstanceIDs {
		ids[i] = id
	}

	q, args, err := psql.Select("instance_id").
		From(tableMigrationTask).
		Where(sqrl.Eq{
			"tenant_code": tenantCode,
			"instance_id": ids,
			"status":      []string{TaskPending, TaskInProgress, TaskCompleted},
		}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var found []int64
	if err := r.db.SelectContext(ctx, &found, q, args...); err != nil {
		return nil, fmt.Errorf("registry: existing migration tasks for %s: %w", tenantCode, err)
	}
	out := make(map[int64]bool, len(found))
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

// InsertMigrationTasks queues every candidate as a PENDING migration
// task. The nightly evaluator caps the batch at 10000 rows per pass
// (spec.md §4.12) before calling this.
func (r *Registry) InsertMigrationTasks(ctx context.Context, tasks []MigrationTask) error {
	if len(tasks) == 0 {
		return nil
	}
	ib := psql.Insert(tableMigrationTask).
		Columns("rule_fk", "tenant_code", "instance_id", "series_id", "source_volume_id", "target_volume_id", "delete_source", "status")
	for _, t := range tasks {
		ib = ib.Values(t.RuleID, t.TenantCode, t.InstanceID, t.SeriesID, t.SourceVolumeID, t.TargetVolumeID, t.DeleteSource, TaskPending)
	}
	q, args, err := ib.ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("registry: insert migration tasks: %w", err)
	}
	return nil
}

// ListPendingMigrationTasks pulls up to limit PENDING rows for the
// 10-minute worker tick (spec.md §4.12).
func (r *Registry) ListPendingMigrationTasks(ctx context.Context, limit int) ([]MigrationTask, error) {
	q, args, err := psql.Select("*").
		From(tableMigrationTask).
		Where(sqrl.Eq{"status": TaskPending}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []MigrationTask
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("registry: list pending migration tasks: %w", err)
	}
	return rows, nil
}

func (r *Registry) setMigrationTaskStatus(ctx context.Context, taskID int64, status, errMsg string) error {
	upd := psql.Update(tableMigrationTask).Set("status", status).Where(sqrl.Eq{"id": taskID})
	if errMsg != "" {
		upd = upd.Set("error_message", errMsg)
	}
	q, args, err := upd.ToSql()
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("registry: set migration task %d status %s: %w", taskID, status, err)
	}
	return nil
}

func (r *Registry) MarkMigrationTaskInProgress(ctx context.Context, taskID int64) error {
	return r.setMigrationTaskStatus(ctx, taskID, TaskInProgress, "")
}

func (r *Registry) MarkMigrationTaskCompleted(ctx context.Context, taskID int64) error {
	return r.setMigrationTaskStatus(ctx, taskID, TaskCompleted, "")
}

func (r *Registry) MarkMigrationTaskFailed(ctx context.Context, taskID int64, cause error) error {
	return r.setMigrationTaskStatus(ctx, taskID, TaskFailed, cause.Error())
}

// RequeueMigrationTask resets a FAILED task back to PENDING for the
// worker to pick up again (spec.md §4.12 "admin can re-queue").
func (r *Registry) RequeueMigrationTask(ctx context.Context, taskID int64) error {
	q, args, err := psql.Update(tableMigrationTask).
		Set("status", TaskPending).
		Set("error_message", nil).
		Where(sqrl.Eq{"id": taskID, "status": TaskFailed}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("registry: requeue migration task %d: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("registry: migration task %d is not FAILED, nothing to requeue", taskID)
	}
	return nil
}
