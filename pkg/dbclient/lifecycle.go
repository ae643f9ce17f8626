package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
)

const TCompressionTask = "compression_task"

// Compression task lifecycle states (spec.md §4.12).
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskCompleted  = "COMPLETED"
	TaskFailed     = "FAILED"
)

// CompressionTask mirrors the per-tenant compression_task table: one row
// per study per compression_type, never per instance.
type CompressionTask struct {
	ID              int64          `db:"id"`
	StudyID         int64          `db:"study_fk"`
	CompressionType string         `db:"compression_type"`
	Status          string         `db:"status"`
	ErrorMessage    sql.NullString `db:"error_message"`
}

// MigrationCandidate is one instance eligible for a MIGRATE rule: its
// owning volume matches the rule's source tier and its owning study
// meets the rule's age condition.
type MigrationCandidate struct {
	InstanceID     int64  `db:"id"`
	SeriesID       int64  `db:"series_fk"`
	SourceVolumeID int64  `db:"volume_id"`
	SOPInstanceUID string `db:"sop_instance_uid"`
}

// conditionPredicate builds the STUDY_AGE_DAYS / LAST_ACCESS_DAYS where
// clause shared by migration and compression candidate queries.
func conditionPredicate(conditionKind string, conditionDays int) (sqrl.Sqlizer, error) {
	cutoff := time.Now().AddDate(0, 0, -conditionDays)
	switch conditionKind {
	case "STUDY_AGE_DAYS":
		return sqrl.Expr("study.study_date <= ?", cutoff.Format("20060102")), nil
	case "LAST_ACCESS_DAYS":
		return sqrl.Or{
			sqrl.Expr("study.last_accessed_at IS NULL"),
			sqrl.Expr("study.last_accessed_at <= ?", cutoff),
		}, nil
	default:
		return nil, fmt.Errorf("dbclient: unknown lifecycle condition kind %q", conditionKind)
	}
}

// CandidateMigrationInstances finds up to limit instances on one of
// sourceVolumeIDs whose owning study meets the rule's age condition. It
// does not exclude instances that already have a migration task:
// migration_task lives in the shared schema, not here, so the caller
// filters those out afterwards.
func (c *Client) CandidateMigrationInstances(ctx context.Context, sourceVolumeIDs []int64, conditionKind string, conditionDays int, limit int) ([]MigrationCandidate, error) {
	if err := c.requireDB(); err != nil {
		return nil, err
	}
	if len(sourceVolumeIDs) == 0 {
		return nil, nil
	}
	cond, err := conditionPredicate(conditionKind, conditionDays)
	if err != nil {
		return nil, err
	}

	volIDs := make([]interface{}, len(sourceVolumeIDs))
	for i, id := range sourceVolumeIDs {
		volIDs[i] = id
	}

	q, args, err := psql.Select("instance.id", "instance.series_fk", "instance.volume_id", "instance.sop_instance_uid").
		From(TInstance + " instance").
		Join(TSeries + " series ON series.id = instance.series_fk").
		Join(TStudy + " study ON study.id = series.study_fk").
		Where(sqrl.Eq{"instance.volume_id": volIDs}).
		Where(cond).
		OrderBy("instance.id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []MigrationCandidate
	if err := c.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("dbclient: candidate migration instances: %w", err)
	}
	return rows, nil
}

// CandidateCompressionStudies finds every study on one of
// sourceVolumeIDs (any instance in the study resides there) meeting the
// rule's age condition, excluding studies that already have a
// non-terminal compression_task of the same compressionType.
func (c *Client) CandidateCompressionStudies(ctx context.Context, sourceVolumeIDs []int64, conditionKind string, conditionDays int, compressionType string) ([]int64, error) {
	if err := c.requireDB(); err != nil {
		return nil, err
	}
	if len(sourceVolumeIDs) == 0 {
		return nil, nil
	}
	cond, err := conditionPredicate(conditionKind, conditionDays)
	if err != nil {
		return nil, err
	}

	volIDs := make([]interface{}, len(sourceVolumeIDs))
	for i, id := range sourceVolumeIDs {
		volIDs[i] = id
	}

	q, args, err := psql.Select("DISTINCT study.id").
		From(TStudy + " study").
		Join(TSeries + " series ON series.study_fk = study.id").
		Join(TInstance + " instance ON instance.series_fk = series.id").
		Where(sqrl.Eq{"instance.volume_id": volIDs}).
		Where(cond).
		Where(sqrl.Expr(
			"study.id NOT IN (SELECT study_fk FROM "+TCompressionTask+
				" WHERE compression_type = ? AND status IN (?, ?))",
			compressionType, TaskPending, TaskInProgress,
		)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var ids []int64
	if err := c.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, fmt.Errorf("dbclient: candidate compression studies: %w", err)
	}
	return ids, nil
}

// InsertCompressionTask queues one study for compression.
func (c *Client) InsertCompressionTask(ctx context.Context, studyID int64, compressionType string) error {
	if err := c.requireDB(); err != nil {
		return err
	}
	q, args, err := psql.Insert(TCompressionTask).
		Columns("study_fk", "compression_type", "status").
		Values(studyID, compressionType, TaskPending).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("dbclient: insert compression task for study %d: %w", studyID, err)
	}
	return nil
}

// ListPendingCompressionTasks pulls up to limit PENDING rows for the
// worker tick.
func (c *Client) ListPendingCompressionTasks(ctx context.Context, limit int) ([]CompressionTask, error) {
	if err := c.requireDB(); err != nil {
		return nil, err
	}
	q, args, err := psql.Select("*").
		From(TCompressionTask).
		Where(sqrl.Eq{"status": TaskPending}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []CompressionTask
	if err := c.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("dbclient: list pending compression tasks: %w", err)
	}
	return rows, nil
}

func (c *Client) setCompressionTaskStatus(ctx context.Context, taskID int64, status string, errMsg string) error {
	if err := c.requireDB(); err != nil {
		return err
	}
	upd := psql.Update(TCompressionTask).Set("status", status).Where(sqrl.Eq{"id": taskID})
	if errMsg != "" {
		upd = upd.Set("error_message", errMsg)
	}
	q, args, err := upd.ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("dbclient: set compression task %d status %s: %w", taskID, status, err)
	}
	return nil
}

func (c *Client) MarkCompressionTaskInProgress(ctx context.Context, taskID int64) error {
	return c.setCompressionTaskStatus(ctx, taskID, TaskInProgress, "")
}

func (c *Client) MarkCompressionTaskCompleted(ctx context.Context, taskID int64) error {
	return c.setCompressionTaskStatus(ctx, taskID, TaskCompleted, "")
}

func (c *Client) MarkCompressionTaskFailed(ctx context.Context, taskID int64, cause error) error {
	return c.setCompressionTaskStatus(ctx, taskID, TaskFailed, cause.Error())
}

// LoadInstanceByID fetches one instance row, used by the migration and
// compression workers once a candidate has been selected.
func (c *Client) LoadInstanceByID(ctx context.Context, instanceID int64) (Instance, error) {
	if err := c.requireDB(); err != nil {
		return Instance{}, err
	}
	var row Instance
	q, args, err := psql.Select("instance.*").
		From(TInstance + " instance").
		Where(sqrl.Eq{"instance.id": instanceID}).
		ToSql()
	if err != nil {
		return Instance{}, err
	}
	if err := c.db.GetContext(ctx, &row, q, args...); err != nil {
		return Instance{}, fmt.Errorf("dbclient: load instance %d: %w", instanceID, err)
	}
	return row, nil
}

// InstancesForStudy lists every instance under studyID in instance-number
// order, the compression worker's required processing order.
func (c *Client) InstancesForStudy(ctx context.Context, studyID int64) ([]Instance, error) {
	if err := c.requireDB(); err != nil {
		return nil, err
	}
	q, args, err := psql.Select("instance.*").
		From(TInstance + " instance").
		Join(TSeries + " series ON series.id = instance.series_fk").
		Where(sqrl.Eq{"series.study_fk": studyID}).
		OrderBy("instance.instance_number").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []Instance
	if err := c.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("dbclient: instances for study %d: %w", studyID, err)
	}
	return rows, nil
}

// UpdateInstanceVolume moves an instance's recorded location to a new
// volume/path pair, the last step of a successful migration task.
func (c *Client) UpdateInstanceVolume(ctx context.Context, instanceID, volumeID int64, storagePath string) error {
	if err := c.requireDB(); err != nil {
		return err
	}
	q, args, err := psql.Update(TInstance).
		Set("volume_id", volumeID).
		Set("storage_path", storagePath).
		Where(sqrl.Eq{"id": instanceID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("dbclient: update instance %d volume: %w", instanceID, err)
	}
	return nil
}

// UpdateInstanceTransferSyntax records a completed in-place transcode:
// new transfer syntax and file size for one instance.
func (c *Client) UpdateInstanceTransferSyntax(ctx context.Context, instanceID int64, transferSyntaxUID string, byteSize int64) error {
	if err := c.requireDB(); err != nil {
		return err
	}
	q, args, err := psql.Update(TInstance).
		Set("transfer_syntax_uid", transferSyntaxUID).
		Set("byte_size", byteSize).
		Where(sqrl.Eq{"id": instanceID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("dbclient: update instance %d transfer syntax: %w", instanceID, err)
	}
	return nil
}

// AllInstancesOnVolume reports whether every instance of seriesID now
// resides on volumeID, the migration worker's "rebuild cache at the
// target" trigger.
func (c *Client) AllInstancesOnVolume(ctx context.Context, seriesID, volumeID int64) (bool, error) {
	if err := c.requireDB(); err != nil {
		return false, err
	}
	q, args, err := psql.Select("count(*)").
		From(TInstance).
		Where(sqrl.Eq{"series_fk": seriesID}).
		Where(sqrl.NotEq{"volume_id": volumeID}).
		ToSql()
	if err != nil {
		return false, err
	}
	var remaining int
	if err := c.db.GetContext(ctx, &remaining, q, args...); err != nil {
		return false, fmt.Errorf("dbclient: count instances off volume for series %d: %w", seriesID, err)
	}
	return remaining == 0, nil
}

// ClearSeriesMetadataInfo invalidates a series' cached metadata-file
// pointer so the next WADO-RS metadata request rebuilds it — used after a
// migration moves every instance of a series to a new volume.
func (c *Client) ClearSeriesMetadataInfo(ctx context.Context, seriesID int64) error {
	if err := c.requireDB(); err != nil {
		return err
	}
	q, args, err := psql.Update(TSeries).
		Set("metadata_volume_id", nil).
		Set("metadata_path", nil).
		Where(sqrl.Eq{"id": seriesID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("dbclient: clear series metadata info for %d: %w", seriesID, err)
	}
	return nil
}

// RecomputeCompressionSizes mirrors refreshCounters's aggregate-from-
// instances approach (upsert.go) for the compression worker's final
// step: series_size/study_size recomputed from instance.byte_size, plus
// the series-level compression marker. compressionType is the rule's
// compression_type value, which SPAX treats as the target transfer
// syntax UID instances were transcoded to (DESIGN.md's compression-type
// Open Question decision).
func (c *Client) RecomputeCompressionSizes(ctx context.Context, studyID int64, seriesIDs []int64, compressionType string) error {
	if err := c.requireDB(); err != nil {
		return err
	}
	for _, seriesID := range seriesIDs {
		q, args, err := psql.Update(TSeries).
			Set("series_size", sqrl.Expr("(SELECT COALESCE(SUM(byte_size), 0) FROM "+TInstance+" WHERE series_fk = ?)", seriesID)).
			Set("compression_transfer_syntax_uid", compressionType).
			Set("compress_time", time.Now()).
			Where(sqrl.Eq{"id": seriesID}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("dbclient: recompute series %d sizes: %w", seriesID, err)
		}
	}

	q, args, err := psql.Update(TStudy).
		Set("study_size", sqrl.Expr("(SELECT COALESCE(SUM(series_size), 0) FROM "+TSeries+" WHERE study_fk = ?)", studyID)).
		Where(sqrl.Eq{"id": studyID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("dbclient: recompute study %d size: %w", studyID, err)
	}
	return nil
}

// SeriesIDsForStudy lists every series id under a study, used by the
// compression worker to know which series to recompute after a study's
// instances have been transcoded.
func (c *Client) SeriesIDsForStudy(ctx context.Context, studyID int64) ([]int64, error) {
	if err := c.requireDB(); err != nil {
		return nil, err
	}
	q, args, err := psql.Select("id").
		From(TSeries).
		Where(sqrl.Eq{"study_fk": studyID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := c.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, fmt.Errorf("dbclient: series ids for study %d: %w", studyID, err)
	}
	return ids, nil
}
