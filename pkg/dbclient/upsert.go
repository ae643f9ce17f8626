package dbclient

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
	"github.com/spax-archive/spax/pkg/dicomx"
)

var psql = sqrl.StatementBuilder.PlaceholderFormat(sqrl.Dollar)

// IngestItem is one parsed-and-stored instance waiting to be indexed,
// the unit spec.md §4.7's bulk-upsert repository accepts.
type IngestItem struct {
	Metadata    *dicomx.Metadata
	VolumeID    int64
	StoragePath string
	FileSize    int64
}

// AffectedSeries identifies one series touched by a batch, used by the
// ingest consumer to evict the caches keyed on it (spec.md §4.8).
type AffectedSeries struct {
	SeriesID  int64
	SeriesUID string
	StudyUID  string
}

type BulkUpsertResult struct {
	AffectedSeries []AffectedSeries
}

func sha1Hex(parts ...string) string {
	h := sha1.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte("|"))
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BulkUpsert performs the five-step transaction spec.md §4.7 describes:
// patient upsert, study upsert, series upsert, partition-aware instance
// dedup+insert, and counter refresh. The whole operation is atomic — a
// failed batch leaves every row unchanged.
func (c *Client) BulkUpsert(ctx context.Context, items []IngestItem) (*BulkUpsertResult, error) {
	if len(items) == 0 {
		return &BulkUpsertResult{}, nil
	}
	if err := c.requireDB(); err != nil {
		return nil, err
	}

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, spaxerrors.NewStorageUnavailable(err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				klog.ErrorS(rbErr, "bulk upsert rollback failed")
			}
		}
	}()

	patientIDs, err := upsertPatients(ctx, tx, items)
	if err != nil {
		return nil, fmt.Errorf("dbclient: upsert patients: %w", err)
	}

	studyIDs, err := upsertStudies(ctx, tx, items, patientIDs)
	if err != nil {
		return nil, fmt.Errorf("dbclient: upsert studies: %w", err)
	}

	seriesByKey, err := upsertSeries(ctx, tx, items, studyIDs)
	if err != nil {
		return nil, fmt.Errorf("dbclient: upsert series: %w", err)
	}

	affectedStudyIDs, err := insertInstances(ctx, tx, items, studyIDs, seriesByKey)
	if err != nil {
		return nil, fmt.Errorf("dbclient: insert instances: %w", err)
	}

	result := &BulkUpsertResult{}
	for _, s := range seriesByKey {
		result.AffectedSeries = append(result.AffectedSeries, AffectedSeries{
			SeriesID:  s.id,
			SeriesUID: s.seriesUID,
			StudyUID:  s.studyUID,
		})
	}

	if err := refreshCounters(ctx, tx, seriesByKey, affectedStudyIDs); err != nil {
		return nil, fmt.Errorf("dbclient: refresh counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, spaxerrors.NewConflict(fmt.Sprintf("bulk upsert commit failed: %v", err))
	}
	committed = true
	return result, nil
}

func upsertPatients(ctx context.Context, tx *sqlx.Tx, items []IngestItem) (map[string]int64, error) {
	ids := make(map[string]int64)
	seen := make(map[string]bool)

	for _, it := range items {
		m := it.Metadata
		key := sha1Hex(m.PatientID)
		if seen[key] {
			continue
		}
		seen[key] = true

		q, args, err := psql.Insert(TPatient).
			Columns("public_id", "raw_patient_id", "name", "birth_date", "sex", "is_provisional", "version").
			Values(key, m.PatientID, m.PatientName, m.PatientBirthDate, m.PatientSex, m.PatientIDProvisional, 1).
			Suffix(`ON CONFLICT (public_id) DO UPDATE SET
				name = COALESCE(NULLIF(EXCLUDED.name, ''), patient.name),
				birth_date = COALESCE(NULLIF(EXCLUDED.birth_date, ''), patient.birth_date),
				sex = COALESCE(NULLIF(EXCLUDED.sex, ''), patient.sex),
				updated_at = now()
			RETURNING id`).
			ToSql()
		if err != nil {
			return nil, err
		}

		var id int64
		if err := tx.QueryRowxContext(ctx, q, args...).Scan(&id); err != nil {
			return nil, err
		}
		ids[key] = id
	}
	return ids, nil
}

func upsertStudies(ctx context.Context, tx *sqlx.Tx, items []IngestItem, patientIDs map[string]int64) (map[string]int64, error) {
	ids := make(map[string]int64)
	seen := make(map[string]bool)

	for _, it := range items {
		m := it.Metadata
		patientKey := sha1Hex(m.PatientID)
		key := sha1Hex(m.PatientID, m.StudyUID)
		if seen[key] {
			continue
		}
		seen[key] = true

		patientID, ok := patientIDs[patientKey]
		if !ok {
			return nil, fmt.Errorf("study %q references unresolved patient key %q", m.StudyUID, patientKey)
		}

		q, args, err := psql.Insert(TStudy).
			Columns("public_id", "study_uid", "patient_id", "study_date", "description", "accession_number", "referring_physician", "version").
			Values(key, m.StudyUID, patientID, m.StudyDate, m.StudyDescription, m.AccessionNumber, m.ReferringPhysician, 1).
			Suffix(`ON CONFLICT (public_id) DO UPDATE SET
				study_date = COALESCE(NULLIF(EXCLUDED.study_date, ''), study.study_date),
				description = COALESCE(NULLIF(EXCLUDED.description, ''), study.description),
				accession_number = COALESCE(NULLIF(EXCLUDED.accession_number, ''), study.accession_number),
				referring_physician = COALESCE(NULLIF(EXCLUDED.referring_physician, ''), study.referring_physician),
				updated_at = now()
			RETURNING id`).
			ToSql()
		if err != nil {
			return nil, err
		}

		var id int64
		if err := tx.QueryRowxContext(ctx, q, args...).Scan(&id); err != nil {
			return nil, err
		}
		ids[key] = id
	}
	return ids, nil
}

// seriesRow is the per-series accumulator: the database id, the
// partition-defining created_date (taken from the RETURNING clause, never
// CURRENT_DATE), and the identifiers the cache-eviction step needs.
type seriesRow struct {
	id          int64
	studyID     int64
	seriesUID   string
	studyUID    string
	createdDate time.Time
}

func upsertSeries(ctx context.Context, tx *sqlx.Tx, items []IngestItem, studyIDs map[string]int64) (map[string]*seriesRow, error) {
	result := make(map[string]*seriesRow)

	for _, it := range items {
		m := it.Metadata
		studyKey := sha1Hex(m.PatientID, m.StudyUID)
		studyID, ok := studyIDs[studyKey]
		if !ok {
			return nil, fmt.Errorf("series %q references unresolved study key %q", m.SeriesUID, studyKey)
		}

		seriesKey := fmt.Sprintf("%d:%s", studyID, m.SeriesUID)
		if _, ok := result[seriesKey]; ok {
			continue
		}

		q, args, err := psql.Insert(TSeries).
			Columns("study_fk", "series_uid", "modality", "created_date").
			Values(studyID, m.SeriesUID, m.Modality, sqrl.Expr("now()::date")).
			Suffix(`ON CONFLICT (study_fk, series_uid) DO UPDATE SET
				modality = COALESCE(NULLIF(EXCLUDED.modality, ''), series.modality)
			RETURNING id, created_date`).
			ToSql()
		if err != nil {
			return nil, err
		}

		var row seriesRow
		if err := tx.QueryRowxContext(ctx, q, args...).Scan(&row.id, &row.createdDate); err != nil {
			return nil, err
		}
		row.studyID = studyID
		row.seriesUID = m.SeriesUID
		row.studyUID = m.StudyUID
		result[seriesKey] = &row
	}
	return result, nil
}

// insertInstances dedups against existing (series_fk, created_date) rows
// — partition-pruned by the created_date predicate — then batch-inserts
// the remainder using each series' captured created_date. Resends (same
// SOP UID already present) are no-ops. Returns the set of study ids whose
// counters need refreshing.
func insertInstances(ctx context.Context, tx *sqlx.Tx, items []IngestItem, studyIDs map[string]int64, seriesByKey map[string]*seriesRow) (map[int64]bool, error) {
	grouped := make(map[string][]IngestItem)
	for _, it := range items {
		m := it.Metadata
		studyKey := sha1Hex(m.PatientID, m.StudyUID)
		studyID := studyIDs[studyKey]
		seriesKey := fmt.Sprintf("%d:%s", studyID, m.SeriesUID)
		grouped[seriesKey] = append(grouped[seriesKey], it)
	}

	affectedStudyIDs := make(map[int64]bool)

	for seriesKey, groupItems := range grouped {
		series, ok := seriesByKey[seriesKey]
		if !ok {
			return nil, fmt.Errorf("instances reference unresolved series key %q", seriesKey)
		}

		existing, err := existingSOPUIDs(ctx, tx, series.id, series.createdDate)
		if err != nil {
			return nil, err
		}

		insert := psql.Insert(TInstance).Columns(
			"created_date", "sop_instance_uid", "sop_class_uid", "instance_number",
			"transfer_syntax_uid", "number_of_frames", "byte_size", "volume_id",
			"storage_path", "series_fk", "series_uid", "study_uid",
		)

		pending := 0
		for _, it := range groupItems {
			m := it.Metadata
			if existing[m.SOPInstanceUID] {
				continue
			}
			existing[m.SOPInstanceUID] = true
			insert = insert.Values(
				series.createdDate, m.SOPInstanceUID, m.SOPClassUID, m.InstanceNumber,
				m.TransferSyntaxUID, m.NumberOfFrames, it.FileSize, it.VolumeID,
				it.StoragePath, series.id, series.seriesUID, series.studyUID,
			)
			pending++
		}

		if pending == 0 {
			continue
		}

		q, args, err := insert.ToSql()
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return nil, err
		}
		affectedStudyIDs[series.studyID] = true
	}

	return affectedStudyIDs, nil
}

func existingSOPUIDs(ctx context.Context, tx *sqlx.Tx, seriesID int64, createdDate time.Time) (map[string]bool, error) {
	q, args, err := psql.Select("sop_instance_uid").
		From(TInstance).
		Where(sqrl.Eq{"series_fk": seriesID, "created_date": createdDate}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var sopUID string
		if err := rows.Scan(&sopUID); err != nil {
			return nil, err
		}
		existing[sopUID] = true
	}
	return existing, rows.Err()
}

// refreshCounters recomputes num_instances/series_size per touched series
// and num_series/num_instances/study_size per touched study, from the
// aggregated instance/series rows rather than incremental counters — so a
// redelivered batch that dedups to zero new rows leaves counters correct.
func refreshCounters(ctx context.Context, tx *sqlx.Tx, seriesByKey map[string]*seriesRow, affectedStudyIDs map[int64]bool) error {
	for _, series := range seriesByKey {
		q, args, err := psql.Update(TSeries).
			Set("num_instances", sqrl.Expr("(SELECT count(*) FROM "+TInstance+" WHERE series_fk = ?)", series.id)).
			Set("series_size", sqrl.Expr("(SELECT COALESCE(SUM(byte_size), 0) FROM "+TInstance+" WHERE series_fk = ?)", series.id)).
			Where(sqrl.Eq{"id": series.id}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}

	for studyID := range affectedStudyIDs {
		q, args, err := psql.Update(TStudy).
			Set("num_series", sqrl.Expr("(SELECT count(*) FROM "+TSeries+" WHERE study_fk = ?)", studyID)).
			Set("num_instances", sqrl.Expr("(SELECT COALESCE(SUM(num_instances), 0) FROM "+TSeries+" WHERE study_fk = ?)", studyID)).
			Set("study_size", sqrl.Expr("(SELECT COALESCE(SUM(series_size), 0) FROM "+TSeries+" WHERE study_fk = ?)", studyID)).
			Where(sqrl.Eq{"id": studyID}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}

	return nil
}
