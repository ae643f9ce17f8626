package dbclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	sqrl "github.com/Masterminds/squirrel"
)

// StudyFilter mirrors the QIDO /studies query parameters (spec.md §4.9).
// PatientName/PatientID accept DICOM wildcard syntax (`*`, `?`); Limit is
// capped at 1000 by the caller before reaching here.
type StudyFilter struct {
	PatientName      string
	PatientID        string
	StudyDateFrom    string
	StudyDateTo      string
	AccessionNumber  string
	StudyDescription string
	StudyUID         string
	Limit            int
	Offset           int
}

// StudyListRow is one QIDO study-list result: the study row plus the
// descriptive patient fields QIDO responses include.
type StudyListRow struct {
	Study
	PatientPublicID  string `db:"patient_public_id"`
	RawPatientID     string `db:"raw_patient_id"`
	PatientName      string `db:"patient_name"`
	PatientSex       string `db:"patient_sex"`
	PatientBirthDate string `db:"patient_birth_date"`
}

// likeWildcard converts DICOM's `*`/`?` wildcard syntax to SQL LIKE's
// `%`/`_`. Callers never see a raw `*`/`?` reach the database.
func likeWildcard(s string) string {
	s = strings.ReplaceAll(s, "*", "%")
	s = strings.ReplaceAll(s, "?", "_")
	return s
}

// QueryStudies runs the dynamic QIDO study-list predicate (spec.md §9's
// "dynamic SQL construction") via squirrel, joining patient for the
// name/id wildcard filters.
func (c *Client) QueryStudies(ctx context.Context, filter StudyFilter) ([]StudyListRow, error) {
	if err := c.requireDB(); err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	sb := psql.Select(
		"study.id", "study.public_id", "study.study_uid", "study.patient_id",
		"study.study_date", "study.description", "study.accession_number", "study.referring_physician",
		"study.num_series", "study.num_instances", "study.study_size", "study.last_accessed_at", "study.version",
		"patient.public_id AS patient_public_id", "patient.raw_patient_id",
		"patient.name AS patient_name", "patient.sex AS patient_sex",
		"patient.birth_date AS patient_birth_date",
	).From(TStudy + " study").
		Join(TPatient + " patient ON patient.id = study.patient_id").
		Limit(uint64(limit)).
		Offset(uint64(filter.Offset)).
		OrderBy("study.id DESC")

	if filter.PatientName != "" {
		sb = sb.Where(sqrl.Expr("patient.name ILIKE ?", likeWildcard(filter.PatientName)))
	}
	if filter.PatientID != "" {
		sb = sb.Where(sqrl.Expr("patient.raw_patient_id ILIKE ?", likeWildcard(filter.PatientID)))
	}
	if filter.AccessionNumber != "" {
		sb = sb.Where(sqrl.Eq{"study.accession_number": filter.AccessionNumber})
	}
	if filter.StudyDescription != "" {
		sb = sb.Where(sqrl.Expr("study.description ILIKE ?", likeWildcard(filter.StudyDescription)))
	}
	if filter.StudyUID != "" {
		sb = sb.Where(sqrl.Eq{"study.study_uid": filter.StudyUID})
	}
	if filter.StudyDateFrom != "" {
		to := filter.StudyDateTo
		if to == "" {
			to = filter.StudyDateFrom
		}
		sb = sb.Where(sqrl.GtOrEq{"study.study_date": filter.StudyDateFrom}).
			Where(sqrl.LtOrEq{"study.study_date": to})
	}

	q, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []StudyListRow
	if err := c.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("dbclient: query studies: %w", err)
	}
	return rows, nil
}

// QuerySeriesForStudy lists every series row under any study whose raw
// study UID matches studyUID. Study UID is not globally unique (spec.md
// §4.9), so more than one study's series may be returned.
func (c *Client) QuerySeriesForStudy(ctx context.Context, studyUID string) ([]Series, error) {
	if err := c.requireDB(); err != nil {
		return nil, err
	}

	q, args, err := psql.Select("series.*").
		From(TSeries + " series").
		Join(TStudy + " study ON study.id = series.study_fk").
		Where(sqrl.Eq{"study.study_uid": studyUID}).
		OrderBy("series.id").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []Series
	if err := c.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("dbclient: query series for study %q: %w", studyUID, err)
	}
	return rows, nil
}

// QueryInstancesForSeries lists every instance row under any series
// whose series UID matches seriesUID within the named study.
func (c *Client) QueryInstancesForSeries(ctx context.Context, studyUID, seriesUID string) ([]Instance, error) {
	if err := c.requireDB(); err != nil {
		return nil, err
	}

	q, args, err := psql.Select("instance.*").
		From(TInstance + " instance").
		Join(TSeries + " series ON series.id = instance.series_fk").
		Join(TStudy + " study ON study.id = series.study_fk").
		Where(sqrl.Eq{"study.study_uid": studyUID, "series.series_uid": seriesUID}).
		OrderBy("instance.instance_number").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []Instance
	if err := c.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("dbclient: query instances for series %q: %w", seriesUID, err)
	}
	return rows, nil
}

// TouchLastAccessed updates study.last_accessed_at for every listed id,
// asynchronously from the QIDO study-list handler's perspective; feeds
// the LAST_ACCESS_DAYS lifecycle condition (spec.md §4.9, §4.12).
func (c *Client) TouchLastAccessed(ctx context.Context, studyIDs []int64) error {
	if err := c.requireDB(); err != nil {
		return err
	}
	if len(studyIDs) == 0 {
		return nil
	}
	ids := make([]interface{}, len(studyIDs))
	for i, id := range studyIDs {
		ids[i] = id
	}

	q, args, err := psql.Update(TStudy).
		Set("last_accessed_at", time.Now()).
		Where(sqrl.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("dbclient: touch last_accessed_at: %w", err)
	}
	return nil
}

// InstanceLocation is one entry of the `instance-locations` cache value
// (spec.md §4.11): where an instance's bytes live and how to read them.
type InstanceLocation struct {
	SOPInstanceUID    string `json:"sopInstanceUid"`
	VolumeID          int64  `json:"volumeId"`
	Path              string `json:"path"`
	TransferSyntaxUID string `json:"tsUid"`
	NumFrames         int    `json:"numFrames"`
}

// SeriesRef identifies the series a location lookup resolved to, for
// cache keying and metadata-lookup purposes.
type SeriesRef struct {
	SeriesID    int64
	StudyID     int64
	SeriesUID   string
	CreatedDate time.Time
}

// LoadInstanceLocations performs the cache table's documented two-step,
// partition-pruned query: resolve the series' (id, created_date), then
// select every instance under that (series_fk, created_date) pair. When
// more than one series shares seriesUID, the most recently created one
// is used — the caller navigated in from a specific worklist context, so
// any ambiguity has already been resolved upstream.
func (c *Client) LoadInstanceLocations(ctx context.Context, seriesUID string) (SeriesRef, []InstanceLocation, error) {
	if err := c.requireDB(); err != nil {
		return SeriesRef{}, nil, err
	}

	seriesQ, seriesArgs, err := psql.Select("id", "study_fk", "created_date").
		From(TSeries).
		Where(sqrl.Eq{"series_uid": seriesUID}).
		OrderBy("id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return SeriesRef{}, nil, err
	}

	var ref SeriesRef
	ref.SeriesUID = seriesUID
	row := c.db.QueryRowxContext(ctx, seriesQ, seriesArgs...)
	if err := row.Scan(&ref.SeriesID, &ref.StudyID, &ref.CreatedDate); err != nil {
		return SeriesRef{}, nil, fmt.Errorf("dbclient: resolve series %q: %w", seriesUID, err)
	}

	instQ, instArgs, err := psql.Select(
		"sop_instance_uid", "volume_id", "storage_path", "transfer_syntax_uid", "number_of_frames",
	).From(TInstance).
		Where(sqrl.Eq{"series_fk": ref.SeriesID, "created_date": ref.CreatedDate}).
		ToSql()
	if err != nil {
		return SeriesRef{}, nil, err
	}

	rows, err := c.db.QueryxContext(ctx, instQ, instArgs...)
	if err != nil {
		return SeriesRef{}, nil, fmt.Errorf("dbclient: load instance locations for series %q: %w", seriesUID, err)
	}
	defer rows.Close()

	var locations []InstanceLocation
	for rows.Next() {
		var loc InstanceLocation
		if err := rows.Scan(&loc.SOPInstanceUID, &loc.VolumeID, &loc.Path, &loc.TransferSyntaxUID, &loc.NumFrames); err != nil {
			return SeriesRef{}, nil, err
		}
		locations = append(locations, loc)
	}
	return ref, locations, rows.Err()
}

// SeriesMetadataInfo is the `series-metadata-lookup` cache value.
type SeriesMetadataInfo struct {
	MetadataVolumeID int64  `json:"metadataVolumeId"`
	MetadataPath     string `json:"metadataPath"`
	Present          bool   `json:"present"`
}

// LoadSeriesMetadataInfo fetches the (volume id, path) pair for a
// series' metadata-cache file, if one has been built.
func (c *Client) LoadSeriesMetadataInfo(ctx context.Context, seriesID int64) (SeriesMetadataInfo, error) {
	if err := c.requireDB(); err != nil {
		return SeriesMetadataInfo{}, err
	}

	var row Series
	q, args, err := psql.Select("metadata_volume_id", "metadata_path").
		From(TSeries).
		Where(sqrl.Eq{"id": seriesID}).
		ToSql()
	if err != nil {
		return SeriesMetadataInfo{}, err
	}
	if err := c.db.GetContext(ctx, &row, q, args...); err != nil {
		return SeriesMetadataInfo{}, fmt.Errorf("dbclient: load series metadata info for %d: %w", seriesID, err)
	}

	if !row.MetadataVolumeID.Valid || !row.MetadataPath.Valid {
		return SeriesMetadataInfo{}, nil
	}
	return SeriesMetadataInfo{
		MetadataVolumeID: row.MetadataVolumeID.Int64,
		MetadataPath:     row.MetadataPath.String,
		Present:          true,
	}, nil
}

// SetSeriesMetadataInfo records where a freshly-built metadata-cache file
// lives, so future lookups stream it instead of rebuilding.
func (c *Client) SetSeriesMetadataInfo(ctx context.Context, seriesID, volumeID int64, path string) error {
	if err := c.requireDB(); err != nil {
		return err
	}

	q, args, err := psql.Update(TSeries).
		Set("metadata_volume_id", volumeID).
		Set("metadata_path", path).
		Where(sqrl.Eq{"id": seriesID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("dbclient: set series metadata info for %d: %w", seriesID, err)
	}
	return nil
}
