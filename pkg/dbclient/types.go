// Package dbclient implements the per-tenant bulk-upsert repository
// (spec.md §4.7): patient/study/series upsert, partition-aware instance
// dedup, and series/study counter refresh, all inside one transaction.
package dbclient

import (
	"database/sql"
	"reflect"
	"strings"
	"time"
)

// Patient mirrors the patient table (spec.md §3): public_id is the
// SHA-1 of the raw patient identifier, unique within a tenant.
type Patient struct {
	ID            int64  `db:"id"`
	PublicID      string `db:"public_id"`
	RawPatientID  string `db:"raw_patient_id"`
	Name          string `db:"name"`
	BirthDate     string `db:"birth_date"`
	Sex           string `db:"sex"`
	IsProvisional bool   `db:"is_provisional"`
	StudyCount    int    `db:"study_count"`
	Version       int    `db:"version"`
}

// Study mirrors the study table. public_id is SHA-1(rawPatientID + "|" +
// studyUID); the same raw study UID under two distinct patients produces
// two distinct rows.
type Study struct {
	ID                 int64        `db:"id"`
	PublicID           string       `db:"public_id"`
	StudyUID           string       `db:"study_uid"`
	PatientID          int64        `db:"patient_id"`
	StudyDate          string       `db:"study_date"`
	Description        string       `db:"description"`
	AccessionNumber    string       `db:"accession_number"`
	ReferringPhysician string       `db:"referring_physician"`
	NumSeries          int          `db:"num_series"`
	NumInstances       int          `db:"num_instances"`
	StudySize          int64        `db:"study_size"`
	LastAccessedAt     sql.NullTime `db:"last_accessed_at"`
	Version            int          `db:"version"`
}

// Series mirrors the series table, unique on (study_fk, series_uid).
// CreatedDate is captured from the RETURNING clause on insert and reused
// as the partition key for every instance in this series (spec.md §3's
// "created_date = series.created_at::date at ingest time" invariant).
type Series struct {
	ID               int64          `db:"id"`
	StudyID          int64          `db:"study_fk"`
	SeriesUID        string         `db:"series_uid"`
	Modality         string         `db:"modality"`
	NumInstances     int            `db:"num_instances"`
	SeriesSize       int64          `db:"series_size"`
	CreatedDate      time.Time      `db:"created_date"`
	MetadataVolumeID sql.NullInt64  `db:"metadata_volume_id"`
	MetadataPath     sql.NullString `db:"metadata_path"`
	CompressionTSUID sql.NullString `db:"compression_transfer_syntax_uid"`
	CompressTime     sql.NullTime   `db:"compress_time"`
}

// Instance mirrors the instance table, composite primary key (id,
// created_date), range-partitioned monthly on created_date. Uniqueness on
// (series_fk, sop_instance_uid) is enforced at the application layer
// because partitioning forbids a unique index excluding the partition key.
type Instance struct {
	ID                int64     `db:"id"`
	CreatedDate       time.Time `db:"created_date"`
	SOPInstanceUID    string    `db:"sop_instance_uid"`
	SOPClassUID       string    `db:"sop_class_uid"`
	InstanceNumber    string    `db:"instance_number"`
	TransferSyntaxUID string    `db:"transfer_syntax_uid"`
	NumberOfFrames    int       `db:"number_of_frames"`
	ByteSize          int64     `db:"byte_size"`
	VolumeID          int64     `db:"volume_id"`
	StoragePath       string    `db:"storage_path"`
	SeriesID          int64     `db:"series_fk"`
	SeriesUID         string    `db:"series_uid"`
	StudyUID          string    `db:"study_uid"`
}

const (
	TPatient  = "patient"
	TStudy    = "study"
	TSeries   = "series"
	TInstance = "instance"
)

// GetFieldTags returns a lowercased-field-name → db-column-tag map for v,
// the same reflective lookup the teacher's database client exposes per
// entity (GetEvaluationTaskFieldTags, GetAuditLogFieldTags).
func GetFieldTags(v interface{}) map[string]string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	tags := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("db")
		if tag == "" {
			continue
		}
		tags[strings.ToLower(f.Name)] = tag
	}
	return tags
}

// GetFieldTag looks up one field's db-column tag by Go field name.
func GetFieldTag(tags map[string]string, field string) string {
	return tags[strings.ToLower(field)]
}
