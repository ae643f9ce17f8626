// Package registry reads the shared `public` schema tables (spec.md §3):
// tenant, storage_volume, and lifecycle_rule. These are global-scope
// reads, issued against the plain connection pool rather than any
// tenant-scoped search_path.
package registry

import (
	"context"
	"database/sql"
	"fmt"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/spax-archive/spax/pkg/cache"
	"github.com/spax-archive/spax/pkg/volume"
)

var psql = sqrl.StatementBuilder.PlaceholderFormat(sqrl.Dollar)

const (
	tableTenant        = "tenant"
	tableStorageVolume = "storage_volume"
	tableLifecycleRule = "lifecycle_rule"
)

// Registry reads the shared public-schema tables backing the volume
// manager, the ingest pool's active-tenant list, and the lifecycle
// evaluator's rule set.
type Registry struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Registry {
	return &Registry{db: db}
}

// ActiveTenantCodes returns every tenant marked active, in code order.
// This backs the `active-tenants` cache entry (spec.md §4.11).
func (r *Registry) ActiveTenantCodes(ctx context.Context) ([]string, error) {
	q, args, err := psql.Select("code").
		From(tableTenant).
		Where(sqrl.Eq{"active": true}).
		OrderBy("code").
		ToSql()
	if err != nil {
		return nil, err
	}

	var codes []string
	if err := r.db.SelectContext(ctx, &codes, q, args...); err != nil {
		return nil, fmt.Errorf("registry: list active tenants: %w", err)
	}
	return codes, nil
}

// CachedActiveTenantCodes is a cache.Loader-shaped wrapper the ingest
// pool uses directly: GetOrLoad batch-loads through ActiveTenantCodes
// and the result is reused for up to the cache's 60s TTL.
func (r *Registry) CachedActiveTenantCodes(store *cache.Store) func(ctx context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		var codes []string
		err := store.GetOrLoad(ctx, cache.ActiveTenants, &codes, func(ctx context.Context) (interface{}, error) {
			return r.ActiveTenantCodes(ctx)
		}, "all")
		return codes, err
	}
}

// volumeRow mirrors storage_volume's columns; nullable provider-specific
// fields use sql.Null* so a local volume's row doesn't need s3 columns.
type volumeRow struct {
	ID                   int64          `db:"id"`
	Code                 string         `db:"code"`
	ProviderKind         string         `db:"provider_kind"`
	BasePath             string         `db:"base_path"`
	Tier                 string         `db:"tier"`
	Status               string         `db:"status"`
	Priority             int            `db:"priority"`
	PathTemplateOverride sql.NullString `db:"path_template_override"`
	Bucket               sql.NullString `db:"bucket"`
	Endpoint             sql.NullString `db:"endpoint"`
	Region               sql.NullString `db:"region"`
	AccessKeyID          sql.NullString `db:"access_key_id"`
	SecretKey            sql.NullString `db:"secret_key"`
	UsePathStyle         bool           `db:"use_path_style"`
}

// LoadVolumes is a volume.Loader: it is passed directly to
// volume.NewManager and invoked on startup and on every explicit reload.
func (r *Registry) LoadVolumes(ctx context.Context) ([]volume.Volume, error) {
	q, args, err := psql.Select(
		"id", "code", "provider_kind", "base_path", "tier", "status", "priority",
		"path_template_override", "bucket", "endpoint", "region",
		"access_key_id", "secret_key", "use_path_style",
	).From(tableStorageVolume).OrderBy("tier", "priority DESC").ToSql()
	if err != nil {
		return nil, err
	}

	var rows []volumeRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("registry: load volumes: %w", err)
	}

	volumes := make([]volume.Volume, 0, len(rows))
	for _, row := range rows {
		volumes = append(volumes, volume.Volume{
			ID:                   row.ID,
			Code:                 row.Code,
			ProviderKind:         volume.ProviderKind(row.ProviderKind),
			BasePath:             row.BasePath,
			Tier:                 volume.Tier(row.Tier),
			Status:               volume.Status(row.Status),
			Priority:             row.Priority,
			PathTemplateOverride: row.PathTemplateOverride.String,
			Bucket:               row.Bucket.String,
			Endpoint:             row.Endpoint.String,
			Region:               row.Region.String,
			AccessKeyID:          row.AccessKeyID.String,
			SecretKey:            row.SecretKey.String,
			UsePathStyle:         row.UsePathStyle,
		})
	}
	return volumes, nil
}

// LifecycleRule mirrors the lifecycle_rule table (spec.md §3, §4.12).
type LifecycleRule struct {
	ID              int64          `db:"id"`
	Enabled         bool           `db:"enabled"`
	Action          string         `db:"action"`
	SourceTier      string         `db:"source_tier"`
	TargetTier      sql.NullString `db:"target_tier"`
	ConditionKind   string         `db:"condition_kind"`
	ConditionValue  int            `db:"condition_value_days"`
	DeleteSource    bool           `db:"delete_source"`
	CompressionType sql.NullString `db:"compression_type"`
	TenantCode      sql.NullString `db:"tenant_code"`
}

// LifecycleRules returns every enabled rule for the given action type
// (`MIGRATE` or `COMPRESS`). Results are cached by callers under
// `lifecycle-rules` (6h TTL, spec.md §4.11).
func (r *Registry) LifecycleRules(ctx context.Context, actionType string) ([]LifecycleRule, error) {
	q, args, err := psql.Select(
		"id", "enabled", "action", "source_tier", "target_tier",
		"condition_kind", "condition_value_days", "delete_source",
		"compression_type", "tenant_code",
	).From(tableLifecycleRule).
		Where(sqrl.Eq{"enabled": true, "action": actionType}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rules []LifecycleRule
	if err := r.db.SelectContext(ctx, &rules, q, args...); err != nil {
		return nil, fmt.Errorf("registry: load lifecycle rules: %w", err)
	}
	return rules, nil
}
