// Package partitions implements the daily instance-partition
// pre-creation job (spec.md §3, §6): the per-tenant instance table is
// range-partitioned monthly on created_date, and a partition must exist
// before any row can land in it.
package partitions

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Registry lists the tenants this job creates partitions for.
type Registry interface {
	ActiveTenantCodes(ctx context.Context) ([]string, error)
}

// ConnFor resolves a schema-scoped connection for tenantCode, backed by
// pkg/tenant.Resolver.Conn in production.
type ConnFor func(ctx context.Context, tenantCode string) (*sqlx.Conn, error)

const defaultMonthsAhead = 12

// Creator pre-creates the instance table's monthly range partitions for
// every active tenant, from the current month through MonthsAhead months
// ahead.
type Creator struct {
	Registry    Registry
	ConnFor     ConnFor
	MonthsAhead int
}

func New(reg Registry, connFor ConnFor, monthsAhead int) *Creator {
	if monthsAhead <= 0 {
		monthsAhead = defaultMonthsAhead
	}
	return &Creator{Registry: reg, ConnFor: connFor, MonthsAhead: monthsAhead}
}

// RunOnce ensures every still-missing partition exists for every active
// tenant. Already-existing partitions are left untouched (CREATE TABLE
// IF NOT EXISTS), so running this more than once a day is harmless.
func (c *Creator) RunOnce(ctx context.Context) error {
	tenants, err := c.Registry.ActiveTenantCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "partitions: list active tenants")
	}

	now := time.Now().UTC()
	for _, tenantCode := range tenants {
		if err := c.ensureTenantPartitions(ctx, tenantCode, now); err != nil {
			klog.ErrorS(err, "partitions: ensure partitions failed", "tenant", tenantCode)
		}
	}
	return nil
}

func (c *Creator) ensureTenantPartitions(ctx context.Context, tenantCode string, now time.Time) error {
	conn, err := c.ConnFor(ctx, tenantCode)
	if err != nil {
		return errors.Wrapf(err, "partitions: connection for tenant %s", tenantCode)
	}
	defer conn.Close()

	for _, b := range monthBounds(now, c.MonthsAhead) {
		if err := createMonthPartition(ctx, conn, b); err != nil {
			return errors.Wrapf(err, "partitions: create partition for %s", b.from.Format("2006-01"))
		}
	}
	return nil
}

// bound is one month's partition range: [from, to).
type bound struct {
	from, to time.Time
}

// monthBounds returns one bound per month from the current month
// through monthsAhead months ahead, inclusive.
func monthBounds(now time.Time, monthsAhead int) []bound {
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	bounds := make([]bound, 0, monthsAhead+1)
	for i := 0; i <= monthsAhead; i++ {
		from := month.AddDate(0, i, 0)
		bounds = append(bounds, bound{from: from, to: from.AddDate(0, 1, 0)})
	}
	return bounds
}

// partitionName derives the table name PostgreSQL convention this job
// follows: instance_y<year>m<month>.
func partitionName(from time.Time) string {
	return fmt.Sprintf("instance_y%04dm%02d", from.Year(), int(from.Month()))
}

// createMonthPartition issues the DDL for one month's partition. The
// bounds and partition name are derived from time.Now and a loop index,
// never from request input, so building the statement with fmt.Sprintf
// carries no injection risk.
func createMonthPartition(ctx context.Context, conn *sqlx.Conn, b bound) error {
	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF instance FOR VALUES FROM ('%s') TO ('%s')`,
		partitionName(b.from), b.from.Format("2006-01-02"), b.to.Format("2006-01-02"),
	)
	_, err := conn.ExecContext(ctx, stmt)
	return err
}
