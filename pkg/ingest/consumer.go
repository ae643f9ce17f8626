// Package ingest implements the ingest consumer pool (spec.md §4.8): a
// pool of workers pulling per-tenant message batches off the queue,
// parsing and storing each file, and committing one bulk-upsert
// transaction per batch before acknowledging.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/cache"
	"github.com/spax-archive/spax/pkg/dbclient"
	"github.com/spax-archive/spax/pkg/dicomx"
	"github.com/spax-archive/spax/pkg/pathtemplate"
	"github.com/spax-archive/spax/pkg/queue"
	"github.com/spax-archive/spax/pkg/storage"
	"github.com/spax-archive/spax/pkg/volume"
)

// Repository is the bulk-upsert dependency a batch is committed through.
// *dbclient.Client satisfies it; tests substitute a fake.
type Repository interface {
	BulkUpsert(ctx context.Context, items []dbclient.IngestItem) (*dbclient.BulkUpsertResult, error)
}

// ClientFor resolves the bulk-upsert repository client scoped to one
// tenant's schema. The returned Repository may hold a dedicated
// connection (pkg/tenant's schema-scoped checkout); callers release it
// with closeRepository once done.
type ClientFor func(ctx context.Context, tenantCode string) (Repository, error)

// closeRepository releases repo's underlying connection when it holds
// one. *dbclient.Client implements io.Closer; test fakes generally
// don't, so this is a no-op for them.
func closeRepository(repo Repository) {
	if closer, ok := repo.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			klog.ErrorS(err, "ingest: close repository connection failed")
		}
	}
}

// TemplateFor returns the compiled path template a given volume uses —
// its override if set, otherwise the default.
type TemplateFor func(vol volume.Volume) (*pathtemplate.Template, error)

// Consumer processes one tenant's message batches: parse, store, upsert,
// evict, ack. It holds no per-tenant state between calls so the same
// Consumer can serve every tenant a worker is handed.
type Consumer struct {
	Queue       *queue.Queue
	Volumes     *volume.Manager
	Cache       *cache.Store
	ClientFor   ClientFor
	TemplateFor TemplateFor
	WriteTier   volume.Tier
	BatchSize   int64

	// OnIndexed, if set, is called once per affected series after a
	// batch commits, e.g. to schedule an asynchronous per-series
	// metadata-cache rebuild. cmd/spax-server leaves it nil.
	OnIndexed func(ctx context.Context, tenantCode string, seriesID int64, seriesUID, studyUID string)
}

func New(q *queue.Queue, volumes *volume.Manager, store *cache.Store, clientFor ClientFor, templateFor TemplateFor) *Consumer {
	return &Consumer{
		Queue:       q,
		Volumes:     volumes,
		Cache:       store,
		ClientFor:   clientFor,
		TemplateFor: templateFor,
		WriteTier:   volume.TierHot,
		BatchSize:   200,
	}
}

// ProcessTenantBatch pulls and fully processes one batch of messages for
// tenantCode using consumerID as the queue's consumer identity. It is
// the Handler body underneath queue.ConsumeForTenant.
func (c *Consumer) ProcessTenantBatch(ctx context.Context, tenantCode, consumerID string) error {
	return c.Queue.ConsumeForTenant(ctx, tenantCode, consumerID, c.batchSize(), func(ctx context.Context, batch []queue.Message) error {
		return c.handleBatch(ctx, tenantCode, batch)
	})
}

func (c *Consumer) batchSize() int64 {
	if c.BatchSize <= 0 {
		return 200
	}
	return c.BatchSize
}

func (c *Consumer) handleBatch(ctx context.Context, tenantCode string, batch []queue.Message) error {
	if len(batch) == 0 {
		return nil
	}

	vol, err := c.Volumes.ActiveWriteVolume(c.WriteTier)
	if err != nil {
		return fmt.Errorf("ingest: no write volume for tier %s: %w", c.WriteTier, err)
	}
	provider, err := c.Volumes.Provider(vol.ID)
	if err != nil {
		return fmt.Errorf("ingest: provider for volume %d: %w", vol.ID, err)
	}
	tmpl, err := c.TemplateFor(vol)
	if err != nil {
		return fmt.Errorf("ingest: path template for volume %d: %w", vol.ID, err)
	}

	items := make([]dbclient.IngestItem, 0, len(batch))
	for _, msg := range batch {
		item, ok := c.processOne(ctx, tenantCode, vol, provider, tmpl, msg)
		if ok {
			items = append(items, item)
		}
	}

	if len(items) == 0 {
		return nil
	}

	client, err := c.ClientFor(ctx, tenantCode)
	if err != nil {
		return fmt.Errorf("ingest: resolve db client for tenant %s: %w", tenantCode, err)
	}
	defer closeRepository(client)

	result, err := client.BulkUpsert(ctx, items)
	if err != nil {
		return fmt.Errorf("ingest: bulk upsert for tenant %s: %w", tenantCode, err)
	}

	c.evictAffected(ctx, tenantCode, result)
	return nil
}

// processOne parses and stores a single message. Failures are quarantined
// rather than propagated — one bad file in a batch never blocks the rest.
func (c *Consumer) processOne(ctx context.Context, tenantCode string, vol volume.Volume, provider storage.Provider, tmpl *pathtemplate.Template, msg queue.Message) (dbclient.IngestItem, bool) {
	data, err := os.ReadFile(msg.FilePath)
	if err != nil {
		klog.ErrorS(err, "ingest: read failed", "tenant", tenantCode, "filePath", msg.FilePath)
		return dbclient.IngestItem{}, false
	}

	metadata, err := dicomx.ParseHeader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		klog.ErrorS(err, "ingest: parse failed, quarantining", "tenant", tenantCode, "filePath", msg.FilePath)
		c.quarantine(ctx, tenantCode, provider, msg.FilePath, data)
		return dbclient.IngestItem{}, false
	}

	resolvedPath := tmpl.Resolve(tenantCode, pathtemplate.Context{Tags: metadata.TagLookup, Now: time.Now()})
	if err := provider.Write(ctx, resolvedPath, bytes.NewReader(data), int64(len(data))); err != nil {
		klog.ErrorS(err, "ingest: store failed, quarantining", "tenant", tenantCode, "filePath", msg.FilePath)
		c.quarantine(ctx, tenantCode, provider, msg.FilePath, data)
		return dbclient.IngestItem{}, false
	}

	return dbclient.IngestItem{
		Metadata:    metadata,
		VolumeID:    vol.ID,
		StoragePath: resolvedPath,
		FileSize:    int64(len(data)),
	}, true
}

func (c *Consumer) quarantine(ctx context.Context, tenantCode string, provider storage.Provider, originalPath string, data []byte) {
	dest := filepath.ToSlash(filepath.Join("error", tenantCode, filepath.Base(originalPath)))
	if err := provider.Write(ctx, dest, bytes.NewReader(data), int64(len(data))); err != nil {
		klog.ErrorS(err, "ingest: quarantine write failed", "tenant", tenantCode, "dest", dest)
	}
}

func (c *Consumer) evictAffected(ctx context.Context, tenantCode string, result *dbclient.BulkUpsertResult) {
	seenStudy := make(map[string]bool)
	for _, s := range result.AffectedSeries {
		if err := c.Cache.Evict(ctx, cache.InstanceLocations, tenantCode, s.SeriesUID); err != nil {
			klog.ErrorS(err, "evict instance-locations failed", "tenant", tenantCode, "seriesUid", s.SeriesUID)
		}
		if err := c.Cache.Evict(ctx, cache.SeriesMetadataLookup, tenantCode, s.SeriesUID); err != nil {
			klog.ErrorS(err, "evict series-metadata-lookup failed", "tenant", tenantCode, "seriesUid", s.SeriesUID)
		}
		if !seenStudy[s.StudyUID] {
			seenStudy[s.StudyUID] = true
			if err := c.Cache.Evict(ctx, cache.SeriesByStudy, tenantCode, s.StudyUID); err != nil {
				klog.ErrorS(err, "evict series-by-study failed", "tenant", tenantCode, "studyUid", s.StudyUID)
			}
		}
		if c.OnIndexed != nil {
			c.OnIndexed(ctx, tenantCode, s.SeriesID, s.SeriesUID, s.StudyUID)
		}
	}
}
