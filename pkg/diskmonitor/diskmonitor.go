// Package diskmonitor implements the disk safety monitor (spec.md §5): a
// background loop that polls free space on every local HOT/WARM volume
// and derives the ingestBlocked flag the ingest accept paths check
// before touching storage.
package diskmonitor

import (
	"context"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"

	"github.com/spax-archive/spax/pkg/storage"
	"github.com/spax-archive/spax/pkg/volume"
)

// Threshold policy (spec.md §5): below 20% free, warn only; below 10%,
// block new ingest; below 5%, block and flip to read-only.
const (
	warnFreePercent     = 20.0
	blockFreePercent    = 10.0
	criticalFreePercent = 5.0
)

var monitoredTiers = []volume.Tier{volume.TierHot, volume.TierWarm}

// Monitor polls local-volume free space on a fixed interval, in the
// style of the teacher's sync.Once-guarded background singletons
// (apiserver/pkg/handlers/authority's InternalAuth init), but re-run on
// a ticker rather than once, since disk state changes over the life of
// the process.
type Monitor struct {
	Volumes      *volume.Manager
	PollInterval time.Duration

	// ThresholdBytes is an absolute floor alongside the percentage
	// thresholds: a volume below it blocks ingest even if it still has
	// 10%+ free, matching pkg/config.DiskConfig.ThresholdMB. Zero
	// disables the absolute check.
	ThresholdBytes int64

	blocked  atomic.Bool
	readOnly atomic.Bool
}

func New(volumes *volume.Manager, pollInterval time.Duration, thresholdBytes int64) *Monitor {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}
	return &Monitor{Volumes: volumes, PollInterval: pollInterval, ThresholdBytes: thresholdBytes}
}

// Blocked reports the current ingestBlocked flag. Ingest handlers check
// this before writing and return 507 without touching storage when true.
// The flag is eventually consistent, refreshed once per PollInterval.
func (m *Monitor) Blocked() bool {
	return m.blocked.Load()
}

// ReadOnly reports whether any monitored volume has crossed the critical
// (<5% free) threshold.
func (m *Monitor) ReadOnly() bool {
	return m.readOnly.Load()
}

// Run polls until ctx is cancelled. It evaluates once immediately so the
// flag is meaningful before the first tick elapses.
func (m *Monitor) Run(ctx context.Context) {
	m.pollOnce()

	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

func (m *Monitor) pollOnce() {
	block := false
	critical := false

	for _, tier := range monitoredTiers {
		for _, volumeID := range m.Volumes.VolumeIDsInTier(tier) {
			vol, ok := m.Volumes.Volume(volumeID)
			if !ok || vol.ProviderKind != volume.ProviderKindLocal {
				continue
			}
			provider, err := m.Volumes.Provider(volumeID)
			if err != nil {
				continue
			}
			da, ok := provider.(storage.DiskAware)
			if !ok {
				continue
			}
			avail, pctFree, ok := freeStats(da, vol.Code)
			if !ok {
				continue
			}

			switch {
			case pctFree < criticalFreePercent:
				critical = true
				block = true
				klog.InfoS("diskmonitor: volume critically low on space, blocking ingest and going read-only", "volume", vol.Code, "percentFree", pctFree)
			case pctFree < blockFreePercent:
				block = true
				klog.InfoS("diskmonitor: volume below block threshold, blocking ingest", "volume", vol.Code, "percentFree", pctFree)
			case pctFree < warnFreePercent:
				klog.InfoS("diskmonitor: volume low on space", "volume", vol.Code, "percentFree", pctFree)
			}

			if m.ThresholdBytes > 0 && avail < m.ThresholdBytes {
				block = true
				klog.InfoS("diskmonitor: volume below absolute threshold, blocking ingest", "volume", vol.Code, "availableBytes", avail, "thresholdBytes", m.ThresholdBytes)
			}
		}
	}

	m.blocked.Store(block)
	m.readOnly.Store(critical)
}

func freeStats(da storage.DiskAware, volumeCode string) (availBytes int64, pctFree float64, ok bool) {
	avail, err := da.AvailableBytes()
	if err != nil {
		klog.ErrorS(err, "diskmonitor: read available bytes failed", "volume", volumeCode)
		return 0, 0, false
	}
	total, err := da.TotalBytes()
	if err != nil || total <= 0 {
		if err != nil {
			klog.ErrorS(err, "diskmonitor: read total bytes failed", "volume", volumeCode)
		}
		return 0, 0, false
	}
	return avail, float64(avail) / float64(total) * 100, true
}
