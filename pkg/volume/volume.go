// Package volume implements the storage-volume registry (spec.md §4.2):
// it loads the volume table into memory, groups volumes by tier sorted by
// priority, and caches one storage.Provider per volume so cloud providers'
// connection pools are built once and reused.
package volume

import (
	"context"
	"fmt"
	"sync"

	spaxerrors "github.com/spax-archive/spax/pkg/errors"
	"github.com/spax-archive/spax/pkg/pathtemplate"
	"github.com/spax-archive/spax/pkg/storage"
)

type Tier string

const (
	TierHot  Tier = "HOT"
	TierWarm Tier = "WARM"
	TierCold Tier = "COLD"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReadOnly Status = "READ_ONLY"
	StatusOffline  Status = "OFFLINE"
)

type ProviderKind string

const (
	ProviderKindLocal       ProviderKind = "local"
	ProviderKindObjectStore ProviderKind = "object-store"
)

// safetyThresholdBytes is the fixed free-space floor a local volume (of
// any tier) must clear to be eligible as an active write target (spec.md
// §4.2).
const safetyThresholdBytes = 1 << 30 // 1 GiB

// Volume is the in-memory projection of one storage_volume row.
type Volume struct {
	ID                   int64
	Code                 string
	ProviderKind         ProviderKind
	BasePath             string // local root, or object-store prefix
	Tier                 Tier
	Status               Status
	Priority             int
	PathTemplateOverride string
	Bucket               string
	Endpoint             string
	Region               string
	AccessKeyID          string
	SecretKey            string
	UsePathStyle         bool
}

// Loader fetches the current volume rows, typically backed by the shared
// schema's storage_volume table.
type Loader func(ctx context.Context) ([]Volume, error)

type snapshot struct {
	byTier    map[Tier][]Volume // sorted by priority descending
	providers map[int64]storage.Provider
}

// Manager is the volume registry. Reads against the current snapshot never
// block on reload; reload builds a new snapshot and swaps it in atomically
// so concurrent readers see either the old or the new registry, never a
// torn view (spec.md §7 ordering guarantees).
type Manager struct {
	load Loader

	mu      sync.RWMutex
	current *snapshot
}

func NewManager(load Loader) *Manager {
	return &Manager{load: load, current: &snapshot{byTier: map[Tier][]Volume{}, providers: map[int64]storage.Provider{}}}
}

// Reload fetches the volume registry, builds providers for every volume
// (reusing an existing provider when the volume's connection config has
// not materially changed), and atomically replaces the snapshot.
func (m *Manager) Reload(ctx context.Context) error {
	rows, err := m.load(ctx)
	if err != nil {
		return fmt.Errorf("volume: load registry: %w", err)
	}

	m.mu.RLock()
	prevProviders := m.current.providers
	prevVolumes := make(map[int64]Volume)
	for _, vols := range m.current.byTier {
		for _, v := range vols {
			prevVolumes[v.ID] = v
		}
	}
	m.mu.RUnlock()

	byTier := make(map[Tier][]Volume)
	providers := make(map[int64]storage.Provider, len(rows))
	for _, v := range rows {
		byTier[v.Tier] = append(byTier[v.Tier], v)

		prev := prevVolumes[v.ID]
		sameConn := prev.ProviderKind == v.ProviderKind && prev.BasePath == v.BasePath &&
			prev.Bucket == v.Bucket && prev.Endpoint == v.Endpoint && prev.Region == v.Region &&
			prev.AccessKeyID == v.AccessKeyID && prev.SecretKey == v.SecretKey && prev.UsePathStyle == v.UsePathStyle
		if p, ok := prevProviders[v.ID]; ok && sameConn {
			providers[v.ID] = p
			continue
		}
		p, err := newProvider(ctx, v)
		if err != nil {
			return fmt.Errorf("volume: build provider for volume %d (%s): %w", v.ID, v.Code, err)
		}
		providers[v.ID] = p
	}
	for tier := range byTier {
		sortByPriorityDesc(byTier[tier])
	}

	next := &snapshot{byTier: byTier, providers: providers}
	m.mu.Lock()
	m.current = next
	m.mu.Unlock()

	pathtemplate.InvalidateCache()
	return nil
}

func sortByPriorityDesc(vols []Volume) {
	for i := 1; i < len(vols); i++ {
		for j := i; j > 0 && vols[j].Priority > vols[j-1].Priority; j-- {
			vols[j], vols[j-1] = vols[j-1], vols[j]
		}
	}
}

func newProvider(ctx context.Context, v Volume) (storage.Provider, error) {
	switch v.ProviderKind {
	case ProviderKindLocal:
		return storage.NewLocalProvider(v.BasePath)
	case ProviderKindObjectStore:
		return storage.NewObjectStoreProvider(ctx, storage.ObjectStoreConfig{
			Bucket:       v.Bucket,
			Prefix:       v.BasePath,
			Endpoint:     v.Endpoint,
			Region:       v.Region,
			AccessKeyID:  v.AccessKeyID,
			SecretKey:    v.SecretKey,
			UsePathStyle: v.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("volume: unknown provider kind %q for volume %d", v.ProviderKind, v.ID)
	}
}

// ActiveWriteVolume returns the highest-priority ACTIVE volume in tier
// whose free space exceeds the safety threshold, or a no-write-volume
// error if none qualify.
func (m *Manager) ActiveWriteVolume(tier Tier) (Volume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, v := range m.current.byTier[tier] {
		if v.Status != StatusActive {
			continue
		}
		p, ok := m.current.providers[v.ID]
		if !ok {
			continue
		}
		if da, ok := p.(storage.DiskAware); ok {
			avail, err := da.AvailableBytes()
			if err != nil || avail < safetyThresholdBytes {
				continue
			}
		}
		return v, nil
	}
	return Volume{}, spaxerrors.NewNoWriteVolume(string(tier))
}

// Provider returns the cached provider for volumeId, or unknown-volume if
// no such volume is registered.
func (m *Manager) Provider(volumeID int64) (storage.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.current.providers[volumeID]
	if !ok {
		return nil, spaxerrors.NewUnknownVolume(volumeID)
	}
	return p, nil
}

// Volume returns the registered Volume row for volumeID, used by callers
// that need tier/status/path-template metadata rather than the provider.
func (m *Manager) Volume(volumeID int64) (Volume, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, vols := range m.current.byTier {
		for _, v := range vols {
			if v.ID == volumeID {
				return v, true
			}
		}
	}
	return Volume{}, false
}

// VolumeIDsInTier lists every registered volume id in tier regardless of
// status, for the lifecycle evaluator's "owning volume's tier equals the
// rule's source tier" candidate scan (spec.md §4.12).
func (m *Manager) VolumeIDsInTier(tier Tier) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vols := m.current.byTier[tier]
	ids := make([]int64, len(vols))
	for i, v := range vols {
		ids[i] = v.ID
	}
	return ids
}
