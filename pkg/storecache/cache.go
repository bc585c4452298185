package storecache

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/store"
)

type itemCacheEntry struct {
	desc        flagmodel.ItemDescriptor
	missing     bool
	neverExpire bool
	expiresAt   time.Time
}

type snapshotCacheEntry struct {
	items       map[string]flagmodel.ItemDescriptor
	neverExpire bool
	expiresAt   time.Time
}

type initializedCacheEntry struct {
	value     bool
	sticky    bool
	expiresAt time.Time
}

// CachedStore implements store.Store by fronting a PersistentCore with
// a read-through/write-through cache, per spec §4.2. With mode Uncached
// it degrades to a pure pass-through.
type CachedStore struct {
	core PersistentCore
	mode TTLMode
	ttl  time.Duration

	mu               sync.RWMutex
	items            map[string]itemCacheEntry
	snapshots        map[flagmodel.Kind]snapshotCacheEntry
	initializedCache initializedCacheEntry

	sf  singleflight.Group
	log *logger.Logger
}

// New builds a CachedStore. Item and snapshot entries expire after ttl
// only in FiniteTTL mode (infinite-TTL entries never expire on their own;
// they are only replaced by a later Init or Upsert). In both cached modes
// a false Initialized() probe result is cached for ttl, or for one second
// when ttl is not positive.
func New(core PersistentCore, mode TTLMode, ttl time.Duration, log *logger.Logger) *CachedStore {
	return &CachedStore{
		core:      core,
		mode:      mode,
		ttl:       ttl,
		items:     map[string]itemCacheEntry{},
		snapshots: map[flagmodel.Kind]snapshotCacheEntry{},
		log:       log,
	}
}

func itemKey(kind flagmodel.Kind, key string) string { return string(kind) + "/" + key }

func (c *CachedStore) newItemEntry(desc flagmodel.ItemDescriptor, missing bool) itemCacheEntry {
	if c.mode == InfiniteTTL {
		return itemCacheEntry{desc: desc, missing: missing, neverExpire: true}
	}
	return itemCacheEntry{desc: desc, missing: missing, expiresAt: time.Now().Add(c.ttl)}
}

func (c *CachedStore) newSnapshotEntry(items map[string]flagmodel.ItemDescriptor) snapshotCacheEntry {
	if c.mode == InfiniteTTL {
		return snapshotCacheEntry{items: items, neverExpire: true}
	}
	return snapshotCacheEntry{items: items, expiresAt: time.Now().Add(c.ttl)}
}

func expired(neverExpire bool, expiresAt time.Time) bool {
	if neverExpire {
		return false
	}
	return time.Now().After(expiresAt)
}

// Get implements store.Reader.
func (c *CachedStore) Get(kind flagmodel.Kind, key string) (flagmodel.ItemDescriptor, bool) {
	if c.mode == Uncached {
		sd, err := c.core.Get(kind, key)
		if err != nil || sd.Version == flagmodel.MissingVersion {
			return flagmodel.ItemDescriptor{}, false
		}
		desc, err := flagmodel.Deserialize(kind, sd)
		if err != nil {
			return flagmodel.ItemDescriptor{}, false
		}
		return desc, true
	}

	ck := itemKey(kind, key)
	c.mu.RLock()
	entry, found := c.items[ck]
	c.mu.RUnlock()
	if found && !expired(entry.neverExpire, entry.expiresAt) {
		if entry.missing {
			return flagmodel.ItemDescriptor{}, false
		}
		return entry.desc, true
	}

	type result struct {
		desc    flagmodel.ItemDescriptor
		missing bool
	}
	v, err, _ := c.sf.Do("get:"+ck, func() (interface{}, error) {
		sd, ferr := c.core.Get(kind, key)
		if ferr != nil {
			return nil, ferr
		}
		if sd.Version == flagmodel.MissingVersion {
			c.mu.Lock()
			c.items[ck] = c.newItemEntry(flagmodel.ItemDescriptor{}, true)
			c.mu.Unlock()
			return result{missing: true}, nil
		}
		desc, derr := flagmodel.Deserialize(kind, sd)
		if derr != nil {
			return nil, derr
		}
		c.mu.Lock()
		c.items[ck] = c.newItemEntry(desc, false)
		c.mu.Unlock()
		return result{desc: desc}, nil
	})
	if err != nil {
		c.log.Warnf("storecache: get %s/%s: core error: %v", kind, key, err)
		return flagmodel.ItemDescriptor{}, false
	}
	r := v.(result)
	if r.missing {
		return flagmodel.ItemDescriptor{}, false
	}
	return r.desc, true
}

// GetAll implements store.Reader. The per-kind snapshot is cached under
// a key distinct from any per-item cache entry.
func (c *CachedStore) GetAll(kind flagmodel.Kind) map[string]flagmodel.ItemDescriptor {
	if c.mode == Uncached {
		all, err := c.core.GetAll(kind)
		if err != nil {
			c.log.Warnf("storecache: getAll %s: core error: %v", kind, err)
			return map[string]flagmodel.ItemDescriptor{}
		}
		items, err := deserializeAll(kind, all)
		if err != nil {
			c.log.Warnf("storecache: getAll %s: deserialize error: %v", kind, err)
			return map[string]flagmodel.ItemDescriptor{}
		}
		return items
	}

	c.mu.RLock()
	snap, found := c.snapshots[kind]
	c.mu.RUnlock()
	if found && !expired(snap.neverExpire, snap.expiresAt) {
		return cloneItems(snap.items)
	}

	v, err, _ := c.sf.Do("getall:"+string(kind), func() (interface{}, error) {
		all, ferr := c.core.GetAll(kind)
		if ferr != nil {
			return nil, ferr
		}
		items, derr := deserializeAll(kind, all)
		if derr != nil {
			return nil, derr
		}
		c.mu.Lock()
		c.snapshots[kind] = c.newSnapshotEntry(items)
		c.mu.Unlock()
		return items, nil
	})
	if err != nil {
		c.log.Warnf("storecache: getAll %s: core error: %v", kind, err)
		return map[string]flagmodel.ItemDescriptor{}
	}
	return cloneItems(v.(map[string]flagmodel.ItemDescriptor))
}

// Initialized implements store.Reader. Once observed true it never
// flips back, and the probe itself is cached with a short, bounded TTL.
func (c *CachedStore) Initialized() bool {
	if c.mode == Uncached {
		ok, _ := c.core.Initialized()
		return ok
	}

	c.mu.RLock()
	cached := c.initializedCache
	c.mu.RUnlock()
	if cached.sticky {
		return true
	}
	if !cached.expiresAt.IsZero() && time.Now().Before(cached.expiresAt) {
		return cached.value
	}

	ok, err := c.core.Initialized()
	if err != nil {
		return false
	}
	c.mu.Lock()
	if ok {
		c.initializedCache = initializedCacheEntry{value: true, sticky: true}
	} else {
		probeTTL := c.ttl
		if probeTTL <= 0 {
			probeTTL = time.Second
		}
		c.initializedCache = initializedCacheEntry{value: false, expiresAt: time.Now().Add(probeTTL)}
	}
	c.mu.Unlock()
	return ok
}

// Init implements store.Store. Data is written to the core in
// dependency-sorted order so a downstream store that applies writes one
// key at a time always sees prerequisites before dependents.
func (c *CachedStore) Init(data store.DataSet) error {
	sorted := store.SortByDependency(data)

	collections := map[flagmodel.Kind]map[string]flagmodel.SerializedItemDescriptor{}
	for kind := range data {
		collections[kind] = map[string]flagmodel.SerializedItemDescriptor{}
	}
	for _, si := range sorted {
		sd, err := flagmodel.Serialize(si.Kind, si.Desc)
		if err != nil {
			return fmt.Errorf("storecache: init: serializing %s/%s: %w", si.Kind, si.Key, err)
		}
		m, ok := collections[si.Kind]
		if !ok {
			m = map[string]flagmodel.SerializedItemDescriptor{}
			collections[si.Kind] = m
		}
		m[si.Key] = sd
	}
	serialized := make([]SerializedCollection, 0, len(collections))
	for kind, items := range collections {
		serialized = append(serialized, SerializedCollection{Kind: kind, Items: items})
	}

	coreErr := c.core.Init(serialized)

	if c.mode == Uncached {
		if coreErr != nil {
			return fmt.Errorf("%w: %v", ErrCoreUnavailable, coreErr)
		}
		return nil
	}

	if coreErr != nil {
		if c.mode == InfiniteTTL {
			// cache-even-on-failure: evaluation can proceed from intent
			// even though the backend write did not land.
			c.populateFromDataSet(data)
		}
		return fmt.Errorf("%w: %v", ErrCoreUnavailable, coreErr)
	}

	c.populateFromDataSet(data)
	c.mu.Lock()
	c.initializedCache = initializedCacheEntry{value: true, sticky: true}
	c.mu.Unlock()
	return nil
}

func (c *CachedStore) populateFromDataSet(data store.DataSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = map[string]itemCacheEntry{}
	c.snapshots = map[flagmodel.Kind]snapshotCacheEntry{}
	for kind, items := range data {
		cloned := make(map[string]flagmodel.ItemDescriptor, len(items))
		for key, desc := range items {
			cloned[key] = desc
			c.items[itemKey(kind, key)] = c.newItemEntry(desc, false)
		}
		c.snapshots[kind] = c.newSnapshotEntry(cloned)
	}
}

// Upsert implements store.Store.
func (c *CachedStore) Upsert(kind flagmodel.Kind, key string, desc flagmodel.ItemDescriptor) (bool, error) {
	sd, err := flagmodel.Serialize(kind, desc)
	if err != nil {
		return false, fmt.Errorf("storecache: upsert: serializing %s/%s: %w", kind, key, err)
	}

	applied, coreErr := c.core.Upsert(kind, key, sd)

	if c.mode == Uncached {
		if coreErr != nil {
			return applied, fmt.Errorf("%w: %v", ErrCoreUnavailable, coreErr)
		}
		return applied, nil
	}

	if coreErr != nil {
		if c.mode == InfiniteTTL {
			c.maybeCacheOnFailure(kind, key, desc)
		}
		return applied, fmt.Errorf("%w: %v", ErrCoreUnavailable, coreErr)
	}

	if applied {
		c.updateCacheOnSuccess(kind, key, desc)
	}
	return applied, nil
}

func (c *CachedStore) cachedVersion(kind flagmodel.Kind, key string) int {
	entry, found := c.items[itemKey(kind, key)]
	if !found {
		return flagmodel.MissingVersion
	}
	if entry.missing {
		return flagmodel.MissingVersion
	}
	return entry.desc.Version
}

func (c *CachedStore) maybeCacheOnFailure(kind flagmodel.Kind, key string, desc flagmodel.ItemDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if desc.Version <= c.cachedVersion(kind, key) {
		return
	}
	c.items[itemKey(kind, key)] = c.newItemEntry(desc, false)
	c.updateSnapshotInPlaceLocked(kind, key, desc)
}

func (c *CachedStore) updateCacheOnSuccess(kind flagmodel.Kind, key string, desc flagmodel.ItemDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[itemKey(kind, key)] = c.newItemEntry(desc, false)
	switch c.mode {
	case FiniteTTL:
		delete(c.snapshots, kind)
	case InfiniteTTL:
		c.updateSnapshotInPlaceLocked(kind, key, desc)
	}
}

// updateSnapshotInPlaceLocked must be called with c.mu held. It only
// touches a snapshot that is already cached; a cold snapshot is left
// cold and will be refetched whole on the next GetAll.
func (c *CachedStore) updateSnapshotInPlaceLocked(kind flagmodel.Kind, key string, desc flagmodel.ItemDescriptor) {
	snap, ok := c.snapshots[kind]
	if !ok {
		return
	}
	snap.items[key] = desc
	c.snapshots[kind] = snap
}

func deserializeAll(kind flagmodel.Kind, all map[string]flagmodel.SerializedItemDescriptor) (map[string]flagmodel.ItemDescriptor, error) {
	out := make(map[string]flagmodel.ItemDescriptor, len(all))
	for key, sd := range all {
		desc, err := flagmodel.Deserialize(kind, sd)
		if err != nil {
			return nil, fmt.Errorf("deserializing %s/%s: %w", kind, key, err)
		}
		out[key] = desc
	}
	return out, nil
}

func cloneItems(in map[string]flagmodel.ItemDescriptor) map[string]flagmodel.ItemDescriptor {
	out := make(map[string]flagmodel.ItemDescriptor, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
