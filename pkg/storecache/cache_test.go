package storecache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/store"
)

// fakeCore is an in-memory PersistentCore stand-in with a failure
// switch, so tests can exercise the wrapper's behavior on backend
// outages without a real external dependency.
type fakeCore struct {
	mu          sync.Mutex
	items       map[flagmodel.Kind]map[string]flagmodel.SerializedItemDescriptor
	inited      bool
	failNext    bool
	failAlways  bool
	getCalls    int32
	getAllCalls int32
}

func newFakeCore() *fakeCore {
	return &fakeCore{items: map[flagmodel.Kind]map[string]flagmodel.SerializedItemDescriptor{}}
}

func (f *fakeCore) Init(data []SerializedCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlways || f.consumeFailNext() {
		return errors.New("fake core: init failed")
	}
	for _, coll := range data {
		m := map[string]flagmodel.SerializedItemDescriptor{}
		for k, v := range coll.Items {
			m[k] = v
		}
		f.items[coll.Kind] = m
	}
	f.inited = true
	return nil
}

func (f *fakeCore) consumeFailNext() bool {
	if f.failNext {
		f.failNext = false
		return true
	}
	return false
}

func (f *fakeCore) Get(kind flagmodel.Kind, key string) (flagmodel.SerializedItemDescriptor, error) {
	atomic.AddInt32(&f.getCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlways || f.consumeFailNext() {
		return flagmodel.SerializedItemDescriptor{}, errors.New("fake core: get failed")
	}
	m := f.items[kind]
	sd, ok := m[key]
	if !ok {
		return flagmodel.SerializedItemDescriptor{Version: flagmodel.MissingVersion}, nil
	}
	return sd, nil
}

func (f *fakeCore) GetAll(kind flagmodel.Kind) (map[string]flagmodel.SerializedItemDescriptor, error) {
	atomic.AddInt32(&f.getAllCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlways || f.consumeFailNext() {
		return nil, errors.New("fake core: getAll failed")
	}
	out := map[string]flagmodel.SerializedItemDescriptor{}
	for k, v := range f.items[kind] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeCore) Upsert(kind flagmodel.Kind, key string, item flagmodel.SerializedItemDescriptor) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlways || f.consumeFailNext() {
		return false, errors.New("fake core: upsert failed")
	}
	m, ok := f.items[kind]
	if !ok {
		m = map[string]flagmodel.SerializedItemDescriptor{}
		f.items[kind] = m
	}
	existing, found := m[key]
	if found && existing.Version >= item.Version {
		return false, nil
	}
	m[key] = item
	return true, nil
}

func (f *fakeCore) Initialized() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inited, nil
}

func (f *fakeCore) IsAvailable() bool { return !f.failAlways }
func (f *fakeCore) Close() error      { return nil }

func sd(version int, payload string) flagmodel.SerializedItemDescriptor {
	return flagmodel.SerializedItemDescriptor{Version: version, Item: []byte(payload)}
}

func flagJSON(key string, version int) []byte {
	f := &flagmodel.Flag{Key: key, Version: version}
	b, _ := flagmodel.Serialize(flagmodel.KindFlags, flagmodel.ItemDescriptor{Version: version, Item: flagmodel.FlagItem(f)})
	return b.Item
}

func flagDescriptor(key string, version int) flagmodel.ItemDescriptor {
	f := &flagmodel.Flag{Key: key, Version: version}
	return flagmodel.ItemDescriptor{Version: version, Item: flagmodel.FlagItem(f)}
}

func TestUncachedPassesThrough(t *testing.T) {
	core := newFakeCore()
	c := New(core, Uncached, time.Minute, logger.New())

	require.NoError(t, c.Init(store.DataSet{flagmodel.KindFlags: {"f": flagDescriptor("f", 1)}}))
	desc, ok := c.Get(flagmodel.KindFlags, "f")
	assert.True(t, ok)
	assert.Equal(t, 1, desc.Version)

	core.failAlways = true
	_, ok = c.Get(flagmodel.KindFlags, "f")
	assert.False(t, ok, "uncached mode never serves stale data once the core fails")
}

func TestFiniteTTLCacheCoherence(t *testing.T) {
	core := newFakeCore()
	require.NoError(t, core.Init([]SerializedCollection{{Kind: flagmodel.KindFlags, Items: map[string]flagmodel.SerializedItemDescriptor{"f": sd(1, string(flagJSON("f", 1)))}}}))
	c := New(core, FiniteTTL, time.Minute, logger.New())

	_, ok := c.Get(flagmodel.KindFlags, "f")
	require.True(t, ok)
	before := atomic.LoadInt32(&core.getCalls)

	_, ok = c.Get(flagmodel.KindFlags, "f")
	require.True(t, ok)
	assert.Equal(t, before, atomic.LoadInt32(&core.getCalls), "second get within TTL must not hit the backend")
}

func TestFiniteTTLUpsertFailurePropagatesAndLeavesCacheUntouched(t *testing.T) {
	core := newFakeCore()
	c := New(core, FiniteTTL, time.Minute, logger.New())
	require.NoError(t, c.Init(store.DataSet{flagmodel.KindFlags: {}}))

	core.failNext = true
	applied, err := c.Upsert(flagmodel.KindFlags, "f", flagDescriptor("f", 1))
	assert.False(t, applied)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCoreUnavailable))

	_, ok := c.Get(flagmodel.KindFlags, "f")
	assert.False(t, ok, "finite-TTL mode must not cache on upsert failure")
}

func TestInfiniteTTLCachesEvenOnUpsertFailure(t *testing.T) {
	core := newFakeCore()
	c := New(core, InfiniteTTL, time.Minute, logger.New())
	require.NoError(t, c.Init(store.DataSet{flagmodel.KindFlags: {}}))

	core.failNext = true
	applied, err := c.Upsert(flagmodel.KindFlags, "f", flagDescriptor("f", 5))
	assert.False(t, applied)
	require.Error(t, err)

	desc, ok := c.Get(flagmodel.KindFlags, "f")
	require.True(t, ok, "infinite-TTL mode caches intent even when the backend write failed")
	assert.Equal(t, 5, desc.Version)
}

func TestInfiniteTTLInitFailureStillPopulatesCache(t *testing.T) {
	core := newFakeCore()
	core.failAlways = true
	c := New(core, InfiniteTTL, time.Minute, logger.New())

	err := c.Init(store.DataSet{flagmodel.KindFlags: {"f": flagDescriptor("f", 1)}})
	require.Error(t, err)

	desc, ok := c.Get(flagmodel.KindFlags, "f")
	require.True(t, ok)
	assert.Equal(t, 1, desc.Version)
}

func TestFiniteTTLInitFailureLeavesCacheEmpty(t *testing.T) {
	core := newFakeCore()
	core.failAlways = true
	c := New(core, FiniteTTL, time.Minute, logger.New())

	err := c.Init(store.DataSet{flagmodel.KindFlags: {"f": flagDescriptor("f", 1)}})
	require.Error(t, err)

	_, ok := c.Get(flagmodel.KindFlags, "f")
	assert.False(t, ok)
}

func TestFiniteTTLUpsertInvalidatesSnapshot(t *testing.T) {
	core := newFakeCore()
	c := New(core, FiniteTTL, time.Minute, logger.New())
	require.NoError(t, c.Init(store.DataSet{flagmodel.KindFlags: {"a": flagDescriptor("a", 1)}}))

	all := c.GetAll(flagmodel.KindFlags)
	assert.Len(t, all, 1)

	_, err := c.Upsert(flagmodel.KindFlags, "b", flagDescriptor("b", 1))
	require.NoError(t, err)

	all = c.GetAll(flagmodel.KindFlags)
	assert.Len(t, all, 2, "finite-TTL getAll snapshot must be invalidated by an upsert")
}

func TestInfiniteTTLUpsertUpdatesSnapshotInPlace(t *testing.T) {
	core := newFakeCore()
	c := New(core, InfiniteTTL, time.Minute, logger.New())
	require.NoError(t, c.Init(store.DataSet{flagmodel.KindFlags: {"a": flagDescriptor("a", 1)}}))

	all := c.GetAll(flagmodel.KindFlags)
	assert.Len(t, all, 1)
	beforeGetAll := atomic.LoadInt32(&core.getAllCalls)

	_, err := c.Upsert(flagmodel.KindFlags, "b", flagDescriptor("b", 1))
	require.NoError(t, err)

	all = c.GetAll(flagmodel.KindFlags)
	assert.Len(t, all, 2)
	assert.Equal(t, beforeGetAll, atomic.LoadInt32(&core.getAllCalls), "infinite-TTL getAll must serve the in-place-updated snapshot without hitting the core")
}

func TestInitializedIsStickyOnceTrue(t *testing.T) {
	core := newFakeCore()
	c := New(core, FiniteTTL, time.Millisecond, logger.New())
	require.NoError(t, c.Init(store.DataSet{flagmodel.KindFlags: {}}))
	assert.True(t, c.Initialized())

	core.failAlways = true
	time.Sleep(5 * time.Millisecond)
	assert.True(t, c.Initialized(), "initialized() never flips back to false")
}

func TestCachedMissingEntryIsNegativeCache(t *testing.T) {
	core := newFakeCore()
	c := New(core, FiniteTTL, time.Minute, logger.New())
	require.NoError(t, c.Init(store.DataSet{flagmodel.KindFlags: {}}))

	_, ok := c.Get(flagmodel.KindFlags, "ghost")
	assert.False(t, ok)

	_, err := core.Upsert(flagmodel.KindFlags, "ghost", sd(1, string(flagJSON("ghost", 1))))
	require.NoError(t, err)

	_, ok = c.Get(flagmodel.KindFlags, "ghost")
	assert.False(t, ok, "a cached negative entry hides a direct backend write until it expires")
}

func TestStampedeProtectionSingleFlightsConcurrentMisses(t *testing.T) {
	core := newFakeCore()
	require.NoError(t, core.Init([]SerializedCollection{{Kind: flagmodel.KindFlags, Items: map[string]flagmodel.SerializedItemDescriptor{"f": sd(1, string(flagJSON("f", 1)))}}}))
	c := New(core, FiniteTTL, time.Minute, logger.New())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(flagmodel.KindFlags, "f")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&core.getCalls), "concurrent misses for the same key must share one backend fetch")
}
