package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-memdb"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/logger"
)

const tableItems = "items"

// record is the memdb row shape: a (kind, key) compound-indexed entry
// carrying the current ItemDescriptor. memdb gives us consistent,
// point-in-time snapshot iteration for GetAll without a copy-on-every-
// read mutex, and atomic multi-row commits for Init.
type record struct {
	Kind    string
	Key     string
	Version int
	Desc    flagmodel.ItemDescriptor
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableItems: {
				Name: tableItems,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Kind"},
								&memdb.StringFieldIndex{Field: "Key"},
							},
						},
					},
					"kind": {
						Name:    "kind",
						Indexer: &memdb.StringFieldIndex{Field: "Kind"},
					},
				},
			},
		},
	}
}

// MemoryStore is the in-memory Store implementation: a versioned,
// indexed table behind a single writer lock. Reads never block on
// writers thanks to memdb's MVCC snapshots.
type MemoryStore struct {
	db          *memdb.MemDB
	writeMx     sync.Mutex
	initialized atomic.Bool
	log         *logger.Logger
}

func NewMemoryStore(log *logger.Logger) *MemoryStore {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		// Schema is static and known-good; a failure here means a
		// programming error, not a runtime condition callers can
		// recover from.
		panic(fmt.Errorf("memorystore: invalid schema: %w", err))
	}
	return &MemoryStore{db: db, log: log}
}

func (m *MemoryStore) Initialized() bool { return m.initialized.Load() }

func (m *MemoryStore) Get(kind flagmodel.Kind, key string) (flagmodel.ItemDescriptor, bool) {
	txn := m.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableItems, "id", string(kind), key)
	if err != nil || raw == nil {
		return flagmodel.ItemDescriptor{}, false
	}
	return raw.(*record).Desc, true
}

func (m *MemoryStore) GetAll(kind flagmodel.Kind) map[string]flagmodel.ItemDescriptor {
	txn := m.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableItems, "kind", string(kind))
	if err != nil {
		return map[string]flagmodel.ItemDescriptor{}
	}
	out := map[string]flagmodel.ItemDescriptor{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		r := raw.(*record)
		out[r.Key] = r.Desc
	}
	return out
}

func (m *MemoryStore) Init(data DataSet) error {
	m.writeMx.Lock()
	defer m.writeMx.Unlock()

	txn := m.db.Txn(true)
	// Discard everything regardless of prior version, per spec Init semantics.
	if _, err := txn.DeleteAll(tableItems, "id"); err != nil {
		txn.Abort()
		return fmt.Errorf("memorystore: init: clearing table: %w", err)
	}
	for kind, items := range data {
		for key, desc := range items {
			if err := txn.Insert(tableItems, &record{Kind: string(kind), Key: key, Version: desc.Version, Desc: desc}); err != nil {
				txn.Abort()
				return fmt.Errorf("memorystore: init: inserting %s/%s: %w", kind, key, err)
			}
		}
	}
	txn.Commit()
	m.initialized.Store(true)
	m.log.Debug("store initialized")
	return nil
}

// Upsert applies desc iff its version is strictly greater than the
// stored version (missing = flagmodel.MissingVersion). Returns whether
// the write was applied.
func (m *MemoryStore) Upsert(kind flagmodel.Kind, key string, desc flagmodel.ItemDescriptor) (bool, error) {
	m.writeMx.Lock()
	defer m.writeMx.Unlock()

	txn := m.db.Txn(true)
	raw, err := txn.First(tableItems, "id", string(kind), key)
	if err != nil {
		txn.Abort()
		return false, fmt.Errorf("memorystore: upsert: lookup %s/%s: %w", kind, key, err)
	}
	storedVersion := flagmodel.MissingVersion
	if raw != nil {
		storedVersion = raw.(*record).Version
	}
	if desc.Version <= storedVersion {
		txn.Abort()
		return false, nil
	}
	if err := txn.Insert(tableItems, &record{Kind: string(kind), Key: key, Version: desc.Version, Desc: desc}); err != nil {
		txn.Abort()
		return false, fmt.Errorf("memorystore: upsert: inserting %s/%s: %w", kind, key, err)
	}
	txn.Commit()
	return true, nil
}
