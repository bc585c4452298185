// Package store implements the data-store abstraction the evaluator
// reads from: a versioned map of (kind, key) -> ItemDescriptor with
// atomic init/upsert semantics, plus the prerequisite-aware dependency
// sort used to order a bulk init.
package store

import "github.com/flagkit/evalsdk/pkg/flagmodel"

// DataSet is a full replacement payload for Init, partitioned by kind.
type DataSet map[flagmodel.Kind]map[string]flagmodel.ItemDescriptor

// Reader is the read-only capability the evaluator depends on. The
// in-memory implementation never blocks on I/O; storecache.CachedStore
// calls its persistent core on a cache miss.
type Reader interface {
	Get(kind flagmodel.Kind, key string) (flagmodel.ItemDescriptor, bool)
	GetAll(kind flagmodel.Kind) map[string]flagmodel.ItemDescriptor
	Initialized() bool
}

// Store is the full read/write contract described in spec §4.1.
type Store interface {
	Reader
	Init(data DataSet) error
	Upsert(kind flagmodel.Kind, key string, item flagmodel.ItemDescriptor) (bool, error)
}
