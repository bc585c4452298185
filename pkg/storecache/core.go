// Package storecache implements the read-through/write-through cache
// wrapper described in spec §4.2: it sits between the data source /
// evaluator and a "core" that speaks a nearly identical interface over
// serialized item bytes, bridging the persistence-friendly capability
// (serialized bytes, possibly unavailable) to the in-memory-friendly
// capability (live items) the evaluator consumes — per the polymorphism
// design note in spec §9.
package storecache

import (
	"errors"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
)

// ErrCoreUnavailable wraps any error returned by a PersistentCore
// operation, so callers can detect backend outages without depending on
// backend-specific error types (e.g. redis.Nil) past this boundary.
var ErrCoreUnavailable = errors.New("storecache: persistent core unavailable")

// SerializedCollection is one kind's full contents, used by Init.
type SerializedCollection struct {
	Kind  flagmodel.Kind
	Items map[string]flagmodel.SerializedItemDescriptor
}

// PersistentCore is the serialized-bytes-level backend contract the
// cache wrapper fronts. Implementations must be safe for concurrent use
// and must apply the version gate themselves on Upsert (an upsert whose
// version is <= the stored version is a no-op, returning applied=false).
type PersistentCore interface {
	Init(data []SerializedCollection) error
	Get(kind flagmodel.Kind, key string) (flagmodel.SerializedItemDescriptor, error)
	GetAll(kind flagmodel.Kind) (map[string]flagmodel.SerializedItemDescriptor, error)
	Upsert(kind flagmodel.Kind, key string, item flagmodel.SerializedItemDescriptor) (bool, error)
	Initialized() (bool, error)
	IsAvailable() bool
	Close() error
}

// TTLMode selects the wrapper's caching discipline.
type TTLMode int

const (
	// Uncached passes every operation straight through to the core.
	Uncached TTLMode = iota
	// FiniteTTL caches reads for a bounded duration; on core failure the
	// cache is left untouched and the error propagates.
	FiniteTTL
	// InfiniteTTL caches reads forever (until invalidated by an
	// in-process upsert) and caches even on core failure, so the
	// in-memory view survives backend outages.
	InfiniteTTL
)
