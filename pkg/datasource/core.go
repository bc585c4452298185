// Package datasource implements the streaming data-source state
// machine described in spec §4.4: a consumer that turns put/patch/delete
// events into store mutations, plus two independent event sources that
// feed it — a server-sent-events adapter and a local file watcher.
//
// The consumer itself never touches a transport. It is built around an
// EventStream interface so the evaluator/store machinery never depends
// on how events arrived.
package datasource

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/store"
)

//go:embed schema/flag.schema.json
var flagSchemaJSON []byte

//go:embed schema/segment.schema.json
var segmentSchemaJSON []byte

var (
	flagSchemaLoader    = gojsonschema.NewBytesLoader(flagSchemaJSON)
	segmentSchemaLoader = gojsonschema.NewBytesLoader(segmentSchemaJSON)
)

// Event is one named SSE-shaped message, however it arrived.
type Event struct {
	Name string
	Data []byte
}

// EventStream is the abstract transport the consumer reads from. Name
// the wire transport is deliberately kept outside this package per
// spec §1; a concrete adapter drives this interface from a real
// connection (SSE, a file watch, a test fixture).
type EventStream interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// core holds the shared parse-validate-translate logic used by every
// EventStream-driving loop in this package, so the SSE adapter and the
// file adapter can't drift in how they interpret put/patch/delete.
type core struct {
	store store.Store
	log   *logger.Logger
}

func newCore(s store.Store, log *logger.Logger) *core {
	return &core{store: s, log: log}
}

type putPayload struct {
	Data struct {
		Flags    map[string]json.RawMessage `json:"flags"`
		Segments map[string]json.RawMessage `json:"segments"`
	} `json:"data"`
}

type patchPayload struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

type deletePayload struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

func validateAgainst(loader gojsonschema.JSONLoader, raw []byte) error {
	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("datasource: schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("datasource: payload failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ingestPut parses and validates a full put payload and bulk-replaces
// the store with it.
func (c *core) ingestPut(raw []byte) error {
	var payload putPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("datasource: malformed put payload: %w", err)
	}

	data := store.DataSet{
		flagmodel.KindFlags:    {},
		flagmodel.KindSegments: {},
	}
	for key, raw := range payload.Data.Flags {
		if err := validateAgainst(flagSchemaLoader, raw); err != nil {
			return fmt.Errorf("datasource: put: flag %q: %w", key, err)
		}
		var f flagmodel.Flag
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("datasource: put: flag %q: %w", key, err)
		}
		data[flagmodel.KindFlags][key] = flagmodel.ItemDescriptor{Version: f.Version, Item: flagmodel.FlagItem(&f)}
	}
	for key, raw := range payload.Data.Segments {
		if err := validateAgainst(segmentSchemaLoader, raw); err != nil {
			return fmt.Errorf("datasource: put: segment %q: %w", key, err)
		}
		var s flagmodel.Segment
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("datasource: put: segment %q: %w", key, err)
		}
		data[flagmodel.KindSegments][key] = flagmodel.ItemDescriptor{Version: s.Version, Item: flagmodel.SegmentItem(&s)}
	}

	if err := c.store.Init(data); err != nil {
		return fmt.Errorf("datasource: put: %w", err)
	}
	c.log.Infof("datasource: put applied, %d flags, %d segments", len(data[flagmodel.KindFlags]), len(data[flagmodel.KindSegments]))
	return nil
}

// ingestPatch parses path to find the target kind/key, validates and
// parses data, and upserts it.
func (c *core) ingestPatch(raw []byte) error {
	var payload patchPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("datasource: malformed patch payload: %w", err)
	}
	kind, key, err := parsePath(payload.Path)
	if err != nil {
		c.log.Warnf("datasource: patch: %v, skipping", err)
		return nil
	}

	var desc flagmodel.ItemDescriptor
	switch kind {
	case flagmodel.KindFlags:
		if err := validateAgainst(flagSchemaLoader, payload.Data); err != nil {
			return fmt.Errorf("datasource: patch %s: %w", payload.Path, err)
		}
		var f flagmodel.Flag
		if err := json.Unmarshal(payload.Data, &f); err != nil {
			return fmt.Errorf("datasource: patch %s: %w", payload.Path, err)
		}
		desc = flagmodel.ItemDescriptor{Version: f.Version, Item: flagmodel.FlagItem(&f)}
	case flagmodel.KindSegments:
		if err := validateAgainst(segmentSchemaLoader, payload.Data); err != nil {
			return fmt.Errorf("datasource: patch %s: %w", payload.Path, err)
		}
		var s flagmodel.Segment
		if err := json.Unmarshal(payload.Data, &s); err != nil {
			return fmt.Errorf("datasource: patch %s: %w", payload.Path, err)
		}
		desc = flagmodel.ItemDescriptor{Version: s.Version, Item: flagmodel.SegmentItem(&s)}
	}

	applied, err := c.store.Upsert(kind, key, desc)
	if err != nil {
		return fmt.Errorf("datasource: patch %s: %w", payload.Path, err)
	}
	if !applied {
		c.log.Debugf("datasource: patch %s ignored, stale version %d", payload.Path, desc.Version)
	}
	return nil
}

func (c *core) ingestDelete(raw []byte) error {
	var payload deletePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("datasource: malformed delete payload: %w", err)
	}
	kind, key, err := parsePath(payload.Path)
	if err != nil {
		c.log.Warnf("datasource: delete: %v, skipping", err)
		return nil
	}
	applied, err := c.store.Upsert(kind, key, flagmodel.Tombstone(payload.Version))
	if err != nil {
		return fmt.Errorf("datasource: delete %s: %w", payload.Path, err)
	}
	if !applied {
		c.log.Debugf("datasource: delete %s ignored, stale version %d", payload.Path, payload.Version)
	}
	return nil
}

func parsePath(path string) (flagmodel.Kind, string, error) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("malformed path %q", path)
	}
	switch parts[0] {
	case "flags":
		return flagmodel.KindFlags, parts[1], nil
	case "segments":
		return flagmodel.KindSegments, parts[1], nil
	default:
		return "", "", fmt.Errorf("unknown path kind %q", parts[0])
	}
}

// DataSource is the common shape of every way data enters the store:
// run until ctx is canceled or a fatal error occurs, and report whether
// the first full load has happened yet.
type DataSource interface {
	Run(ctx context.Context) error
	Initialized() bool
}

// Consumer is the stateful state machine described in spec §4.4: it
// knows nothing about transports, only how to turn a stream of named
// events into store mutations. A concrete adapter (SSESource) drives it
// from a real connection; tests can drive it from a fake EventStream.
type Consumer struct {
	core *core
}

// NewConsumer builds a Consumer writing into s.
func NewConsumer(s store.Store, log *logger.Logger) *Consumer {
	return &Consumer{core: newCore(s, log)}
}

// Initialized reports whether a put has ever been applied successfully.
// A restart never clears this, per spec §4.4's initialization contract.
func (c *Consumer) Initialized() bool {
	return c.core.store.Initialized()
}

// Run drains stream until ctx is canceled, the event channel closes, an
// out-of-band error arrives, or a malformed payload forces the caller
// to drop and reconnect. It never closes stream; the caller owns that.
func (c *Consumer) Run(ctx context.Context, stream EventStream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				return errStreamClosed
			}
			if err := c.core.handle(ev); err != nil {
				return fmt.Errorf("dropping stream after malformed payload: %w", err)
			}
		case err, ok := <-stream.Errors():
			if !ok {
				continue
			}
			return err
		}
	}
}

// handle dispatches one event to the right ingest function. Unknown
// event names are logged and skipped, never fatal.
func (c *core) handle(ev Event) error {
	switch ev.Name {
	case "put":
		return c.ingestPut(ev.Data)
	case "patch":
		return c.ingestPatch(ev.Data)
	case "delete":
		return c.ingestDelete(ev.Data)
	default:
		c.log.Warnf("datasource: unknown event %q, skipping", ev.Name)
		return nil
	}
}
