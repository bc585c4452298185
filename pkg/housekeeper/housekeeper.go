// Package housekeeper runs a read-only scheduled maintenance loop over
// the store and cache. It never mutates state — per spec §5 only the
// streaming source and persistent store core are allowed to block on
// I/O or write, and the housekeeper must not be able to violate the
// single-writer discipline that protects the store.
package housekeeper

import (
	"fmt"

	"github.com/robfig/cron"

	"github.com/flagkit/evalsdk/pkg/flagmodel"
	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/store"
)

// Housekeeper periodically logs store sizes so an operator can see the
// SDK is alive and roughly how much data it's carrying, without the
// cost of a full evaluation or a /status scrape.
type Housekeeper struct {
	reader store.Reader
	log    *logger.Logger
	cron   *cron.Cron
}

// New builds a Housekeeper. It does nothing until Start is called.
func New(reader store.Reader, log *logger.Logger) *Housekeeper {
	return &Housekeeper{reader: reader, log: log, cron: cron.New()}
}

// Start schedules the introspection job on the given cron spec
// (robfig/cron v1 syntax: a seconds field first, then minute, hour,
// day-of-month, month and an optional day-of-week; or a descriptor such
// as "@every 1m") and begins running it on its own goroutine.
func (h *Housekeeper) Start(spec string) error {
	if err := h.cron.AddFunc(spec, h.report); err != nil {
		return fmt.Errorf("housekeeper: scheduling %q: %w", spec, err)
	}
	h.cron.Start()
	return nil
}

// Stop halts the scheduler. It does not wait for a job that is already
// running to finish.
func (h *Housekeeper) Stop() {
	h.cron.Stop()
}

func (h *Housekeeper) report() {
	if !h.reader.Initialized() {
		h.log.Warn("housekeeper: store not yet initialized")
		return
	}
	flags := h.reader.GetAll(flagmodel.KindFlags)
	segments := h.reader.GetAll(flagmodel.KindSegments)

	liveFlags, tombstonedFlags := count(flags)
	liveSegments, tombstonedSegments := count(segments)

	h.log.Infof(
		"housekeeper: flags live=%d tombstoned=%d, segments live=%d tombstoned=%d",
		liveFlags, tombstonedFlags, liveSegments, tombstonedSegments,
	)
}

func count(items map[string]flagmodel.ItemDescriptor) (live, tombstoned int) {
	for _, desc := range items {
		if desc.Item.IsTombstone() {
			tombstoned++
		} else {
			live++
		}
	}
	return live, tombstoned
}
