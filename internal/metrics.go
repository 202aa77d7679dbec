package internal

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	batchesDelivered int64
	eventsDelivered  int64
	emptySuppressed  int64
	byType           [len(changeTypeNames)]int64
	errors           int64
	dirsWatched      int64
	lastBatchTime    int64 // unix nano
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordBatch(types []ChangeType) {
	atomic.AddInt64(&m.batchesDelivered, 1)
	atomic.AddInt64(&m.eventsDelivered, int64(len(types)))
	for _, t := range types {
		atomic.AddInt64(&m.byType[t], 1)
	}
	atomic.StoreInt64(&m.lastBatchTime, time.Now().UnixNano())
}

func (m *Metrics) RecordSuppressed() {
	atomic.AddInt64(&m.emptySuppressed, 1)
}

func (m *Metrics) RecordError() {
	atomic.AddInt64(&m.errors, 1)
}

func (m *Metrics) RecordDirectoryAdded() {
	atomic.AddInt64(&m.dirsWatched, 1)
}

func (m *Metrics) Batches() int64 { return atomic.LoadInt64(&m.batchesDelivered) }

func (m *Metrics) Events() int64 { return atomic.LoadInt64(&m.eventsDelivered) }

func (m *Metrics) Count(t ChangeType) int64 { return atomic.LoadInt64(&m.byType[t]) }

func (m *Metrics) GetStats() map[string]interface{} {
	var last time.Time
	if ns := atomic.LoadInt64(&m.lastBatchTime); ns != 0 {
		last = time.Unix(0, ns)
	}
	return map[string]interface{}{
		"batches_delivered": atomic.LoadInt64(&m.batchesDelivered),
		"events_delivered":  atomic.LoadInt64(&m.eventsDelivered),
		"empty_suppressed":  atomic.LoadInt64(&m.emptySuppressed),
		"created":           m.Count(Created),
		"removed":           m.Count(Removed),
		"rescan_folder":     m.Count(RescanFolder),
		"updated":           m.Count(Updated),
		"errors":            atomic.LoadInt64(&m.errors),
		"dirs_watched":      atomic.LoadInt64(&m.dirsWatched),
		"last_batch_time":   last,
	}
}
