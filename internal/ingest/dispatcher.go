// Package ingest shards incoming records by symbol and hands them to the
// worker that owns that shard, without ever blocking the decoder.
package ingest

import (
	"github.com/cespare/xxhash/v2"

	"github.com/xiangxn/perpx/internal/logging"
	"github.com/xiangxn/perpx/internal/metrics"
	"github.com/xiangxn/perpx/internal/types"
)

// DefaultInboxCapacity is the reference bound from the design: a shard's
// inbox holds at most this many pending records before the dispatcher
// starts dropping.
const DefaultInboxCapacity = 10_000

// Dispatcher fans incoming records out to a fixed number of shard inboxes.
// A symbol always maps to the same shard for the lifetime of the process,
// independent of arrival order, because the hash is a pure function of the
// symbol's bytes.
type Dispatcher struct {
	inboxes []chan types.Message
	log     *logging.Logger
}

// New builds a Dispatcher with workerCount shard inboxes, each buffered to
// inboxCapacity.
func New(workerCount, inboxCapacity int) *Dispatcher {
	if workerCount < 1 {
		workerCount = 1
	}
	if inboxCapacity < 1 {
		inboxCapacity = DefaultInboxCapacity
	}
	inboxes := make([]chan types.Message, workerCount)
	for i := range inboxes {
		inboxes[i] = make(chan types.Message, inboxCapacity)
	}
	return &Dispatcher{inboxes: inboxes, log: logging.DispatchContext()}
}

// Inboxes returns the shard inbox handles so worker goroutines can range
// over their own channel. The slice is shared read-only after New returns.
func (d *Dispatcher) Inboxes() []chan types.Message {
	return d.inboxes
}

// Shard computes the deterministic shard index for a symbol. It is a pure
// function of the symbol bytes: same symbol, same shard, every run.
func Shard(symbol string, workerCount int) int {
	return int(xxhash.Sum64String(symbol) % uint64(workerCount))
}

// Dispatch routes one record to its shard's inbox with a non-blocking
// send. A full inbox silently drops the record; this is the documented
// backpressure policy, not an error.
func (d *Dispatcher) Dispatch(symbol string, msg types.Message) {
	idx := Shard(symbol, len(d.inboxes))
	select {
	case d.inboxes[idx] <- msg:
	default:
		// Backpressure drop: intentionally not logged per-message to avoid
		// log amplification under load.
		metrics.DispatchDropped.WithLabelValues("full_inbox").Inc()
	}
}

// DispatchAll routes every record in a decoded batch, computing the shard
// once per record's own symbol.
func (d *Dispatcher) DispatchAll(msgs []types.Message) {
	for _, msg := range msgs {
		switch m := msg.(type) {
		case *types.Ticker:
			d.Dispatch(m.Symbol, m)
		case *types.MarkPrice:
			d.Dispatch(m.Symbol, m)
		}
	}
}

// Close closes every shard inbox, signalling workers to drain and exit.
func (d *Dispatcher) Close() {
	for _, inbox := range d.inboxes {
		close(inbox)
	}
}
