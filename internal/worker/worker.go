// Package worker implements the single-threaded per-shard consumer: it
// owns the kline sequences and funding-rate dedup state for its subset of
// symbols, mutates them serially as records arrive on its inbox, and fans
// closed-bar detectors out as detached goroutines so detection never
// stalls the aggregator.
package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/xiangxn/perpx/internal/detect"
	"github.com/xiangxn/perpx/internal/logging"
	"github.com/xiangxn/perpx/internal/metrics"
	"github.com/xiangxn/perpx/internal/queue"
	"github.com/xiangxn/perpx/internal/types"
)

// QueueName is the single downstream queue every detector event is pushed
// onto.
const QueueName = "events"

// seriesKey identifies one (symbol, interval) kline sequence within a
// worker's state.
type seriesKey struct {
	symbol   string
	interval types.Interval
}

// Worker owns aggregation state for one shard and consumes its inbox
// strictly in arrival order. Nothing here is shared with any other
// worker.
type Worker struct {
	id            int
	inbox         <-chan types.Message
	maxKlineCount int
	thresholds    detect.FundingThresholds
	q             *queue.Queue
	eventTTL      time.Duration
	log           *logging.Logger

	series  map[seriesKey][]types.Kline
	funding map[string]types.FundingRateLimit
}

// New builds a Worker that reads from inbox until it is closed.
func New(id int, inbox <-chan types.Message, maxKlineCount int, thresholds detect.FundingThresholds, q *queue.Queue, eventTTL time.Duration) *Worker {
	return &Worker{
		id:            id,
		inbox:         inbox,
		maxKlineCount: maxKlineCount,
		thresholds:    thresholds,
		q:             q,
		eventTTL:      eventTTL,
		log:           logging.WorkerContext(id),
		series:        make(map[seriesKey][]types.Kline),
		funding:       make(map[string]types.FundingRateLimit),
	}
}

// Run processes messages until ctx is cancelled or the inbox is closed,
// draining whatever is already buffered before returning.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-w.inbox:
			if !ok {
				return
			}
			w.handle(ctx, msg)
			w.reportInboxDepth()
		case <-ctx.Done():
			w.drain(ctx)
			return
		}
	}
}

// reportInboxDepth samples the inbox's current backlog so operators can see
// a shard falling behind before it ever blocks upstream dispatch.
func (w *Worker) reportInboxDepth() {
	metrics.WorkerInboxDepth.WithLabelValues(strconv.Itoa(w.id)).Set(float64(len(w.inbox)))
}

// drain processes whatever is already buffered in the inbox without
// blocking, so an in-flight burst isn't silently discarded on shutdown.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case msg, ok := <-w.inbox:
			if !ok {
				return
			}
			w.handle(ctx, msg)
		default:
			return
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg types.Message) {
	switch m := msg.(type) {
	case *types.Ticker:
		w.handleTicker(ctx, m)
	case *types.MarkPrice:
		w.handleMarkPrice(m)
	}
}

func parseFloatOr0(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0.0
	}
	return v
}

func (w *Worker) handleTicker(ctx context.Context, t *types.Ticker) {
	price := parseFloatOr0(t.LastPrice)
	volume := parseFloatOr0(t.Volume)
	ts := t.EventTime

	for _, interval := range types.Intervals {
		w.updateInterval(ctx, t.Symbol, interval, price, volume, ts, t.Turnover)
	}
}

func (w *Worker) updateInterval(ctx context.Context, symbol string, interval types.Interval, price, volume float64, ts int64, turnover string) {
	aligned := interval.AlignTimestamp(ts)
	key := seriesKey{symbol: symbol, interval: interval}
	seq := w.series[key]

	switch {
	case len(seq) == 0:
		w.series[key] = append(seq, types.NewKline(price, volume, aligned))

	case seq[len(seq)-1].StartTS == aligned:
		last := &seq[len(seq)-1]
		last.Update(price, volume)

	default:
		// Rollover: snapshot the closed sequence before mutating it further,
		// fan out the detectors, then append the new bar.
		snapshot := make([]types.Kline, len(seq))
		copy(snapshot, seq)
		metrics.KlineRollovers.WithLabelValues(interval.String()).Inc()
		w.spawnDetectors(ctx, symbol, interval, snapshot, turnover)

		seq = append(seq, types.NewKline(price, volume, aligned))
		if len(seq) > w.maxKlineCount {
			seq = seq[len(seq)-w.maxKlineCount:]
		}
		w.series[key] = seq
	}
}

// spawnDetectors launches the volatility-spike and consecutive-move
// detectors as detached goroutines over an owned snapshot, so they can run
// concurrently with the worker mutating its live state.
func (w *Worker) spawnDetectors(ctx context.Context, symbol string, interval types.Interval, snapshot []types.Kline, turnover string) {
	go w.runVolatilitySpike(ctx, symbol, interval, snapshot, turnover)
	go w.runConsecutiveMove(ctx, symbol, interval, snapshot, turnover)
}

func (w *Worker) runVolatilitySpike(ctx context.Context, symbol string, interval types.Interval, snapshot []types.Kline, turnover string) {
	event := detect.VolatilitySpike(symbol, interval, snapshot, turnover)
	if event == nil {
		return
	}
	metrics.EventsEmitted.WithLabelValues(string(event.EventType)).Inc()
	w.q.PushEvent(ctx, QueueName, event, w.eventTTL, logging.DetectorContext("volatility_spike", symbol, interval.String()))
}

func (w *Worker) runConsecutiveMove(ctx context.Context, symbol string, interval types.Interval, snapshot []types.Kline, turnover string) {
	event := detect.ConsecutiveMove(symbol, interval, snapshot, turnover)
	if event == nil {
		return
	}
	metrics.EventsEmitted.WithLabelValues(string(event.EventType)).Inc()
	w.q.PushEvent(ctx, QueueName, event, w.eventTTL, logging.DetectorContext("consecutive_move", symbol, interval.String()))
}

func (w *Worker) handleMarkPrice(m *types.MarkPrice) {
	fr, err := strconv.ParseFloat(m.FundingRate, 64)
	if err != nil {
		w.log.Error("failed to parse funding rate", "error", err, "symbol", m.Symbol)
		return
	}

	var prevPtr *types.FundingRateLimit
	if prev, ok := w.funding[m.Symbol]; ok {
		prevPtr = &prev
	}

	event, next, emit := detect.FundingRate(m.Symbol, m.FundingRate, fr, m.EventTime, m.NextFundingTime, prevPtr, w.thresholds)
	if !emit {
		return
	}
	w.funding[m.Symbol] = next

	go func() {
		metrics.EventsEmitted.WithLabelValues(string(event.EventType)).Inc()
		w.q.PushEvent(context.Background(), QueueName, event, w.eventTTL, logging.DetectorContext("funding_rate", m.Symbol, ""))
	}()
}

// SeriesLen reports the current length of a (symbol, interval) sequence.
// Exported for tests that assert the bounded-memory invariant.
func (w *Worker) SeriesLen(symbol string, interval types.Interval) int {
	return len(w.series[seriesKey{symbol: symbol, interval: interval}])
}

// Series returns a copy of the current (symbol, interval) sequence. Tests
// use this to assert OHLC and alignment invariants.
func (w *Worker) Series(symbol string, interval types.Interval) []types.Kline {
	seq := w.series[seriesKey{symbol: symbol, interval: interval}]
	out := make([]types.Kline, len(seq))
	copy(out, seq)
	return out
}
