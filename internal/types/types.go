// Package types holds the wire-level and domain value types shared across
// the ingestion pipeline: raw exchange records, the interval enum, klines,
// and the events the detectors emit.
package types

import "fmt"

// Ticker is a single-symbol 24h ticker update from the "!ticker@arr" stream.
// Numeric fields stay as decimal strings; the worker parses them lazily so
// a malformed number never fails decoding.
type Ticker struct {
	EventType  string `json:"e"`
	EventTime  int64  `json:"E"`
	Symbol     string `json:"s"`
	LastPrice  string `json:"c"`
	Turnover   string `json:"Q"`
	Volume     string `json:"q"`
}

// MarkPrice is a single-symbol mark-price update from the "!markPrice@arr"
// stream.
type MarkPrice struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// Message is the tagged union of the two record kinds a worker inbox
// carries. Only *Ticker and *MarkPrice implement it.
type Message interface {
	isMessage()
}

func (*Ticker) isMessage()    {}
func (*MarkPrice) isMessage() {}

// Interval is one of the four closed-set aggregation windows.
type Interval int

const (
	Interval5m Interval = iota
	Interval15m
	Interval1h
	Interval4h
)

// Intervals lists the closed set of aggregation windows a worker tracks
// for every symbol, in a fixed order.
var Intervals = [...]Interval{Interval5m, Interval15m, Interval1h, Interval4h}

// Seconds returns the bucket width of the interval in seconds.
func (i Interval) Seconds() int64 {
	switch i {
	case Interval5m:
		return 300
	case Interval15m:
		return 900
	case Interval1h:
		return 3600
	case Interval4h:
		return 14400
	default:
		panic(fmt.Sprintf("types: unknown interval %d", i))
	}
}

// String renders the interval the way it appears in Event.Period.
func (i Interval) String() string {
	switch i {
	case Interval5m:
		return "5m"
	case Interval15m:
		return "15m"
	case Interval1h:
		return "1h"
	case Interval4h:
		return "4h"
	default:
		return "unknown"
	}
}

// AlignTimestamp truncates a millisecond timestamp down to the start of the
// interval bucket it falls in.
func (i Interval) AlignTimestamp(tsMillis int64) int64 {
	width := i.Seconds() * 1000
	return tsMillis - (tsMillis % width)
}

// Kline is one OHLCV bar. StartTS is aligned to the owning interval's
// bucket width. Only the last kline in a sequence is ever mutated; every
// earlier one is an immutable closed bar.
type Kline struct {
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Volume  float64
	StartTS int64
}

// Update folds a new trade price/volume into an in-progress kline.
func (k *Kline) Update(price, volume float64) {
	if price > k.High {
		k.High = price
	}
	if price < k.Low {
		k.Low = price
	}
	k.Close = price
	k.Volume += volume
}

// NewKline opens a fresh bar seeded from a single trade.
func NewKline(price, volume float64, startTS int64) Kline {
	return Kline{Open: price, High: price, Low: price, Close: price, Volume: volume, StartTS: startTS}
}

// FundingRateLimit is the per-symbol dedup/rate-limit state the funding-rate
// detector keeps between mark-price updates.
type FundingRateLimit struct {
	Time int64
	Rate float64
}

// EventType names the three classes of detection output.
type EventType string

const (
	EventVolatilitySpike EventType = "VolatilitySpike"
	EventConsecutiveMove EventType = "ConsecutiveMove"
	EventFundingRate     EventType = "FundingRate"
)

// Event is a self-contained detection result ready for serialization onto
// the queue. Value carries detector-specific fields and must marshal to a
// JSON object.
type Event struct {
	Symbol    string                 `json:"symbol"`
	EventType EventType              `json:"event_type"`
	Period    string                 `json:"period"`
	Value     map[string]interface{} `json:"value"`
	Timestamp int64                  `json:"timestamp"`
}
