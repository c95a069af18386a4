package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiangxn/perpx/internal/detect"
	"github.com/xiangxn/perpx/internal/queue"
	"github.com/xiangxn/perpx/internal/types"
)

// recordingCommander implements queue.Commander and signals pushed on a
// channel so tests can wait for a detector's detached goroutine to finish
// without sleeping arbitrarily.
type recordingCommander struct {
	pushed chan []byte
}

func newRecordingCommander() *recordingCommander {
	return &recordingCommander{pushed: make(chan []byte, 16)}
}

func (c *recordingCommander) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	c.pushed <- value.([]byte)
	cmd.SetVal("OK")
	return cmd
}

func (c *recordingCommander) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func testThresholds() detect.FundingThresholds {
	return detect.FundingThresholds{
		MinFundingRate:          0.0005,
		MinFundingRateChange:    0.0002,
		FundingRateIntervalSecs: 3600,
	}
}

func newTestWorker() (*Worker, *recordingCommander) {
	cmdr := newRecordingCommander()
	q := queue.New(cmdr, time.Minute)
	inbox := make(chan types.Message, 16)
	w := New(0, inbox, 5, testThresholds(), q, time.Minute)
	return w, cmdr
}

// TestHandleTickerOpensAndUpdatesBar checks a ticker sequence within the
// same bucket opens one bar and folds later trades into it in place.
func TestHandleTickerOpensAndUpdatesBar(t *testing.T) {
	w, _ := newTestWorker()
	ctx := context.Background()

	w.handleTicker(ctx, &types.Ticker{Symbol: "BTCUSDT", LastPrice: "100", Volume: "1", EventTime: 0})
	w.handleTicker(ctx, &types.Ticker{Symbol: "BTCUSDT", LastPrice: "105", Volume: "2", EventTime: 60_000})
	w.handleTicker(ctx, &types.Ticker{Symbol: "BTCUSDT", LastPrice: "95", Volume: "1", EventTime: 120_000})

	if got := w.SeriesLen("BTCUSDT", types.Interval5m); got != 1 {
		t.Fatalf("SeriesLen = %d, want 1 (still within the first 5m bucket)", got)
	}

	series := w.Series("BTCUSDT", types.Interval5m)
	bar := series[0]
	if bar.Open != 100 {
		t.Errorf("Open = %v, want 100", bar.Open)
	}
	if bar.High != 105 {
		t.Errorf("High = %v, want 105", bar.High)
	}
	if bar.Low != 95 {
		t.Errorf("Low = %v, want 95", bar.Low)
	}
	if bar.Close != 95 {
		t.Errorf("Close = %v, want 95 (last trade)", bar.Close)
	}
	if bar.Volume != 4 {
		t.Errorf("Volume = %v, want 4 (cumulative)", bar.Volume)
	}
}

// TestHandleTickerAlignsEveryInterval checks one ticker update opens a bar
// in all four tracked intervals simultaneously, each aligned to its own
// bucket width.
func TestHandleTickerAlignsEveryInterval(t *testing.T) {
	w, _ := newTestWorker()
	w.handleTicker(context.Background(), &types.Ticker{Symbol: "BTCUSDT", LastPrice: "100", Volume: "1", EventTime: 12_345_678})

	for _, interval := range types.Intervals {
		series := w.Series("BTCUSDT", interval)
		if len(series) != 1 {
			t.Fatalf("interval %s: SeriesLen = %d, want 1", interval, len(series))
		}
		want := interval.AlignTimestamp(12_345_678)
		if series[0].StartTS != want {
			t.Errorf("interval %s: StartTS = %d, want %d", interval, series[0].StartTS, want)
		}
	}
}

// TestRolloverClosesBarAndStartsNewOne checks crossing a bucket boundary
// appends a fresh bar rather than mutating the closed one.
func TestRolloverClosesBarAndStartsNewOne(t *testing.T) {
	w, _ := newTestWorker()
	ctx := context.Background()

	w.handleTicker(ctx, &types.Ticker{Symbol: "BTCUSDT", LastPrice: "100", Volume: "1", EventTime: 0})
	w.handleTicker(ctx, &types.Ticker{Symbol: "BTCUSDT", LastPrice: "110", Volume: "1", EventTime: 300_000})

	series := w.Series("BTCUSDT", types.Interval5m)
	if len(series) != 2 {
		t.Fatalf("SeriesLen = %d, want 2 after crossing a bucket boundary", len(series))
	}
	if series[0].Close != 100 {
		t.Errorf("closed bar Close = %v, want 100 (unaffected by the next bucket's trade)", series[0].Close)
	}
	if series[1].Open != 110 {
		t.Errorf("new bar Open = %v, want 110", series[1].Open)
	}
}

// TestSeriesIsBoundedByMaxKlineCount checks a long-running symbol never
// grows its kline sequence past the configured cap.
func TestSeriesIsBoundedByMaxKlineCount(t *testing.T) {
	w, _ := newTestWorker() // maxKlineCount = 5
	ctx := context.Background()

	for i := int64(0); i < 20; i++ {
		w.handleTicker(ctx, &types.Ticker{Symbol: "BTCUSDT", LastPrice: "100", Volume: "1", EventTime: i * 300_000})
	}

	if got := w.SeriesLen("BTCUSDT", types.Interval5m); got != 5 {
		t.Fatalf("SeriesLen = %d, want 5 (capped)", got)
	}
}

// TestRolloverFansOutDetectorsWithPreAppendSnapshot checks a rollover that
// also satisfies the consecutive-move detector results in an event being
// pushed to the queue, built from the snapshot taken before the new bar
// was appended.
func TestRolloverFansOutDetectorsWithPreAppendSnapshot(t *testing.T) {
	w, cmdr := newTestWorker()
	ctx := context.Background()

	prices := []float64{100, 101, 102, 103}
	for i, p := range prices {
		lastPrice := strconv.FormatFloat(p, 'f', -1, 64)
		w.handleTicker(ctx, &types.Ticker{Symbol: "BTCUSDT", LastPrice: lastPrice, Volume: "1", EventTime: int64(i) * 300_000})
	}
	// One more tick in a new bucket triggers the rollover that snapshots
	// the four bars above and fans the detectors out.
	w.handleTicker(ctx, &types.Ticker{Symbol: "BTCUSDT", LastPrice: "104", Volume: "1", EventTime: int64(len(prices)) * 300_000})

	// The earlier rollover at 900_000 already emits over closes 100..102
	// (timestamp 600_000). The final rollover's event must carry the last
	// closed bar's StartTS and count only the four closed bars, not the
	// newly opened one.
	wantTS := int64(len(prices)-1) * 300_000
	deadline := time.After(2 * time.Second)
	for {
		select {
		case payload := <-cmdr.pushed:
			var ev types.Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				t.Fatalf("pushed payload is not an event: %v", err)
			}
			if ev.Timestamp != wantTS {
				continue
			}
			if ev.Value["count"] != float64(len(prices)) {
				t.Errorf("count = %v, want %d (pre-append snapshot)", ev.Value["count"], len(prices))
			}
			return
		case <-deadline:
			t.Fatal("expected a detector event to be pushed to the queue after the rollover")
		}
	}
}

// TestHandleMarkPriceEmitsOnFirstQualifyingUpdate checks a qualifying
// funding-rate update is pushed to the queue on the very first sighting
// of a symbol.
func TestHandleMarkPriceEmitsOnFirstQualifyingUpdate(t *testing.T) {
	w, cmdr := newTestWorker()

	w.handleMarkPrice(&types.MarkPrice{Symbol: "BTCUSDT", FundingRate: "0.0010", EventTime: 1000, NextFundingTime: 2000})

	select {
	case <-cmdr.pushed:
	case <-time.After(time.Second):
		t.Fatal("expected the first qualifying funding-rate update to push an event")
	}
}

// TestHandleMarkPriceDedupsRepeatedRate checks an unchanged funding rate
// arriving again shortly after does not push a second event.
func TestHandleMarkPriceDedupsRepeatedRate(t *testing.T) {
	w, cmdr := newTestWorker()

	w.handleMarkPrice(&types.MarkPrice{Symbol: "BTCUSDT", FundingRate: "0.0010", EventTime: 1000, NextFundingTime: 2000})
	<-cmdr.pushed

	w.handleMarkPrice(&types.MarkPrice{Symbol: "BTCUSDT", FundingRate: "0.0010", EventTime: 1500, NextFundingTime: 2000})

	select {
	case <-cmdr.pushed:
		t.Fatal("expected no second event for an unchanged funding rate")
	case <-time.After(200 * time.Millisecond):
	}
}
