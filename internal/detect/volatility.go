// Package detect implements the closed-bar detectors: volatility-spike and
// consecutive-move operate on an immutable kline snapshot; funding-rate
// evaluates one update against the per-symbol dedup state its caller keeps
// and passes in. All three either return one
// *types.Event or nil — they never error, matching the invariant that no
// detection-time fault may reach the worker's receive loop.
package detect

import (
	"github.com/xiangxn/perpx/internal/types"
)

// MinAmplitude is the absolute amplitude floor below which a spike is never
// reported, regardless of how it compares to history.
const MinAmplitude = 0.0001

// VolatilitySpikeMultiple is how many times the average of the three prior
// bars' amplitude the current bar's amplitude must exceed.
const VolatilitySpikeMultiple = 2.0

// VolatilitySpike inspects the sequence just after a bar closed (K's last
// element is the bar that just closed, not the newly-opened one) and
// returns an event when the closing bar's amplitude spiked relative to the
// three bars before it.
//
// history is deliberately K[n-4:n-1] — it excludes the just-closed current
// bar from the average it is compared against.
func VolatilitySpike(symbol string, interval types.Interval, k []types.Kline, turnover string) *types.Event {
	n := len(k)
	if n < 4 {
		return nil
	}

	history := k[n-4 : n-1]
	current := k[n-1]

	if current.Open == 0 {
		return nil
	}
	currentAmp := (current.High - current.Low) / current.Open

	sum := 0.0
	for _, h := range history {
		if h.Open == 0 {
			return nil
		}
		sum += (h.High - h.Low) / h.Open
	}
	avgPrevAmp := sum / float64(len(history))

	if !(currentAmp > MinAmplitude && currentAmp > VolatilitySpikeMultiple*avgPrevAmp) {
		return nil
	}

	direction := -1
	if current.Close > history[len(history)-1].Close {
		direction = 1
	}

	return &types.Event{
		Symbol:    symbol,
		EventType: types.EventVolatilitySpike,
		Period:    interval.String(),
		Value: map[string]interface{}{
			"amplitude":     currentAmp,
			"avg_amplitude": avgPrevAmp,
			"volume":        current.Volume,
			"turnover":      turnover,
			"direction":     direction,
		},
		Timestamp: current.StartTS,
	}
}
