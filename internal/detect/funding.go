package detect

import "github.com/xiangxn/perpx/internal/types"

// FundingThresholds bundles the three configured thresholds the
// funding-rate detector needs. FundingRateIntervalSecs is the minimum
// elapsed wall-clock time between two emissions for the same symbol.
type FundingThresholds struct {
	MinFundingRate          float64
	MinFundingRateChange    float64
	FundingRateIntervalSecs int64
}

// FundingRate evaluates one mark-price update against the symbol's prior
// emission state (nil if this is the first qualifying update seen for the
// symbol) and decides whether to emit and what the new state should be.
//
// The caller (the worker that owns this symbol's shard) is responsible for
// storing next back into its per-symbol map only when emit is true —
// mirroring the "on changed, overwrite entry" rule in the design.
func FundingRate(symbol, fundingRateStr string, fr float64, eventTime, nextFundingTime int64, prev *types.FundingRateLimit, th FundingThresholds) (event *types.Event, next types.FundingRateLimit, emit bool) {
	if absF(fr) <= th.MinFundingRate {
		return nil, types.FundingRateLimit{}, false
	}

	switch {
	case prev == nil:
		next = types.FundingRateLimit{Time: eventTime, Rate: fr}
		emit = true
	default:
		rateMoved := absF(fr-prev.Rate) > th.MinFundingRateChange
		enoughTimePassed := (eventTime-prev.Time) > th.FundingRateIntervalSecs*1000
		if rateMoved && enoughTimePassed {
			next = types.FundingRateLimit{Time: eventTime, Rate: fr}
			emit = true
		}
	}

	if !emit {
		return nil, types.FundingRateLimit{}, false
	}

	event = &types.Event{
		Symbol:    symbol,
		EventType: types.EventFundingRate,
		Period:    "",
		Value: map[string]interface{}{
			"funding_rate":      fundingRateStr,
			"next_funding_time": nextFundingTime,
		},
		Timestamp: eventTime,
	}
	return event, next, true
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
