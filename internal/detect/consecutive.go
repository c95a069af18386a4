package detect

import "github.com/xiangxn/perpx/internal/types"

// MinConsecutiveCount is the shortest run of same-direction closes that is
// worth emitting an event for.
const MinConsecutiveCount = 3

// maxConsecutiveWindow bounds how many of the most recent bars the walker
// will ever consider.
const maxConsecutiveWindow = 10

// ConsecutiveMove walks the tail of a closed kline sequence from newest to
// oldest, counting how many consecutive bars preserve the same close
// direction (non-decreasing or non-increasing; equality preserves a run).
// The count starts at 2 once the first comparison fixes a trend — both the
// newest bar and the one it was compared against are counted — then grows
// by one per further preserved comparison.
func ConsecutiveMove(symbol string, interval types.Interval, k []types.Kline, turnover string) *types.Event {
	n := len(k)
	if n < 3 {
		return nil
	}

	takeLen := n
	if takeLen > maxConsecutiveWindow {
		takeLen = maxConsecutiveWindow
	}
	if takeLen < 3 {
		takeLen = 3
	}
	slice := k[n-takeLen:]

	var trend int
	count := 1
	for i := len(slice) - 1; i > 0; i-- {
		newer := slice[i]
		older := slice[i-1]
		if count == 1 {
			if newer.Close >= older.Close {
				trend = 1
			} else {
				trend = -1
			}
			count = 2
			continue
		}
		if trend == 1 && newer.Close >= older.Close {
			count++
			continue
		}
		if trend == -1 && newer.Close <= older.Close {
			count++
			continue
		}
		break
	}

	if count < MinConsecutiveCount {
		return nil
	}

	return &types.Event{
		Symbol:    symbol,
		EventType: types.EventConsecutiveMove,
		Period:    interval.String(),
		Value: map[string]interface{}{
			"count":     count,
			"turnover":  turnover,
			"direction": trend,
		},
		Timestamp: k[n-1].StartTS,
	}
}
