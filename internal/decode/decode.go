// Package decode turns raw websocket text frames into the tagged records
// the dispatcher forwards to workers. A malformed frame or an unknown
// stream name is dropped with a warning; it never aborts the pipeline.
package decode

import (
	"encoding/json"

	"github.com/xiangxn/perpx/internal/logging"
	"github.com/xiangxn/perpx/internal/metrics"
	"github.com/xiangxn/perpx/internal/types"
)

const (
	streamTicker    = "!ticker@arr"
	streamMarkPrice = "!markPrice@arr"
)

type frame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses one text frame and returns the records it carries. The
// returned slice contains either *types.Ticker or *types.MarkPrice values,
// never a mix, and is empty (not an error) for anything the decoder can't
// route.
func Decode(raw []byte, log *logging.Logger) []types.Message {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn("dropping malformed frame", "error", err)
		metrics.DispatchDropped.WithLabelValues("decode_drop").Inc()
		return nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(f.Data, &elements); err != nil {
		log.Warn("dropping frame with malformed data array", "stream", f.Stream, "error", err)
		metrics.DispatchDropped.WithLabelValues("decode_drop").Inc()
		return nil
	}

	switch f.Stream {
	case streamTicker:
		out := make([]types.Message, 0, len(elements))
		for _, raw := range elements {
			var t types.Ticker
			if err := json.Unmarshal(raw, &t); err != nil {
				log.Warn("dropping malformed ticker record", "error", err)
				metrics.DispatchDropped.WithLabelValues("decode_drop").Inc()
				continue
			}
			out = append(out, &t)
		}
		return out

	case streamMarkPrice:
		out := make([]types.Message, 0, len(elements))
		for _, raw := range elements {
			var m types.MarkPrice
			if err := json.Unmarshal(raw, &m); err != nil {
				log.Warn("dropping malformed mark-price record", "error", err)
				metrics.DispatchDropped.WithLabelValues("decode_drop").Inc()
				continue
			}
			out = append(out, &m)
		}
		return out

	default:
		log.Warn("dropping frame with unrecognized stream", "stream", f.Stream)
		metrics.DispatchDropped.WithLabelValues("decode_drop").Inc()
		return nil
	}
}
