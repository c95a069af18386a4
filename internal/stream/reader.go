// Package stream dials the exchange's combined market-data websocket and
// feeds raw frames into the decode/ingest pipeline. It follows the
// teacher's internal/binance/user_data_stream.go connect-loop/read-loop
// shape: the first dial is synchronous so the caller can fail startup
// fast, every dial after that retries forever with a backoff.
package stream

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/xiangxn/perpx/internal/decode"
	"github.com/xiangxn/perpx/internal/ingest"
	"github.com/xiangxn/perpx/internal/logging"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Reader owns one websocket connection to the exchange's combined stream
// and hands every decoded record to a Dispatcher.
type Reader struct {
	url        string
	proxyAddr  string
	dispatcher *ingest.Dispatcher
	log        *logging.Logger
}

// New builds a Reader for url (the exchange's combined-stream endpoint,
// already carrying the !ticker@arr and !markPrice@arr stream names). If
// proxyAddr is non-empty, the websocket dial is routed through it as a
// SOCKS5 proxy.
func New(url, proxyAddr string, dispatcher *ingest.Dispatcher) *Reader {
	return &Reader{
		url:        url,
		proxyAddr:  proxyAddr,
		dispatcher: dispatcher,
		log:        logging.StreamContext(url),
	}
}

// Run dials the stream and blocks, reconnecting on every read failure,
// until ctx is cancelled. The very first dial is not retried here: the
// caller decides whether an initial connection failure is fatal.
func (r *Reader) Run(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("stream: initial connect to %s: %w", r.url, err)
	}

	backoff := initialBackoff
	for {
		r.log.Info("connected")
		backoff = initialBackoff
		r.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}

		r.log.Warn("connection lost, reconnecting", "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}

		conn, err = r.dial(ctx)
		for err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("reconnect failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = nextBackoff(backoff)
			conn, err = r.dial(ctx)
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// dial opens one websocket connection, routing through the configured
// SOCKS5 proxy when set.
func (r *Reader) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	if r.proxyAddr != "" {
		socksDialer, err := proxy.SOCKS5("tcp", r.proxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("build socks5 dialer: %w", err)
		}
		dialer = &websocket.Dialer{
			NetDial: func(network, addr string) (net.Conn, error) {
				return socksDialer.Dial(network, addr)
			},
			HandshakeTimeout: 10 * time.Second,
		}
	}

	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	return conn, err
}

// readLoop reads frames off conn until it errors or closes, decoding and
// dispatching each one. It never itself decides to reconnect; it just
// returns and lets Run handle backoff. Cancelling ctx closes conn, which
// unblocks the pending read.
func (r *Reader) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.log.Info("connection closed normally")
			} else {
				r.log.Warn("read error", "error", err)
			}
			return
		}

		records := decode.Decode(message, r.log)
		r.dispatcher.DispatchAll(records)
	}
}
