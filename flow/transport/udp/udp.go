// Package udp implements the real Emitter/Listener pair of §6 over raw UDP
// datagrams for event payload transport, plus a companion websocket
// heartbeat connection used purely for node-to-node liveness (not payload
// transport — see the package doc in SPEC_FULL.md §6 for why a websocket
// library is the wrong fit for the datagram path itself).
package udp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/coachpo/flow/errs"
	"github.com/coachpo/flow/flow/observability"
)

const maxDatagramSize = 65507

// Emitter sends partitioned event payloads as UDP datagrams. The partition
// index is prefixed as a big-endian uint32 so the receiving Listener can
// recover it without an out-of-band side channel.
type Emitter struct {
	conn    *net.UDPConn
	limiter *rate.Limiter
}

// NewEmitter dials a UDP "connection" to addr (connected UDP sockets still
// accept only datagrams, but let us use Write instead of WriteTo). limiter
// may be nil to send unthrottled; non-nil, Send blocks to respect it before
// writing every datagram (there is no separate retry path).
func NewEmitter(addr string, limiter *rate.Limiter) (*Emitter, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr %q: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %q: %w", addr, err)
	}
	return &Emitter{conn: conn, limiter: limiter}, nil
}

// Send implements transport.Sender.
func (e *Emitter) Send(ctx context.Context, partition int, payload []byte) error {
	if len(payload) > maxDatagramSize-4 {
		return errs.New("transport/udp", errs.CodeTransport, errs.WithMessage("payload exceeds max datagram size"))
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return errs.New("transport/udp", errs.CodeTransport, errs.WithCause(err))
		}
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(partition))
	copy(frame[4:], payload)

	if dl, ok := ctx.Deadline(); ok {
		_ = e.conn.SetWriteDeadline(dl)
	}
	if _, err := e.conn.Write(frame); err != nil {
		return errs.New("transport/udp", errs.CodeTransport, errs.WithCause(err))
	}
	return nil
}

// Close releases the underlying socket.
func (e *Emitter) Close() error { return e.conn.Close() }

// Listener receives UDP datagrams framed by Emitter.
type Listener struct {
	conn *net.UDPConn
}

// NewListener binds a UDP socket on addr (e.g. ":9100").
func NewListener(addr string) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp addr %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %q: %w", addr, err)
	}
	return &Listener{conn: conn}, nil
}

// Recv implements transport.Receiver.
func (l *Listener) Recv(ctx context.Context) ([]byte, int, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = l.conn.SetReadDeadline(dl)
	}
	buf := make([]byte, maxDatagramSize)
	n, _, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, 0, errs.New("transport/udp", errs.CodeTransport, errs.WithCause(err))
	}
	if n < 4 {
		return nil, 0, errs.New("transport/udp", errs.CodeTransport, errs.WithMessage("short datagram"))
	}
	partition := int(binary.BigEndian.Uint32(buf[:4]))
	payload := append([]byte(nil), buf[4:n]...)
	return payload, partition, nil
}

// Close implements transport.Receiver.
func (l *Listener) Close() error { return l.conn.Close() }

// LocalAddr returns the address the listener is bound to, useful when addr
// was "host:0" and the OS picked an ephemeral port.
func (l *Listener) LocalAddr() string { return l.conn.LocalAddr().String() }

// Heartbeat maintains a reconnecting websocket control-plane connection used
// solely to signal node liveness to a peer, grounded in the teacher's
// exchange websocket managers' reconnect-loop idiom but carrying no event
// payloads.
type Heartbeat struct {
	url      string
	interval time.Duration
}

// NewHeartbeat constructs a Heartbeat that reconnects to url and sends a
// ping payload every interval.
func NewHeartbeat(url string, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Heartbeat{url: url, interval: interval}
}

// Run drives the reconnect loop until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	backoffCfg := backoff.NewExponentialBackOff()

	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.Dial(ctx, h.url, nil)
		if err != nil {
			observability.Log().Error("heartbeat dial failed", observability.Field{Key: "url", Value: h.url}, observability.Field{Key: "error", Value: err})
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = h.interval
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
				continue
			}
		}
		backoffCfg.Reset()
		h.pingLoop(ctx, conn)
	}
}

func (h *Heartbeat) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "heartbeat closing")
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
				observability.Log().Error("heartbeat write failed", observability.Field{Key: "error", Value: err})
				return
			}
		}
	}
}
