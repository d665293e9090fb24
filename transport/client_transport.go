// Package transport implements the client-side transport layer with multiplexing.
//
// ClientTransport enables multiple concurrent RPC calls over a single TCP connection.
// The key insight: each request gets a unique ID, and a background goroutine (recvLoop)
// continuously reads responses and routes them to the correct caller via the pending table.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Call(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2] ← response → goroutine-2 wakes up
//
// A call that times out only abandons its own slot; a late response for it is dropped.
// When the connection breaks, every pending call fails with ErrConnectionClosed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"lite-rpc/codec"
	"lite-rpc/message"
	"lite-rpc/protocol"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var errClosedByClient = errors.New("closed by client")

type options struct {
	maxFrameSize   uint32
	readBufferSize int
	keepAlive      time.Duration
	logger         *zap.Logger
}

type Option func(*options)

func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}

func WithReadBufferSize(n int) Option {
	return func(o *options) { o.readBufferSize = n }
}

// WithKeepAlive sets the TCP keep-alive period used by Dial.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) { o.keepAlive = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		maxFrameSize:   protocol.DefaultMaxFrameSize,
		readBufferSize: 32 * 1024,
		keepAlive:      30 * time.Second,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	frames  *protocol.FrameCodec // Encode is shared by callers; Feed/Decode belong to recvLoop
	nextID  atomic.Uint64
	pending *pendingTable
	sending sync.Mutex // Write lock: multiple goroutines share one conn, frames must not interleave
	logger  *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to addr and starts a transport on the connection.
func Dial(ctx context.Context, addr string, c codec.Codec, opts ...Option) (*ClientTransport, error) {
	o := buildOptions(opts)
	d := net.Dialer{KeepAlive: o.keepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClientTransport(conn, c, o), nil
}

// NewClientTransport creates a transport for the given connection and starts recvLoop, which
// reads responses and dispatches them to pending callers.
func NewClientTransport(conn net.Conn, c codec.Codec, opts ...Option) *ClientTransport {
	return newClientTransport(conn, c, buildOptions(opts))
}

func newClientTransport(conn net.Conn, c codec.Codec, o options) *ClientTransport {
	t := &ClientTransport{
		conn:    conn,
		frames:  protocol.NewFrameCodec(c, o.maxFrameSize),
		pending: newPendingTable(),
		logger:  o.logger.With(zap.Stringer("remote", conn.RemoteAddr())),
		closed:  make(chan struct{}),
	}
	go t.recvLoop(o.readBufferSize)
	return t
}

// Call assigns req a fresh ID, sends it and waits for the matching response.
//
// A done ctx abandons the call: ErrTimeout for an expired deadline, the context error
// otherwise. A broken connection yields ErrConnectionClosed. A response carrying an error
// is returned as-is; interpreting it is up to the caller.
func (t *ClientTransport) Call(ctx context.Context, req *message.Request) (*message.Response, error) {
	id := t.nextID.Add(1)
	req.ID = id

	// Register the slot BEFORE sending (avoid race with recvLoop)
	slot, err := t.pending.add(id)
	if err != nil {
		return nil, err
	}

	frame, err := t.frames.Encode(req)
	if err != nil {
		t.pending.remove(id)
		return nil, err
	}
	if err := t.write(frame); err != nil {
		t.pending.remove(id)
		t.closeWithError(err)
		return nil, fmt.Errorf("%w: %v", message.ErrConnectionClosed, err)
	}

	select {
	case r := <-slot:
		return r.resp, r.err
	case <-ctx.Done():
		if t.pending.remove(id) {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: request %d %s.%s", message.ErrTimeout, id, req.ServiceKey(), req.Signature())
			}
			return nil, ctx.Err()
		}
		// The response won the race and is already in the slot.
		r := <-slot
		return r.resp, r.err
	}
}

func (t *ClientTransport) write(frame []byte) error {
	t.sending.Lock()
	defer t.sending.Unlock()
	_, err := t.conn.Write(frame)
	return err
}

// recvLoop runs in a dedicated goroutine, continuously reading from the connection.
// Whatever arrives is fed to the frame decoder, and each complete response is routed by ID.
// Responses can arrive in any order.
func (t *ClientTransport) recvLoop(bufSize int) {
	buf := make([]byte, bufSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.frames.Feed(buf[:n])
			if derr := t.dispatch(); derr != nil {
				t.closeWithError(derr)
				return
			}
		}
		if err != nil {
			t.closeWithError(err)
			return
		}
	}
}

func (t *ClientTransport) dispatch() error {
	for {
		resp := new(message.Response)
		ok, err := t.frames.Decode(resp)
		if err != nil {
			var fe *protocol.FrameError
			if errors.As(err, &fe) {
				// Without an ID nobody can be told; the caller runs into its timeout.
				t.logger.Warn("discarding undecodable response", zap.Error(err))
				continue
			}
			return err
		}
		if !ok {
			return nil
		}
		if !t.pending.complete(resp.ID, resp) {
			t.logger.Debug("dropping response for unknown or abandoned request", zap.Uint64("id", resp.ID))
		}
	}
}

// closeWithError tears the connection down once and fails every pending call.
func (t *ClientTransport) closeWithError(cause error) {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
		if !errors.Is(cause, errClosedByClient) {
			t.logger.Info("connection closed", zap.Error(cause))
		}
		t.pending.failAll(fmt.Errorf("%w: %v", message.ErrConnectionClosed, cause))
	})
}

// Close closes the connection. Pending calls fail with ErrConnectionClosed.
func (t *ClientTransport) Close() error {
	t.closeWithError(errClosedByClient)
	return nil
}

// Done is closed once the transport is unusable.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.closed
}

func (t *ClientTransport) IsClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Pending returns the number of calls waiting for a response.
func (t *ClientTransport) Pending() int {
	return t.pending.len()
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}
