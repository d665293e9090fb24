package transport

import (
	"context"
	"errors"
	"net"
	"testing"
)

func pipeDialer(t *testing.T, dials *int) DialFunc {
	return func(ctx context.Context, addr string) (*ClientTransport, error) {
		*dials++
		clientConn, serverConn := net.Pipe()
		t.Cleanup(func() { serverConn.Close() })
		return NewClientTransport(clientConn, jsonCodec), nil
	}
}

func TestPoolGrowsThenRoundRobins(t *testing.T) {
	dials := 0
	p := NewPool(2, pipeDialer(t, &dials))
	defer p.Close()

	a, _ := p.Get(context.Background(), "a")
	b, _ := p.Get(context.Background(), "a")
	if a == b || dials != 2 {
		t.Fatalf("expect 2 distinct transports, dials=%d", dials)
	}
	c, _ := p.Get(context.Background(), "a")
	d, _ := p.Get(context.Background(), "a")
	if dials != 2 || c == d {
		t.Fatalf("expect round robin over existing transports, dials=%d", dials)
	}
	if p.Len("a") != 2 {
		t.Fatalf("expect 2 transports, got %d", p.Len("a"))
	}
}

func TestPoolReplacesDeadTransport(t *testing.T) {
	dials := 0
	p := NewPool(1, pipeDialer(t, &dials))
	defer p.Close()

	a, _ := p.Get(context.Background(), "a")
	a.Close()
	b, err := p.Get(context.Background(), "a")
	if err != nil || b == a || b.IsClosed() {
		t.Fatalf("expect a fresh transport, got %v", err)
	}
	if dials != 2 {
		t.Fatalf("expect a redial, dials=%d", dials)
	}
}

func TestPoolDialFailure(t *testing.T) {
	boom := errors.New("refused")
	p := NewPool(2, func(ctx context.Context, addr string) (*ClientTransport, error) {
		return nil, boom
	})
	if _, err := p.Get(context.Background(), "a"); !errors.Is(err, boom) {
		t.Fatalf("expect dial error, got %v", err)
	}
}

func TestPoolRemoveAndClose(t *testing.T) {
	dials := 0
	p := NewPool(1, pipeDialer(t, &dials))

	a, _ := p.Get(context.Background(), "a")
	p.Remove("a")
	if !a.IsClosed() || p.Len("a") != 0 {
		t.Fatal("Remove should close the transports")
	}

	b, _ := p.Get(context.Background(), "b")
	p.Close()
	if !b.IsClosed() {
		t.Fatal("Close should close every transport")
	}
	if _, err := p.Get(context.Background(), "b"); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expect ErrPoolClosed, got %v", err)
	}
}
