// Package client implements the calling side: a Client owns the connections and the server
// discovery, and a Reference turns method calls on a remote interface into requests.
package client

import (
	"context"
	"errors"
	"lite-rpc/message"
	"lite-rpc/middleware"
	"lite-rpc/registry"
	"lite-rpc/transport"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrNoTarget = errors.New("rpc: client needs WithAddress or WithRegistry")
	ErrClosed   = errors.New("rpc: client closed")
)

type Client struct {
	opts    options
	pool    *transport.Pool
	handler middleware.HandlerFunc // middleware(...(invoke))
	logger  *zap.Logger

	mu        sync.Mutex
	instances map[string][]registry.ServiceInstance // interface → last known instances

	ctx    context.Context // cancelled by Close, ends registry watches
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewClient creates a client. Connections are opened on first use.
func NewClient(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.addresses) == 0 && o.registry == nil {
		return nil, ErrNoTarget
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:      o,
		logger:    o.logger,
		instances: make(map[string][]registry.ServiceInstance),
		ctx:       ctx,
		cancel:    cancel,
	}
	topts := append([]transport.Option{transport.WithLogger(o.logger)}, o.transportOpts...)
	c.pool = transport.NewPool(o.poolSize, func(ctx context.Context, addr string) (*transport.ClientTransport, error) {
		if o.dialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.dialTimeout)
			defer cancel()
		}
		return transport.Dial(ctx, addr, o.codec, topts...)
	})
	c.handler = middleware.Chain(o.middlewares...)(c.invoke)
	return c, nil
}

// Dial creates a client for a single server address.
func Dial(addr string, opts ...Option) (*Client, error) {
	return NewClient(append([]Option{WithAddress(addr)}, opts...)...)
}

// Reference returns a proxy for the given interface and version ("" = default).
func (c *Client) Reference(name, version string) *Reference {
	return &Reference{client: c, name: name, version: version}
}

// Do sends a prepared request through the middleware chain.
func (c *Client) Do(ctx context.Context, req *message.Request) (*message.Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.handler(ctx, req)
}

// invoke is the innermost handler: pick a server, get a connection, send.
func (c *Client) invoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	instances, err := c.resolve(ctx, req.Interface)
	if err != nil {
		return nil, err
	}
	inst, err := c.opts.balancer.Pick(req.Interface+"."+req.Method, instances)
	if err != nil {
		return nil, err
	}
	t, err := c.pool.Get(ctx, inst.Addr)
	if err != nil {
		return nil, err
	}

	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}
	return t.Call(ctx, req)
}

// resolve returns the candidate servers for an interface.
func (c *Client) resolve(ctx context.Context, name string) ([]registry.ServiceInstance, error) {
	if c.opts.registry == nil {
		out := make([]registry.ServiceInstance, len(c.opts.addresses))
		for i, addr := range c.opts.addresses {
			out[i] = registry.ServiceInstance{Addr: addr, Weight: 1}
		}
		return out, nil
	}

	c.mu.Lock()
	cached, ok := c.instances[name]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	instances, err := c.opts.registry.Discover(ctx, name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if _, ok := c.instances[name]; !ok {
		c.instances[name] = instances
		go c.watch(name)
	}
	c.mu.Unlock()
	return instances, nil
}

// watch keeps the cached instances of one interface current and drops connections to
// servers that left.
func (c *Client) watch(name string) {
	for instances := range c.opts.registry.Watch(c.ctx, name) {
		c.mu.Lock()
		c.instances[name] = instances
		live := make(map[string]bool)
		for _, list := range c.instances {
			for _, inst := range list {
				live[inst.Addr] = true
			}
		}
		c.mu.Unlock()

		for _, addr := range c.pool.Addrs() {
			if !live[addr] {
				c.logger.Info("server left, closing connections", zap.String("service", name), zap.String("addr", addr))
				c.pool.Remove(addr)
			}
		}
	}
}

// Close closes every connection. Pending calls fail with ErrConnectionClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	return c.pool.Close()
}
