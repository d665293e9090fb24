package client

import (
	"lite-rpc/codec"
	"lite-rpc/loadbalance"
	"lite-rpc/middleware"
	"lite-rpc/registry"
	"lite-rpc/transport"
	"time"

	"go.uber.org/zap"
)

type options struct {
	codec         codec.Codec
	addresses     []string
	registry      registry.Registry
	balancer      loadbalance.Balancer
	poolSize      int
	timeout       time.Duration // per attempt, 0 = only the caller's context
	dialTimeout   time.Duration
	logger        *zap.Logger
	middlewares   []middleware.Middleware
	transportOpts []transport.Option
}

func defaultOptions() options {
	return options{
		codec:       codec.GetCodec(codec.CodecTypeJSON),
		balancer:    &loadbalance.RoundRobinBalancer{},
		poolSize:    1,
		timeout:     5 * time.Second,
		dialTimeout: 3 * time.Second,
		logger:      zap.NewNop(),
	}
}

type Option func(*options)

// WithCodec sets the codec. It must match the server's.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

func WithCodecType(t codec.CodecType) Option {
	return func(o *options) { o.codec = codec.GetCodec(t) }
}

// WithAddress targets fixed server addresses instead of a registry.
func WithAddress(addrs ...string) Option {
	return func(o *options) { o.addresses = append(o.addresses, addrs...) }
}

// WithRegistry discovers servers by interface name.
func WithRegistry(reg registry.Registry) Option {
	return func(o *options) { o.registry = reg }
}

func WithBalancer(b loadbalance.Balancer) Option {
	return func(o *options) {
		if b != nil {
			o.balancer = b
		}
	}
}

// WithPoolSize sets the number of multiplexed connections kept per server.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithTimeout bounds every call attempt. The caller's context still applies.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMiddleware wraps every call, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transportOpts = append(o.transportOpts, opts...) }
}
