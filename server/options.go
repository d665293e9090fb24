package server

import (
	"lite-rpc/codec"
	"lite-rpc/protocol"
	"lite-rpc/registry"
	"runtime"

	"go.uber.org/zap"
)

type options struct {
	codec          codec.Codec
	workers        int
	queueSize      int
	maxFrameSize   uint32
	readBufferSize int
	logger         *zap.Logger
	registry       registry.Registry
	advertiseAddr  string // Address published to the registry, e.g. "127.0.0.1:8080"
	weight         int
	ttl            int64
}

func defaultOptions() options {
	return options{
		codec:          codec.GetCodec(codec.CodecTypeJSON),
		workers:        runtime.GOMAXPROCS(0) * 4,
		queueSize:      1024,
		maxFrameSize:   protocol.DefaultMaxFrameSize,
		readBufferSize: 32 * 1024,
		logger:         zap.NewNop(),
		weight:         1,
		ttl:            10,
	}
}

type Option func(*options)

// WithCodec sets the codec used for every connection. Client and server must agree on it.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

func WithCodecType(t codec.CodecType) Option {
	return func(o *options) { o.codec = codec.GetCodec(t) }
}

// WithWorkers bounds the number of requests handled concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

func WithQueueSize(n int) Option {
	return func(o *options) { o.queueSize = n }
}

func WithMaxFrameSize(n uint32) Option {
	return func(o *options) { o.maxFrameSize = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistry publishes every registered interface under advertiseAddr while serving.
// advertiseAddr differs from the listen address because ":8080" is not routable;
// "" means the listener's address.
func WithRegistry(reg registry.Registry, advertiseAddr string, ttl int64) Option {
	return func(o *options) {
		o.registry = reg
		o.advertiseAddr = advertiseAddr
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithWeight(w int) Option {
	return func(o *options) { o.weight = w }
}

type registerOptions struct {
	name        string
	version     string
	methodNames map[string]string // Go method → wire name
}

type RegisterOption func(*registerOptions)

// WithName overrides the interface name, which defaults to the Go interface's name.
func WithName(name string) RegisterOption {
	return func(o *registerOptions) { o.name = name }
}

// WithVersion registers the implementation under a version key. Without it the
// implementation is the default version.
func WithVersion(version string) RegisterOption {
	return func(o *registerOptions) { o.version = version }
}

// WithMethodName exposes goMethod under wireName. Several Go methods may share a wire name
// as long as their parameter types differ; they become overloads of that name.
func WithMethodName(goMethod, wireName string) RegisterOption {
	return func(o *registerOptions) {
		if o.methodNames == nil {
			o.methodNames = make(map[string]string)
		}
		o.methodNames[goMethod] = wireName
	}
}
