// Package registry publishes server addresses and lets clients discover them.
//
// Instances are grouped by interface name only. Versions are resolved by the server that
// receives the call, never by the registry.
package registry

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("registry: closed")

type ServiceInstance struct {
	Addr   string `json:"addr"`
	Weight int    `json:"weight"` // Weight for load balancing
	Codec  string `json:"codec,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
