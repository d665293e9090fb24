// Package middleware provides the onion-style handler chain shared by the server dispatcher
// and the client invoker.
//
// On the server, errors returned by a handler are turned into error responses carrying the
// request ID. On the client, they surface from the invocation as-is.
package middleware

import (
	"context"
	"lite-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// requestID is the ID a call went out with. On the client the transport assigns it below
// the middleware chain, so the response is consulted first.
func requestID(req *message.Request, resp *message.Response) uint64 {
	if resp != nil && resp.ID != 0 {
		return resp.ID
	}
	return req.ID
}
