package middleware

import (
	"context"
	"fmt"
	"lite-rpc/message"
	"time"
)

// TimeOutMiddleware bounds the time spent in next. The handler keeps running after the
// deadline, but its context is cancelled and its result is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resp *message.Response
				err  error
			}
			done := make(chan result, 1)
			go func() {
				resp, err := next(ctx, req)
				done <- result{resp, err}
			}()

			select {
			case r := <-done:
				return r.resp, r.err
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s after %s", message.ErrTimeout, req.Signature(), timeout)
			}
		}
	}
}
