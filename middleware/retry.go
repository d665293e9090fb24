package middleware

import (
	"context"
	"errors"
	"lite-rpc/message"
	"time"

	"go.uber.org/zap"
)

// retryable reports whether a failed call may be sent again. Only transport failures qualify:
// a remote error means the call reached the implementation.
func retryable(err error) bool {
	return errors.Is(err, message.ErrTimeout) || errors.Is(err, message.ErrConnectionClosed)
}

// RetryMiddleware retries transport failures with exponential backoff. It belongs on the
// client side.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			resp, err := next(ctx, req)
			for i := 0; i < maxRetries && err != nil && retryable(err); i++ {
				logger.Info("retrying rpc call",
					zap.Int("attempt", i+1),
					zap.String("method", req.Signature()),
					zap.Error(err))

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, err
				}
				resp, err = next(ctx, req)
			}
			return resp, err
		}
	}
}
