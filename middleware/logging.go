package middleware

import (
	"context"
	"lite-rpc/message"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every call with its duration. Failures are logged at a higher level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			fields := []zap.Field{
				zap.Uint64("id", requestID(req, resp)),
				zap.String("service", req.ServiceKey()),
				zap.String("method", req.Signature()),
				zap.Duration("duration", time.Since(start)),
			}
			switch {
			case err != nil:
				logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
			case resp != nil && resp.Failed():
				logger.Info("rpc call returned an error", append(fields, zap.String("error", resp.Error))...)
			default:
				logger.Debug("rpc call", fields...)
			}
			return resp, err
		}
	}
}
