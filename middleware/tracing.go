package middleware

import (
	"context"
	"lite-rpc/message"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "lite-rpc"

// TracingMiddleware opens a span per call. A nil provider means the global one.
func TracingMiddleware(tp trace.TracerProvider, kind trace.SpanKind) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, span := tracer.Start(ctx, req.Interface+"/"+req.Method,
				trace.WithSpanKind(kind),
				trace.WithAttributes(
					attribute.String("rpc.system", tracerName),
					attribute.String("rpc.service", req.ServiceKey()),
					attribute.String("rpc.method", req.Signature()),
				))
			defer span.End()

			resp, err := next(ctx, req)
			if id := requestID(req, resp); id != 0 {
				span.SetAttributes(attribute.Int64("rpc.request_id", int64(id)))
			}
			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case resp != nil && resp.Failed():
				span.SetStatus(codes.Error, resp.Error)
			default:
				span.SetStatus(codes.Ok, "")
			}
			return resp, err
		}
	}
}
