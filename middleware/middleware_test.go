package middleware

import (
	"context"
	"errors"
	"lite-rpc/message"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return &message.Response{ID: req.ID, Result: []byte("ok")}, nil
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	time.Sleep(200 * time.Millisecond)
	return &message.Response{ID: req.ID, Result: []byte("ok")}, nil
}

func failingHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	return &message.Response{ID: req.ID, Error: "boom"}, nil
}

func newRequest() *message.Request {
	return &message.Request{ID: 1, Interface: "HelloService", Method: "hello", ParamTypes: []string{"string"}, Params: [][]byte{[]byte(`"x"`)}}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp, err := handler(context.Background(), newRequest())
	if err != nil || resp == nil {
		t.Fatalf("expect response, got %v %v", resp, err)
	}
	if string(resp.Result) != "ok" {
		t.Fatalf("expect result 'ok', got '%s'", string(resp.Result))
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expect 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["method"] != "hello(string)" || fields["service"] != "HelloService" {
		t.Fatalf("unexpected log fields %v", fields)
	}
}

func TestLoggingErrorResponse(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := LoggingMiddleware(zap.New(core))(failingHandler)
	handler(context.Background(), newRequest())

	if logs.FilterMessage("rpc call returned an error").Len() != 1 {
		t.Fatalf("expect the failure to be logged, got %v", logs.All())
	}
}

// assignID 模拟客户端传输层：请求 ID 在中间件链之下才分配
func assignID(ctx context.Context, req *message.Request) (*message.Response, error) {
	return &message.Response{ID: 7, Result: []byte("ok")}, nil
}

func TestLoggingAssignedID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	req := newRequest()
	req.ID = 0
	LoggingMiddleware(zap.New(core))(assignID)(context.Background(), req)

	if id := logs.All()[0].ContextMap()["id"]; id != uint64(7) {
		t.Fatalf("expect the assigned id 7 in the log, got %v", id)
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp, err := handler(context.Background(), newRequest())
	if err != nil || resp.Failed() {
		t.Fatalf("expect no error, got %v %+v", err, resp)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	start := time.Now()
	_, err := handler(context.Background(), newRequest())
	if !errors.Is(err, message.ErrTimeout) {
		t.Fatalf("expect ErrTimeout, got %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("timeout should not wait for the handler")
	}
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		if calls.Add(1) < 3 {
			return nil, message.ErrConnectionClosed
		}
		return &message.Response{ID: req.ID}, nil
	}

	handler := RetryMiddleware(3, time.Millisecond, nil)(flaky)
	if _, err := handler(context.Background(), newRequest()); err != nil {
		t.Fatalf("expect success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls.Load())
	}
}

func TestRetryNotRetryable(t *testing.T) {
	var calls atomic.Int32
	remote := func(ctx context.Context, req *message.Request) (*message.Response, error) {
		calls.Add(1)
		return nil, message.NewRemoteError("I/O error")
	}

	handler := RetryMiddleware(3, time.Millisecond, nil)(remote)
	if _, err := handler(context.Background(), newRequest()); !errors.Is(err, message.ErrRemoteInvocation) {
		t.Fatalf("expect remote error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("remote errors must not be retried, got %d attempts", calls.Load())
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	// 前 2 个应该通过（burst=2）
	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newRequest()); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	// 第 3 个应该被限流
	if _, err := handler(context.Background(), newRequest()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	ok := m.Middleware()(echoHandler)
	bad := m.Middleware()(failingHandler)
	ok(context.Background(), newRequest())
	ok(context.Background(), newRequest())
	bad(context.Background(), newRequest())

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	counts := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "test_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "outcome" {
					counts[l.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	if counts["ok"] != 2 || counts["error"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestTracing(t *testing.T) {
	handler := TracingMiddleware(noop.NewTracerProvider(), trace.SpanKindServer)(echoHandler)
	resp, err := handler(context.Background(), newRequest())
	if err != nil || string(resp.Result) != "ok" {
		t.Fatalf("tracing must pass the call through, got %v %v", resp, err)
	}

	failing := TracingMiddleware(nil, trace.SpanKindClient)(func(ctx context.Context, req *message.Request) (*message.Response, error) {
		return nil, message.ErrTimeout
	})
	if _, err := failing(context.Background(), newRequest()); !errors.Is(err, message.ErrTimeout) {
		t.Fatalf("expect the error to pass through, got %v", err)
	}
}

type recordingSpan struct {
	noop.Span
	attrs map[attribute.Key]attribute.Value
}

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

type recordingTracer struct {
	noop.Tracer
	attrs map[attribute.Key]attribute.Value
}

func (rt *recordingTracer) Start(ctx context.Context, _ string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	span := &recordingSpan{attrs: rt.attrs}
	span.SetAttributes(cfg.Attributes()...)
	return trace.ContextWithSpan(ctx, span), span
}

type recordingProvider struct {
	noop.TracerProvider
	tracer *recordingTracer
}

func (p recordingProvider) Tracer(string, ...trace.TracerOption) trace.Tracer { return p.tracer }

func TestTracingAssignedID(t *testing.T) {
	rt := &recordingTracer{attrs: map[attribute.Key]attribute.Value{}}
	req := newRequest()
	req.ID = 0
	TracingMiddleware(recordingProvider{tracer: rt}, trace.SpanKindClient)(assignID)(context.Background(), req)

	if v, ok := rt.attrs["rpc.request_id"]; !ok || v.AsInt64() != 7 {
		t.Fatalf("expect rpc.request_id 7, got %v (present=%v)", v.Emit(), ok)
	}
	if rt.attrs["rpc.method"].AsString() != "hello(string)" {
		t.Fatalf("unexpected attributes %v", rt.attrs)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) (*message.Response, error) {
				order = append(order, name+".before")
				resp, err := next(ctx, req)
				order = append(order, name+".after")
				return resp, err
			}
		}
	}

	// 用 Chain 组合 Logging + Timeout，验证请求能正常穿过
	chained := Chain(mark("A"), LoggingMiddleware(nil), TimeOutMiddleware(500*time.Millisecond), mark("B"))
	resp, err := chained(echoHandler)(context.Background(), newRequest())
	if err != nil || resp == nil {
		t.Fatalf("expect response, got %v %v", resp, err)
	}

	want := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(want) {
		t.Fatalf("expect %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expect %v, got %v", want, order)
		}
	}
}
