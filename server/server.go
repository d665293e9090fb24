// Package server implements the RPC server with service registration, middleware chain,
// bounded parallel request processing, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads and reassembles frames)
//	  → for each request: workerPool.submit(handleRequest) (bounded parallelism)
//	    → Middleware Chain → businessHandler (reflect.Call) → Codec.Encode → write response
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"lite-rpc/message"
	"lite-rpc/middleware"
	"lite-rpc/protocol"
	"lite-rpc/registry"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrServerStarted = errors.New("rpc: server already started")
	ErrServerClosed  = errors.New("rpc: server closed")
)

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	opts        options
	services    *serviceMap             // Registered (interface, version) bindings
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	handler     middleware.HandlerFunc  // The final handler chain: middleware(middleware(...(businessHandler)))
	logger      *zap.Logger

	mu            sync.Mutex
	listener      net.Listener
	workers       *workerPool
	advertiseAddr string

	conns    sync.Map       // net.Conn → struct{}, live connections
	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	wgMu     sync.RWMutex   // Orders wg.Add before Shutdown's wg.Wait
	started  atomic.Bool    // Set by Serve; registration is closed from then on
	shutdown atomic.Bool    // Set to true during shutdown to suppress Accept errors
	ctx      context.Context
	cancel   context.CancelFunc

	decodeErrors atomic.Uint64
}

// NewServer creates a new RPC server with an empty service map.
func NewServer(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:     o,
		services: newServiceMap(),
		logger:   o.logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register binds impl as an implementation of the interface iface points to, e.g.
//
//	svr.Register((*HelloService)(nil), &helloImpl{}, server.WithVersion("v2"))
//
// Every method of the interface becomes callable. Registration must happen before Serve.
func (svr *Server) Register(iface any, impl any, opts ...RegisterOption) error {
	if svr.started.Load() {
		return ErrServerStarted
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	svc, err := newService(iface, impl, &o)
	if err != nil {
		return err
	}
	if err := svr.services.add(svc); err != nil {
		return err
	}
	svr.logger.Info("registered service",
		zap.String("service", message.ServiceKey(svc.name, svc.version)),
		zap.Int("methods", len(svc.method)))
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on the given address and serves until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener serves connections accepted from l until Shutdown. It returns nil after a
// graceful shutdown.
func (svr *Server) ServeListener(l net.Listener) error {
	if !svr.started.CompareAndSwap(false, true) {
		l.Close()
		return ErrServerStarted
	}
	// Build the middleware chain once at startup (not per-request)
	// Chain wraps middlewares in reverse order to create the onion model:
	//   Chain(A, B, C)(handler) → A(B(C(handler)))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	svr.listener = l
	svr.workers = newWorkerPool(svr.opts.workers, svr.opts.queueSize)
	svr.advertiseAddr = svr.opts.advertiseAddr
	if svr.advertiseAddr == "" {
		svr.advertiseAddr = l.Addr().String()
	}
	svr.mu.Unlock()

	svr.publish()
	svr.logger.Info("serving",
		zap.Stringer("addr", l.Addr()),
		zap.Stringer("codec", svr.opts.codec.Type()),
		zap.Int("workers", svr.opts.workers))

	for {
		conn, err := l.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			// Check the shutdown flag to distinguish intentional close from real errors.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// publish registers every interface name with the registry (if any).
func (svr *Server) publish() {
	reg := svr.opts.registry
	if reg == nil {
		return
	}
	instance := registry.ServiceInstance{
		Addr:   svr.advertiseAddr,
		Weight: svr.opts.weight,
		Codec:  svr.opts.codec.Type().String(),
	}
	for _, name := range svr.services.names() {
		ctx, cancel := context.WithTimeout(svr.ctx, 5*time.Second)
		err := reg.Register(ctx, name, instance, svr.opts.ttl)
		cancel()
		if err != nil {
			svr.logger.Error("publish to registry", zap.String("service", name), zap.Error(err))
		}
	}
}

func (svr *Server) unpublish() {
	reg := svr.opts.registry
	svr.mu.Lock()
	addr := svr.advertiseAddr
	svr.mu.Unlock()
	if reg == nil || addr == "" {
		return
	}
	for _, name := range svr.services.names() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := reg.Deregister(ctx, name, addr)
		cancel()
		if err != nil {
			svr.logger.Warn("deregister from registry", zap.String("service", name), zap.Error(err))
		}
	}
}

// handleConn processes a single TCP connection.
// It runs a read loop in a single goroutine that feeds whatever bytes arrive into the frame
// decoder, and submits every complete request to the worker pool.
//
// A per-connection write mutex (writeMu) is shared among all request jobs on this connection.
// This prevents frame interleaving when several workers write responses concurrently.
func (svr *Server) handleConn(conn net.Conn) {
	svr.conns.Store(conn, struct{}{})
	inflight := &sync.WaitGroup{}
	defer func() {
		// let queued responses on this connection go out before closing it
		waitOrDone(inflight, svr.ctx.Done())
		svr.conns.Delete(conn)
		conn.Close()
	}()

	frames := protocol.NewFrameCodec(svr.opts.codec, svr.opts.maxFrameSize)
	writeMu := &sync.Mutex{}
	buf := make([]byte, svr.opts.readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames.Feed(buf[:n])
			if !svr.dispatchFrames(conn, frames, writeMu, inflight) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !svr.shutdown.Load() {
				svr.logger.Debug("connection read failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}
	}
}

// dispatchFrames submits every complete buffered request. It returns false when the
// connection has to be dropped.
func (svr *Server) dispatchFrames(conn net.Conn, frames *protocol.FrameCodec, writeMu *sync.Mutex, inflight *sync.WaitGroup) bool {
	for {
		req := new(message.Request)
		ok, err := frames.Decode(req)
		if err != nil {
			var fe *protocol.FrameError
			if errors.As(err, &fe) {
				// The frame is consumed and there is no trustworthy ID to answer with.
				svr.decodeErrors.Add(1)
				svr.logger.Warn("discarding undecodable request", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
				continue
			}
			svr.logger.Warn("closing connection", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			return false
		}
		if !ok {
			return true
		}

		if !svr.track() {
			svr.logger.Debug("server shutting down, dropping request", zap.Uint64("id", req.ID))
			return false
		}
		inflight.Add(1)
		submitted := svr.workers.submit(func() {
			defer svr.wg.Done()
			defer inflight.Done()
			svr.handleRequest(conn, frames, writeMu, req)
		})
		if !submitted {
			svr.wg.Done()
			inflight.Done()
			return false
		}
	}
}

// track counts one more in-flight request, or reports false once Shutdown has begun.
func (svr *Server) track() bool {
	svr.wgMu.RLock()
	defer svr.wgMu.RUnlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

// handleRequest processes a single RPC request: middleware → business logic → encode → write.
func (svr *Server) handleRequest(conn net.Conn, frames *protocol.FrameCodec, writeMu *sync.Mutex, req *message.Request) {
	resp, err := svr.handler(svr.ctx, req)
	if err != nil {
		resp = message.ErrorResponse(req.ID, err)
	} else if resp == nil {
		resp = &message.Response{}
	}
	// Preserve the request ID so the client can match it
	resp.ID = req.ID

	frame, err := frames.Encode(resp)
	if err != nil {
		svr.logger.Error("encode response", zap.Uint64("id", req.ID), zap.Error(err))
		if frame, err = frames.Encode(message.ErrorResponse(req.ID, err)); err != nil {
			return
		}
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		svr.logger.Debug("write response", zap.Uint64("id", req.ID), zap.Error(err))
	}
}

// DecodeErrors returns the number of request frames dropped because they could not be decoded.
func (svr *Server) DecodeErrors() uint64 {
	return svr.decodeErrors.Load()
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener and stop reading from open connections
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close the remaining connections and stop the workers
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.shutdown.Swap(true) {
		return nil
	}
	svr.unpublish()

	svr.mu.Lock()
	l, workers := svr.listener, svr.workers
	svr.mu.Unlock()
	if l != nil {
		l.Close()
	}

	svr.conns.Range(func(k, _ any) bool {
		if cr, ok := k.(interface{ CloseRead() error }); ok {
			cr.CloseRead()
		}
		return true
	})

	// Every track call that missed the shutdown flag has finished its Add after this.
	svr.wgMu.Lock()
	svr.wgMu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.cancel()
	svr.conns.Range(func(k, _ any) bool {
		k.(net.Conn).Close()
		return true
	})
	if workers != nil {
		if err == nil {
			workers.stop()
		} else {
			// a stuck handler must not hold up shutdown
			go workers.stop()
		}
	}
	return err
}

func waitOrDone(wg *sync.WaitGroup, done <-chan struct{}) {
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-done:
	}
}
