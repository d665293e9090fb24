package server

import (
	"context"
	"fmt"
	"lite-rpc/message"
	"reflect"
)

// businessHandler is the core handler that dispatches RPC requests to registered services.
// It is wrapped by the middleware chain and has the HandlerFunc signature.
//
// Flow: find service by (interface, version) → find overload by (method, descriptors) →
// codec.Decode each param into reflect.New(argType) → reflect.Call → codec.Encode result.
//
// Every failure becomes an error Response with the request's ID; the returned error is always nil
// so a bad request can never take the connection down.
func (svr *Server) businessHandler(ctx context.Context, req *message.Request) (*message.Response, error) {
	if err := req.Validate(); err != nil {
		return message.ErrorResponse(req.ID, err), nil
	}

	svc, err := svr.services.lookup(req.Interface, req.Version)
	if err != nil {
		return message.ErrorResponse(req.ID, err), nil
	}
	mt, err := svc.lookupMethod(req.Method, req.ParamTypes)
	if err != nil {
		return message.ErrorResponse(req.ID, err), nil
	}

	args := make([]reflect.Value, len(mt.ArgTypes))
	for i, t := range mt.ArgTypes {
		argv := reflect.New(t)
		if err := svr.opts.codec.Decode(req.Params[i], argv.Interface()); err != nil {
			return message.ErrorResponse(req.ID, fmt.Errorf("%w (argument %d of %s)", err, i, req.Signature())), nil
		}
		args[i] = argv.Elem()
	}

	result, err := svc.call(ctx, mt, args)
	if err != nil {
		return message.ErrorResponse(req.ID, err), nil
	}

	resp := &message.Response{ID: req.ID}
	// A nil interface reply carries no value; it is sent as an absent result.
	if mt.ReplyType != nil && !(mt.ReplyType.Kind() == reflect.Interface && result.IsNil()) {
		data, err := svr.opts.codec.Encode(result.Interface())
		if err != nil {
			return message.ErrorResponse(req.ID, fmt.Errorf("%w (result of %s)", err, req.Signature())), nil
		}
		resp.Result = data
	}
	return resp, nil
}
