package client

import (
	"context"
	"errors"
	"fmt"
	"lite-rpc/message"
	"reflect"
	"unicode"
	"unicode/utf8"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Reference is a proxy for one (interface, version) pair. It is safe for concurrent use.
type Reference struct {
	client  *Client
	name    string
	version string
}

func (r *Reference) Name() string    { return r.name }
func (r *Reference) Version() string { return r.version }

// Invoke calls method with args and decodes the result into reply (nil to discard it).
// The overload is selected by the dynamic types of args; use Call when a declared type
// differs, e.g. for nil values or interface-typed parameters.
func (r *Reference) Invoke(ctx context.Context, method string, reply any, args ...any) error {
	types := make([]string, len(args))
	for i, a := range args {
		if a == nil {
			return fmt.Errorf("rpc: argument %d of %s is an untyped nil, use Call", i, method)
		}
		types[i] = message.TypeDescriptor(reflect.TypeOf(a))
	}
	return r.Call(ctx, method, types, reply, args...)
}

// Call invokes the overload of method declared with paramTypes.
//
// A server-side failure is returned as *message.RemoteError, which matches
// message.ErrRemoteInvocation and, for dispatch failures, the matching sentinel.
func (r *Reference) Call(ctx context.Context, method string, paramTypes []string, reply any, args ...any) error {
	if len(paramTypes) != len(args) {
		return fmt.Errorf("%w: %d parameter types for %d arguments", message.ErrProtocol, len(paramTypes), len(args))
	}
	cdc := r.client.opts.codec
	req := &message.Request{
		Interface:  r.name,
		Version:    r.version,
		Method:     method,
		ParamTypes: paramTypes,
		Params:     make([][]byte, len(args)),
	}
	for i, a := range args {
		data, err := cdc.Encode(a)
		if err != nil {
			return fmt.Errorf("%w (argument %d of %s)", err, i, req.Signature())
		}
		req.Params[i] = data
	}

	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.Failed() {
		return message.NewRemoteError(resp.Error)
	}
	if reply != nil && resp.Result != nil {
		return cdc.Decode(resp.Result, reply)
	}
	return nil
}

// Bind fills the func fields of the struct stub points to with remote calls, e.g.
//
//	type HelloStub struct {
//		Hello       func(ctx context.Context, name string) (string, error)
//		HelloPerson func(ctx context.Context, p Person) (string, error) `rpc:"hello"`
//	}
//
// The wire name is the tag, or the field name with a lowercase first letter; `rpc:"-"`
// skips a field. A leading context.Context is optional and not sent. Descriptors come
// from the declared parameter types, so overloads resolve statically.
func (r *Reference) Bind(stub any) error {
	v := reflect.ValueOf(stub)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("rpc: Bind needs a pointer to a struct, got %T", stub)
	}
	sv := v.Elem()
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if f.Type.Kind() != reflect.Func || !f.IsExported() {
			continue
		}
		name := f.Tag.Get("rpc")
		if name == "-" {
			continue
		}
		if name == "" {
			name = lowerFirst(f.Name)
		}
		fn, err := r.makeFunc(name, f.Type)
		if err != nil {
			return fmt.Errorf("rpc: stub field %s: %w", f.Name, err)
		}
		sv.Field(i).Set(fn)
	}
	return nil
}

func (r *Reference) makeFunc(method string, ft reflect.Type) (reflect.Value, error) {
	if ft.IsVariadic() {
		return reflect.Value{}, errors.New("variadic functions are not supported")
	}
	if ft.NumOut() < 1 || ft.NumOut() > 2 || ft.Out(ft.NumOut()-1) != errorType {
		return reflect.Value{}, errors.New("function must return error or (T, error)")
	}

	hasCtx := ft.NumIn() > 0 && ft.In(0) == contextType
	start := 0
	if hasCtx {
		start = 1
	}
	argTypes := make([]reflect.Type, 0, ft.NumIn()-start)
	for i := start; i < ft.NumIn(); i++ {
		argTypes = append(argTypes, ft.In(i))
	}
	types := message.TypeDescriptors(argTypes)
	var replyType reflect.Type
	if ft.NumOut() == 2 {
		replyType = ft.Out(0)
	}

	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if hasCtx {
			if c, ok := in[0].Interface().(context.Context); ok && c != nil {
				ctx = c
			}
			in = in[1:]
		}
		args := make([]any, len(in))
		for i, a := range in {
			args[i] = a.Interface()
		}

		var reply any
		var replyPtr reflect.Value
		if replyType != nil {
			replyPtr = reflect.New(replyType)
			reply = replyPtr.Interface()
		}

		err := r.Call(ctx, method, types, reply, args...)
		errv := reflect.Zero(errorType)
		if err != nil {
			errv = reflect.ValueOf(&err).Elem()
		}
		if replyType == nil {
			return []reflect.Value{errv}
		}
		if err != nil {
			return []reflect.Value{reflect.Zero(replyType), errv}
		}
		return []reflect.Value{replyPtr.Elem(), errv}
	}), nil
}

func lowerFirst(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}
