package server

import (
	"context"
	"errors"
	"fmt"
	"lite-rpc/message"
	"reflect"
	"sort"
	"sync/atomic"
	"unicode"
	"unicode/utf8"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

type methodType struct {
	name       string        // wire name, e.g. "hello"
	goName     string        // Go method name, e.g. "HelloBytes"
	fn         reflect.Value // method value bound to the receiver
	hasCtx     bool          // first parameter is a context.Context
	ArgTypes   []reflect.Type
	ParamTypes []string     // descriptors of ArgTypes
	ReplyType  reflect.Type // nil when the method only returns error
	numCalls   atomic.Uint64
}

func (m *methodType) key() string {
	return message.MethodKey(m.name, m.ParamTypes)
}

func (m *methodType) NumCalls() uint64 {
	return m.numCalls.Load()
}

// service is one registered (interface, version) binding.
type service struct {
	name    string
	version string
	iface   reflect.Type
	rcvr    reflect.Value
	method  map[string]*methodType // "hello(string)" → method
}

// newService 校验 iface/impl 并建立方法表
func newService(iface any, impl any, o *registerOptions) (*service, error) {
	typ := reflect.TypeOf(iface)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Interface {
		return nil, fmt.Errorf("rpc: iface must be a nil pointer to an interface, e.g. (*Service)(nil), got %T", iface)
	}
	it := typ.Elem()
	if impl == nil {
		return nil, errors.New("rpc: impl is nil")
	}
	rv := reflect.ValueOf(impl)
	if !rv.Type().Implements(it) {
		return nil, fmt.Errorf("rpc: %T does not implement %s", impl, it)
	}

	name := o.name
	if name == "" {
		name = it.Name()
	}
	if name == "" {
		return nil, errors.New("rpc: anonymous interface needs WithName")
	}

	s := &service{
		name:    name,
		version: o.version,
		iface:   it,
		rcvr:    rv,
		method:  make(map[string]*methodType),
	}
	if err := s.registerMethods(o.methodNames); err != nil {
		return nil, err
	}
	return s, nil
}

// registerMethods indexes every method of the interface by (wire name, descriptors).
func (s *service) registerMethods(wireNames map[string]string) error {
	for goName := range wireNames {
		if _, ok := s.iface.MethodByName(goName); !ok {
			return fmt.Errorf("rpc: %s has no method %s", s.iface, goName)
		}
	}

	for i := 0; i < s.iface.NumMethod(); i++ {
		m := s.iface.Method(i)
		if !m.IsExported() {
			return fmt.Errorf("rpc: %s.%s: unexported method", s.name, m.Name)
		}
		wire, ok := wireNames[m.Name]
		if !ok {
			wire = lowerFirst(m.Name)
		}
		mt, err := newMethodType(m, s.rcvr.MethodByName(m.Name), wire)
		if err != nil {
			return fmt.Errorf("rpc: %s.%s: %w", s.name, m.Name, err)
		}
		k := mt.key()
		if prev, ok := s.method[k]; ok {
			return fmt.Errorf("%w: %s.%s and %s.%s both resolve to %s", message.ErrAmbiguousMethod, s.name, prev.goName, s.name, m.Name, k)
		}
		s.method[k] = mt
	}
	return nil
}

func newMethodType(m reflect.Method, fn reflect.Value, wire string) (*methodType, error) {
	ft := m.Type
	if ft.IsVariadic() {
		return nil, errors.New("variadic methods are not supported")
	}
	if ft.NumOut() < 1 || ft.NumOut() > 2 || ft.Out(ft.NumOut()-1) != errorType {
		return nil, errors.New("method must return error or (T, error)")
	}

	mt := &methodType{
		name:   wire,
		goName: m.Name,
		fn:     fn,
	}
	start := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		mt.hasCtx = true
		start = 1
	}
	for i := start; i < ft.NumIn(); i++ {
		mt.ArgTypes = append(mt.ArgTypes, ft.In(i))
	}
	mt.ParamTypes = message.TypeDescriptors(mt.ArgTypes)
	if ft.NumOut() == 2 {
		mt.ReplyType = ft.Out(0)
	}
	return mt, nil
}

// lookupMethod resolves an overload by exact descriptor match.
func (s *service) lookupMethod(method string, paramTypes []string) (*methodType, error) {
	k := message.MethodKey(method, paramTypes)
	mt, ok := s.method[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", message.ErrMethodNotFound, message.ServiceKey(s.name, s.version), k)
	}
	return mt, nil
}

// call invokes the method. A panic in the implementation becomes an error.
func (s *service) call(ctx context.Context, mt *methodType, args []reflect.Value) (result reflect.Value, err error) {
	mt.numCalls.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s.%s: %v", s.name, mt.goName, r)
		}
	}()

	in := args
	if mt.hasCtx {
		in = append([]reflect.Value{reflect.ValueOf(ctx)}, args...)
	}
	out := mt.fn.Call(in)
	if errv := out[len(out)-1]; !errv.IsNil() {
		return reflect.Value{}, errv.Interface().(error)
	}
	if mt.ReplyType != nil {
		return out[0], nil
	}
	return reflect.Value{}, nil
}

// methods returns the method table sorted by key.
func (s *service) methods() []*methodType {
	out := make([]*methodType, 0, len(s.method))
	for _, mt := range s.method {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out
}

func lowerFirst(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[size:]
}
