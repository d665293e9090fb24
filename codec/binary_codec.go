package codec

import (
	"bytes"
	"errors"
	"fmt"
	"lite-rpc/message"
	"reflect"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	DefaultPoolSize      = 16
	DefaultBorrowTimeout = time.Second
	maxDepth             = 64
)

// Field numbers of the envelope schemas.
const (
	reqID         protowire.Number = 1
	reqInterface  protowire.Number = 2
	reqVersion    protowire.Number = 3
	reqMethod     protowire.Number = 4
	reqParamTypes protowire.Number = 5
	reqParams     protowire.Number = 6

	respID     protowire.Number = 1
	respResult protowire.Number = 2
	respError  protowire.Number = 3
)

// BinaryCodec encodes values in the protobuf wire format.
//
// Request and Response have fixed schemas. Application values are encoded by shape: scalars as
// varints/fixed ints, strings and byte slices raw, pointers with a presence byte, slices and maps as
// a count followed by length-delimited elements, and structs as length-delimited fields numbered
// by field index + 1. Structs must be registered first; proto.Message values use proto.Marshal.
type BinaryCodec struct {
	mu     sync.RWMutex
	shapes map[reflect.Type][]int // struct type → exported field indexes
	pool   *Pool[*binaryState]
}

// binaryState is the per-operation encoder/decoder state handed out by the pool.
type binaryState struct {
	codec *BinaryCodec
	buf   []byte
	depth int
}

type binaryOptions struct {
	poolSize      int
	borrowTimeout time.Duration
}

type BinaryOption func(*binaryOptions)

// WithPoolSize sets the number of pooled encoder states.
func WithPoolSize(n int) BinaryOption {
	return func(o *binaryOptions) { o.poolSize = n }
}

// WithBorrowTimeout bounds how long an operation waits for a pooled state.
func WithBorrowTimeout(d time.Duration) BinaryOption {
	return func(o *binaryOptions) { o.borrowTimeout = d }
}

func NewBinaryCodec(opts ...BinaryOption) *BinaryCodec {
	o := binaryOptions{
		poolSize:      DefaultPoolSize,
		borrowTimeout: DefaultBorrowTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	c := &BinaryCodec{
		shapes: make(map[reflect.Type][]int),
	}
	c.pool = NewPool(o.poolSize, o.borrowTimeout, func() *binaryState {
		return &binaryState{codec: c, buf: make([]byte, 0, 512)}
	})
	return c
}

// Register records the struct shapes of samples (and every struct reachable from their fields).
func (c *BinaryCodec) Register(samples ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range samples {
		t := reflect.TypeOf(s)
		for t != nil && t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if t == nil || t.Kind() != reflect.Struct {
			return fmt.Errorf("codec: register %T: not a struct", s)
		}
		c.register(t)
	}
	return nil
}

func (c *BinaryCodec) register(t reflect.Type) {
	for {
		switch t.Kind() {
		case reflect.Ptr, reflect.Slice, reflect.Array:
			t = t.Elem()
			continue
		case reflect.Map:
			c.register(t.Key())
			t = t.Elem()
			continue
		}
		break
	}
	if t.Kind() != reflect.Struct || isProtoMessage(reflect.PointerTo(t)) {
		return
	}
	if _, ok := c.shapes[t]; ok {
		return
	}
	fields := make([]int, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			fields = append(fields, i)
		}
	}
	c.shapes[t] = fields
	for _, i := range fields {
		c.register(t.Field(i).Type)
	}
}

func (c *BinaryCodec) shape(t reflect.Type) ([]int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fields, ok := c.shapes[t]
	return fields, ok
}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	st, err := c.pool.Borrow()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", message.ErrSerialization, err)
	}
	defer c.pool.Release(st)
	st.buf = st.buf[:0]
	st.depth = 0

	switch m := v.(type) {
	case *message.Request:
		st.buf = appendRequest(st.buf, m)
	case message.Request:
		st.buf = appendRequest(st.buf, &m)
	case *message.Response:
		st.buf = appendResponse(st.buf, m)
	case message.Response:
		st.buf = appendResponse(st.buf, &m)
	default:
		if v == nil {
			return nil, fmt.Errorf("%w: binary: cannot encode untyped nil", message.ErrSerialization)
		}
		out, err := st.appendValue(st.buf, reflect.ValueOf(v))
		if err != nil {
			return nil, fmt.Errorf("%w: binary: %v", message.ErrSerialization, err)
		}
		st.buf = out
	}
	return bytes.Clone(st.buf), nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	st, err := c.pool.Borrow()
	if err != nil {
		return fmt.Errorf("%w: %w", message.ErrSerialization, err)
	}
	defer c.pool.Release(st)
	st.depth = 0

	switch m := v.(type) {
	case *message.Request:
		err = consumeRequest(data, m)
	case *message.Response:
		err = consumeResponse(data, m)
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Ptr || rv.IsNil() {
			return fmt.Errorf("%w: binary: decode target must be a non-nil pointer, got %T", message.ErrSerialization, v)
		}
		err = st.decodeValue(data, rv.Elem())
	}
	if err != nil {
		return fmt.Errorf("%w: binary: %v", message.ErrSerialization, err)
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func appendRequest(b []byte, m *message.Request) []byte {
	b = protowire.AppendTag(b, reqID, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ID)
	b = appendStringField(b, reqInterface, m.Interface)
	b = appendStringField(b, reqVersion, m.Version)
	b = appendStringField(b, reqMethod, m.Method)
	for _, t := range m.ParamTypes {
		b = protowire.AppendTag(b, reqParamTypes, protowire.BytesType)
		b = protowire.AppendString(b, t)
	}
	for _, p := range m.Params {
		b = protowire.AppendTag(b, reqParams, protowire.BytesType)
		b = protowire.AppendBytes(b, p)
	}
	return b
}

func appendResponse(b []byte, m *message.Response) []byte {
	b = protowire.AppendTag(b, respID, protowire.VarintType)
	b = protowire.AppendVarint(b, m.ID)
	// nil and empty results are different: only a nil result is absent.
	if m.Result != nil {
		b = protowire.AppendTag(b, respResult, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Result)
	}
	return appendStringField(b, respError, m.Error)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// walkFields calls fn for every field of an encoded message. Fields fn does not consume are skipped.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]
		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, data)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		data = data[m:]
	}
	return nil
}

func consumeRequest(data []byte, m *message.Request) error {
	*m = message.Request{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == reqID && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.ID = v
			return n, nil
		}
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case reqInterface:
			m.Interface = string(v)
		case reqVersion:
			m.Version = string(v)
		case reqMethod:
			m.Method = string(v)
		case reqParamTypes:
			m.ParamTypes = append(m.ParamTypes, string(v))
		case reqParams:
			m.Params = append(m.Params, bytes.Clone(v))
		}
		return n, nil
	})
}

func consumeResponse(data []byte, m *message.Response) error {
	*m = message.Response{}
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == respID && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.ID = v
			return n, nil
		}
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case respResult:
			m.Result = append([]byte{}, v...)
		case respError:
			m.Error = string(v)
		}
		return n, nil
	})
}

var errTooDeep = errors.New("value nested too deep")
