package codec

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

var protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()

func isProtoMessage(t reflect.Type) bool {
	return t.Kind() == reflect.Ptr && t.Implements(protoMessageType)
}

func (st *binaryState) appendValue(b []byte, v reflect.Value) ([]byte, error) {
	st.depth++
	defer func() { st.depth-- }()
	if st.depth > maxDepth {
		return nil, errTooDeep
	}

	if isProtoMessage(v.Type()) {
		if v.IsNil() {
			return append(b, 0), nil
		}
		b = append(b, 1)
		return proto.MarshalOptions{}.MarshalAppend(b, v.Interface().(proto.Message))
	}

	switch v.Kind() {
	case reflect.Bool:
		return protowire.AppendVarint(b, protowire.EncodeBool(v.Bool())), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return protowire.AppendVarint(b, protowire.EncodeZigZag(v.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return protowire.AppendVarint(b, v.Uint()), nil
	case reflect.Float32:
		return protowire.AppendFixed32(b, math.Float32bits(float32(v.Float()))), nil
	case reflect.Float64:
		return protowire.AppendFixed64(b, math.Float64bits(v.Float())), nil
	case reflect.String:
		return append(b, v.String()...), nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return append(b, v.Bytes()...), nil
		}
		return st.appendList(b, v)
	case reflect.Array:
		return st.appendList(b, v)
	case reflect.Map:
		b = protowire.AppendVarint(b, uint64(v.Len()))
		iter := v.MapRange()
		for iter.Next() {
			var err error
			if b, err = st.appendElem(b, iter.Key()); err != nil {
				return nil, err
			}
			if b, err = st.appendElem(b, iter.Value()); err != nil {
				return nil, err
			}
		}
		return b, nil
	case reflect.Ptr:
		if v.IsNil() {
			return append(b, 0), nil
		}
		return st.appendValue(append(b, 1), v.Elem())
	case reflect.Struct:
		fields, ok := st.codec.shape(v.Type())
		if !ok {
			return nil, fmt.Errorf("type %s is not registered", v.Type())
		}
		for _, i := range fields {
			fb, err := st.appendValue(nil, v.Field(i))
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", v.Type(), v.Type().Field(i).Name, err)
			}
			b = protowire.AppendTag(b, protowire.Number(i+1), protowire.BytesType)
			b = protowire.AppendBytes(b, fb)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported kind %s (%s)", v.Kind(), v.Type())
}

func (st *binaryState) appendList(b []byte, v reflect.Value) ([]byte, error) {
	b = protowire.AppendVarint(b, uint64(v.Len()))
	for i := 0; i < v.Len(); i++ {
		var err error
		if b, err = st.appendElem(b, v.Index(i)); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (st *binaryState) appendElem(b []byte, v reflect.Value) ([]byte, error) {
	eb, err := st.appendValue(nil, v)
	if err != nil {
		return nil, err
	}
	return protowire.AppendBytes(b, eb), nil
}

// decodeValue fills v, which must be settable, from data. Empty slices and maps come back nil.
func (st *binaryState) decodeValue(data []byte, v reflect.Value) error {
	st.depth++
	defer func() { st.depth-- }()
	if st.depth > maxDepth {
		return errTooDeep
	}

	if isProtoMessage(v.Type()) {
		present, rest, err := consumePresence(data)
		if err != nil || !present {
			v.SetZero()
			return err
		}
		m := reflect.New(v.Type().Elem())
		if err := proto.Unmarshal(rest, m.Interface().(proto.Message)); err != nil {
			return err
		}
		v.Set(m)
		return nil
	}

	switch v.Kind() {
	case reflect.Bool:
		x, err := consumeVarint(data)
		v.SetBool(protowire.DecodeBool(x))
		return err
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		x, err := consumeVarint(data)
		v.SetInt(protowire.DecodeZigZag(x))
		return err
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		x, err := consumeVarint(data)
		v.SetUint(x)
		return err
	case reflect.Float32:
		x, n := protowire.ConsumeFixed32(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		v.SetFloat(float64(math.Float32frombits(x)))
		return nil
	case reflect.Float64:
		x, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		v.SetFloat(math.Float64frombits(x))
		return nil
	case reflect.String:
		v.SetString(string(data))
		return nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			if len(data) == 0 {
				v.SetZero()
				return nil
			}
			v.SetBytes(bytes.Clone(data))
			return nil
		}
		count, rest, err := consumeCount(data)
		if err != nil {
			return err
		}
		if count == 0 {
			v.SetZero()
			return nil
		}
		s := reflect.MakeSlice(v.Type(), count, count)
		for i := 0; i < count; i++ {
			if rest, err = st.decodeElem(rest, s.Index(i)); err != nil {
				return err
			}
		}
		v.Set(s)
		return nil
	case reflect.Array:
		count, rest, err := consumeCount(data)
		if err != nil {
			return err
		}
		if count != v.Len() {
			return fmt.Errorf("array %s: got %d elements", v.Type(), count)
		}
		for i := 0; i < count; i++ {
			if rest, err = st.decodeElem(rest, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		count, rest, err := consumeCount(data)
		if err != nil {
			return err
		}
		if count == 0 {
			v.SetZero()
			return nil
		}
		m := reflect.MakeMapWithSize(v.Type(), count)
		for i := 0; i < count; i++ {
			key := reflect.New(v.Type().Key()).Elem()
			val := reflect.New(v.Type().Elem()).Elem()
			if rest, err = st.decodeElem(rest, key); err != nil {
				return err
			}
			if rest, err = st.decodeElem(rest, val); err != nil {
				return err
			}
			m.SetMapIndex(key, val)
		}
		v.Set(m)
		return nil
	case reflect.Ptr:
		present, rest, err := consumePresence(data)
		if err != nil || !present {
			v.SetZero()
			return err
		}
		p := reflect.New(v.Type().Elem())
		if err := st.decodeValue(rest, p.Elem()); err != nil {
			return err
		}
		v.Set(p)
		return nil
	case reflect.Struct:
		if _, ok := st.codec.shape(v.Type()); !ok {
			return fmt.Errorf("type %s is not registered", v.Type())
		}
		return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			idx := int(num) - 1
			if typ != protowire.BytesType || idx < 0 || idx >= v.NumField() || !v.Type().Field(idx).IsExported() {
				return 0, nil
			}
			fb, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			if err := st.decodeValue(fb, v.Field(idx)); err != nil {
				return 0, fmt.Errorf("%s.%s: %w", v.Type(), v.Type().Field(idx).Name, err)
			}
			return n, nil
		})
	}
	return fmt.Errorf("unsupported kind %s (%s)", v.Kind(), v.Type())
}

func (st *binaryState) decodeElem(data []byte, v reflect.Value) ([]byte, error) {
	eb, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	if err := st.decodeValue(eb, v); err != nil {
		return nil, err
	}
	return data[n:], nil
}

func consumeVarint(data []byte) (uint64, error) {
	x, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return x, nil
}

func consumeCount(data []byte) (int, []byte, error) {
	x, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	// Every element takes at least one length byte.
	if x > uint64(len(data)-n) {
		return 0, nil, fmt.Errorf("element count %d exceeds payload", x)
	}
	return int(x), data[n:], nil
}

func consumePresence(data []byte) (bool, []byte, error) {
	if len(data) == 0 {
		return false, nil, fmt.Errorf("missing presence byte")
	}
	switch data[0] {
	case 0:
		return false, nil, nil
	case 1:
		return true, data[1:], nil
	}
	return false, nil, fmt.Errorf("invalid presence byte %d", data[0])
}
