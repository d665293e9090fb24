package codec

import (
	"bytes"
	"errors"
	"lite-rpc/message"
	"reflect"
	"sync"
	"testing"
	"time"
)

type Address struct {
	City string
	Zip  int
}

type User struct {
	Name    string
	Age     int
	Tags    []string
	Home    *Address
	Friends []*User
	Scores  map[string]float64
	Avatar  []byte
	private int
}

func allCodecs() []Codec {
	return []Codec{&JSONCodec{}, NewBinaryCodec()}
}

func requestsEqual(a, b *message.Request) bool {
	if a.ID != b.ID || a.Interface != b.Interface || a.Version != b.Version || a.Method != b.Method {
		return false
	}
	if len(a.ParamTypes) != len(b.ParamTypes) || len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.ParamTypes {
		if a.ParamTypes[i] != b.ParamTypes[i] {
			return false
		}
	}
	for i := range a.Params {
		if !bytes.Equal(a.Params[i], b.Params[i]) {
			return false
		}
	}
	return true
}

func TestRequestRoundTrip(t *testing.T) {
	cases := []*message.Request{
		{ID: 1, Interface: "HelloService", Method: "hello", ParamTypes: []string{"string"}, Params: [][]byte{[]byte(`"World"`)}},
		{ID: 2, Interface: "HelloService", Version: "v2", Method: "hello"},
		{ID: 3, Interface: "服务", Method: "приветствие", ParamTypes: []string{"[]byte", "hello.Person"}, Params: [][]byte{{}, {0x01, 0x02}}},
		{ID: 1<<64 - 1, Interface: "X", Method: "y", ParamTypes: []string{}, Params: [][]byte{}},
	}

	for _, cdc := range allCodecs() {
		for _, want := range cases {
			data, err := cdc.Encode(want)
			if err != nil {
				t.Fatalf("%s Encode failed: %v", cdc.Type(), err)
			}
			var got message.Request
			if err := cdc.Decode(data, &got); err != nil {
				t.Fatalf("%s Decode failed: %v", cdc.Type(), err)
			}
			if !requestsEqual(want, &got) {
				t.Errorf("%s: request mismatch: got %+v, want %+v", cdc.Type(), got, *want)
			}
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []*message.Response{
		{ID: 1, Result: []byte(`"Hello! World"`)},
		{ID: 2, Error: "read payload: unexpected EOF"},
		{ID: 3},
		{ID: 4, Result: []byte{}},
		{ID: 5, Error: "ошибка: 失败"},
	}

	for _, cdc := range allCodecs() {
		for _, want := range cases {
			data, err := cdc.Encode(want)
			if err != nil {
				t.Fatalf("%s Encode failed: %v", cdc.Type(), err)
			}
			var got message.Response
			if err := cdc.Decode(data, &got); err != nil {
				t.Fatalf("%s Decode failed: %v", cdc.Type(), err)
			}
			if got.ID != want.ID || got.Error != want.Error || !bytes.Equal(got.Result, want.Result) {
				t.Errorf("%s: response mismatch: got %+v, want %+v", cdc.Type(), got, *want)
			}
			if (got.Result == nil) != (want.Result == nil) {
				t.Errorf("%s: result presence changed for id %d", cdc.Type(), want.ID)
			}
		}
	}
}

func TestValueRoundTrip(t *testing.T) {
	bin := NewBinaryCodec()
	if err := bin.Register(User{}); err != nil {
		t.Fatal(err)
	}

	user := User{
		Name:    "Ada",
		Age:     36,
		Tags:    []string{"math", "engines"},
		Home:    &Address{City: "London", Zip: 1},
		Friends: []*User{{Name: "Charles", Scores: map[string]float64{"x": 1.5}}},
		Scores:  map[string]float64{"a": -2.25},
		Avatar:  []byte{0, 1, 2},
	}

	for _, cdc := range []Codec{&JSONCodec{}, bin} {
		data, err := cdc.Encode(user)
		if err != nil {
			t.Fatalf("%s Encode failed: %v", cdc.Type(), err)
		}
		var got User
		if err := cdc.Decode(data, &got); err != nil {
			t.Fatalf("%s Decode failed: %v", cdc.Type(), err)
		}
		if !reflect.DeepEqual(got, user) {
			t.Errorf("%s: got %+v, want %+v", cdc.Type(), got, user)
		}
	}
}

func TestScalarRoundTrip(t *testing.T) {
	bin := NewBinaryCodec()
	values := []any{"", "Hello! World", int64(-42), uint16(7), true, 3.5, float32(1.25), []byte("raw"), []int{1, -1}}

	for _, v := range values {
		data, err := bin.Encode(v)
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", v, err)
		}
		ptr := reflect.New(reflect.TypeOf(v))
		if err := bin.Decode(data, ptr.Interface()); err != nil {
			t.Fatalf("Decode(%v) failed: %v", v, err)
		}
		if !reflect.DeepEqual(ptr.Elem().Interface(), v) {
			t.Errorf("got %v, want %v", ptr.Elem().Interface(), v)
		}
	}
}

func TestBinaryNilPointer(t *testing.T) {
	bin := NewBinaryCodec()
	bin.Register(Address{})

	var in *Address
	data, err := bin.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out := &Address{City: "stale"}
	if err := bin.Decode(data, &out); err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expect nil pointer, got %+v", out)
	}
}

func TestBinaryUnregistered(t *testing.T) {
	bin := NewBinaryCodec()
	_, err := bin.Encode(Address{City: "Paris"})
	if !errors.Is(err, message.ErrSerialization) {
		t.Fatalf("expect ErrSerialization, got %v", err)
	}

	if err := bin.Register(42); err == nil {
		t.Fatal("registering a non-struct should fail")
	}
}

func TestBinaryCorruptInput(t *testing.T) {
	bin := NewBinaryCodec()
	var req message.Request
	err := bin.Decode([]byte{0x0a, 0xff}, &req)
	if !errors.Is(err, message.ErrSerialization) {
		t.Fatalf("expect ErrSerialization, got %v", err)
	}
}

func TestJSONDecodeError(t *testing.T) {
	var resp message.Response
	err := GetCodec(CodecTypeJSON).Decode([]byte("{not json"), &resp)
	if !errors.Is(err, message.ErrSerialization) {
		t.Fatalf("expect ErrSerialization, got %v", err)
	}
}

func TestPoolExhausted(t *testing.T) {
	bin := NewBinaryCodec(WithPoolSize(1), WithBorrowTimeout(20*time.Millisecond))

	// 借走唯一的实例，下一次编码应该等待超时
	st, err := bin.pool.Borrow()
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = bin.Encode(&message.Response{ID: 1})
	if !errors.Is(err, ErrPoolExhausted) || !errors.Is(err, message.ErrSerialization) {
		t.Fatalf("expect ErrPoolExhausted, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("borrow returned before the wait elapsed")
	}

	bin.pool.Release(st)
	if _, err := bin.Encode(&message.Response{ID: 1}); err != nil {
		t.Fatalf("expect success after release, got %v", err)
	}
}

func TestPoolReleasedOnFailure(t *testing.T) {
	bin := NewBinaryCodec(WithPoolSize(2))
	for i := 0; i < 10; i++ {
		bin.Encode(Address{})
		bin.Decode([]byte{0xff}, &message.Request{})
	}
	if bin.pool.Idle() != bin.pool.Size() {
		t.Fatalf("expect %d idle states, got %d", bin.pool.Size(), bin.pool.Idle())
	}
}

func TestBinaryConcurrent(t *testing.T) {
	bin := NewBinaryCodec(WithPoolSize(4))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			want := &message.Request{ID: uint64(n), Interface: "HelloService", Method: "hello", ParamTypes: []string{"int"}, Params: [][]byte{{byte(n)}}}
			data, err := bin.Encode(want)
			if err != nil {
				t.Errorf("encode: %v", err)
				return
			}
			var got message.Request
			if err := bin.Decode(data, &got); err != nil {
				t.Errorf("decode: %v", err)
				return
			}
			if !requestsEqual(want, &got) {
				t.Errorf("mismatch for %d", n)
			}
		}(i)
	}
	wg.Wait()
}

func TestParseType(t *testing.T) {
	cases := map[string]CodecType{"json": CodecTypeJSON, "": CodecTypeJSON, "binary": CodecTypeBinary, "PROTO": CodecTypeBinary}
	for name, want := range cases {
		got, err := ParseType(name)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseType("xml"); err == nil {
		t.Error("expect error for xml")
	}
	if GetCodec(CodecTypeBinary).Type() != CodecTypeBinary {
		t.Error("GetCodec returned the wrong codec")
	}
}
