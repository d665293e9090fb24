package codec

import (
	"lite-rpc/message"
	"testing"
)

func benchRequest() *message.Request {
	return &message.Request{
		ID:         42,
		Interface:  "HelloService",
		Method:     "hello",
		ParamTypes: []string{"string"},
		Params:     [][]byte{[]byte(`"World"`)},
	}
}

// JSON 编解码性能（不走网络，纯 codec）
func BenchmarkCodecJSON(b *testing.B) {
	cdc := GetCodec(CodecTypeJSON)
	msg := benchRequest()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		var out message.Request
		cdc.Decode(data, &out)
	}
}

// Binary 编解码性能（不走网络，纯 codec）
func BenchmarkCodecBinary(b *testing.B) {
	cdc := GetCodec(CodecTypeBinary)
	msg := benchRequest()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		var out message.Request
		cdc.Decode(data, &out)
	}
}
