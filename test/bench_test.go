package test

import (
	"testing"

	"typed-rpc/codec"
	"typed-rpc/discovery"
	"typed-rpc/example/calc"
	"typed-rpc/example/calcstub"
	"typed-rpc/message"
	"typed-rpc/signature"
)

// ---- Benchmark ----

func setupBench(b *testing.B, ct codec.CodecType) {
	phonebook := discovery.NewMemoryRegistry()
	startServer(b, phonebook, ct)
	installClient(b, phonebook, ct)
	// 第一次调用完成绑定，不计入耗时
	calcstub.Ping()
	b.ResetTimer()
}

// 场景1: 单 goroutine 串行调用
func BenchmarkSerialCall(b *testing.B) {
	setupBench(b, codec.CodecTypeJSON)
	for i := 0; i < b.N; i++ {
		if v := calcstub.Add(1, 2); v != 3 {
			b.Fatalf("expect 3, got %d", v)
		}
	}
}

// 场景2: 多 goroutine 并发调用（同一个 stub，按 seq 关联响应）
func BenchmarkConcurrentCall(b *testing.B) {
	setupBench(b, codec.CodecTypeBinary)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if v := calcstub.Add(1, 2); v != 3 {
				b.Errorf("expect 3, got %d", v)
				return
			}
		}
	})
}

// 场景3/4: 请求编解码性能（不走网络，纯 codec）
func benchmarkCodec(b *testing.B, ct codec.CodecType) {
	cdc := codec.GetCodec(ct)
	tf, err := signature.Extract(calc.Module, "Distance", calc.Distance)
	if err != nil {
		b.Fatal(err)
	}
	req := &message.Request{
		Seq:      1,
		Module:   calc.Module,
		Function: "Distance",
		Args:     []any{calc.Point{X: 1, Y: 2}, calc.Point{X: 4, Y: 6}},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		enc := cdc.NewEncoder()
		if err := message.EncodeRequest(enc, req, tf); err != nil {
			b.Fatal(err)
		}
		dec := cdc.NewDecoder(enc.Buffer())
		var out message.Request
		if out.Seq, err = message.DecodeSeq(dec); err != nil {
			b.Fatal(err)
		}
		if err := message.DecodeRequestHeader(dec, &out); err != nil {
			b.Fatal(err)
		}
		if err := message.DecodeArgs(dec, &out, tf); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B) { benchmarkCodec(b, codec.CodecTypeJSON) }

func BenchmarkCodecBinary(b *testing.B) { benchmarkCodec(b, codec.CodecTypeBinary) }
