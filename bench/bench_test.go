package bench

import (
	"testing"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/stretchr/testify/require"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/mikanvm/mikan/interp"
	"github.com/mikanvm/mikan/wasm"
)

// fibWasm is a module exporting a recursive "fib" (param i32) (result i32).
var fibWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (i32) -> (i32)
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,
	// function section
	0x03, 0x02, 0x01, 0x00,
	// export section: "fib"
	0x07, 0x07, 0x01, 0x03, 0x66, 0x69, 0x62, 0x00, 0x00,
	// code section
	0x0a, 0x1e, 0x01, 0x1c, 0x00,
	0x20, 0x00, 0x41, 0x02, 0x48, // local.get 0; i32.const 2; i32.lt_s
	0x04, 0x7f, // if (result i32)
	0x20, 0x00, // local.get 0
	0x05,                         // else
	0x20, 0x00, 0x41, 0x01, 0x6b, // local.get 0; i32.const 1; i32.sub
	0x10, 0x00, // call 0
	0x20, 0x00, 0x41, 0x02, 0x6b, // local.get 0; i32.const 2; i32.sub
	0x10, 0x00, // call 0
	0x6a,       // i32.add
	0x0b, 0x0b, // end; end
}

const fibInput, fibExpected = 20, 6765

func BenchmarkFib_mikan(b *testing.B) {
	store := wasm.NewStore(interp.NewEngine())
	mod, err := wasm.DecodeModule(fibWasm)
	require.NoError(b, err)
	require.NoError(b, store.Instantiate(mod, "bench"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ret, _, err := store.CallFunction("bench", "fib", fibInput)
		if err != nil {
			b.Fatal(err)
		}
		if ret[0] != fibExpected {
			b.Fatalf("unexpected result: %d", ret[0])
		}
	}
}

func BenchmarkFib_wasmtime(b *testing.B) {
	engine := wasmtime.NewEngine()
	store := wasmtime.NewStore(engine)
	module, err := wasmtime.NewModule(engine, fibWasm)
	require.NoError(b, err)
	instance, err := wasmtime.NewInstance(store, module, nil)
	require.NoError(b, err)
	fib := instance.GetFunc(store, "fib")
	require.NotNil(b, fib)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ret, err := fib.Call(store, fibInput)
		if err != nil {
			b.Fatal(err)
		}
		if ret.(int32) != fibExpected {
			b.Fatalf("unexpected result: %v", ret)
		}
	}
}

func BenchmarkFib_wasmer(b *testing.B) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, fibWasm)
	require.NoError(b, err)
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	require.NoError(b, err)
	fib, err := instance.Exports.GetFunction("fib")
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ret, err := fib(fibInput)
		if err != nil {
			b.Fatal(err)
		}
		if ret.(int32) != fibExpected {
			b.Fatalf("unexpected result: %v", ret)
		}
	}
}
