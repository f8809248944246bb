// Package wasm implements the WebAssembly 1.0 (MVP) binary format, the
// runtime store with its address spaces, and the module instantiation
// pipeline.
package wasm

// PageSize is the linear memory page size defined by the specification.
// See https://www.w3.org/TR/wasm-core-1/#memory-instances%E2%91%A0
const PageSize uint64 = 65536

// Engine is the interface implemented by interpreters.
type Engine interface {
	// Compile prepares a function instance for execution. It is called once
	// for every local function during instantiation, before any of them run.
	Compile(store *Store, f *FunctionInstance) error
	// Call invokes a function instance f with the given args.
	// Returns the values produced by the function.
	Call(store *Store, f *FunctionInstance, args ...uint64) (returns []uint64, err error)
}
