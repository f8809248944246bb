// Command mikan decodes a WebAssembly binary, instantiates it, and
// optionally invokes one of its exported functions.
//
//	mikan [-func name] [-v] module.wasm [arg]...
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/mikanvm/mikan/interp"
	"github.com/mikanvm/mikan/wasm"
)

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("mikan", flag.ContinueOnError)
	flags.SetOutput(stdErr)
	funcName := flags.String("func", "", "exported function to invoke after instantiation")
	verbose := flags.Bool("v", false, "enable debug logging")
	flags.Usage = func() {
		fmt.Fprintln(stdErr, "usage: mikan [-func name] [-v] module.wasm [arg]...")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		flags.Usage()
		return 1
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(stdErr, err)
			return 1
		}
		logger = l
		defer logger.Sync() //nolint:errcheck
	}
	interp.SetLogger(logger)

	path := flags.Arg(0)
	buf, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(stdErr, err)
		return 1
	}

	mod, err := wasm.DecodeModule(buf)
	if err != nil {
		fmt.Fprintf(stdErr, "decode %s: %v\n", path, err)
		return 1
	}
	logger.Info("module decoded",
		zap.String("path", path),
		zap.Int("functions", len(mod.FunctionSection)),
		zap.Int("imports", len(mod.ImportSection)))

	store := wasm.NewStore(interp.NewEngine())
	if err := store.Instantiate(mod, "main"); err != nil {
		fmt.Fprintf(stdErr, "instantiate %s: %v\n", path, err)
		return 1
	}
	logger.Info("module instantiated", zap.String("name", "main"))

	if *funcName == "" {
		return 0
	}

	callArgs := make([]uint64, flags.NArg()-1)
	for i, a := range flags.Args()[1:] {
		v, err := strconv.ParseUint(a, 0, 64)
		if err != nil {
			fmt.Fprintf(stdErr, "argument %q: %v\n", a, err)
			return 1
		}
		callArgs[i] = v
	}

	returns, returnTypes, err := store.CallFunction("main", *funcName, callArgs...)
	if err != nil {
		fmt.Fprintf(stdErr, "call %s: %v\n", *funcName, err)
		return 1
	}
	for i, ret := range returns {
		fmt.Fprintln(stdOut, formatReturn(returnTypes[i], ret))
	}
	return 0
}

func formatReturn(t wasm.ValueType, raw uint64) string {
	switch t {
	case wasm.ValueTypeI32:
		return strconv.FormatInt(int64(int32(raw)), 10)
	case wasm.ValueTypeI64:
		return strconv.FormatInt(int64(raw), 10)
	case wasm.ValueTypeF32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(raw))), 'g', -1, 32)
	case wasm.ValueTypeF64:
		return strconv.FormatFloat(math.Float64frombits(raw), 'g', -1, 64)
	}
	return strconv.FormatUint(raw, 10)
}
