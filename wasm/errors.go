package wasm

import "errors"

// Decoding errors.
var (
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("invalid version header")
	ErrInvalidByte        = errors.New("invalid byte")
	ErrInvalidSectionID   = errors.New("invalid section id")
)

// Instantiation errors. Each kind is a sentinel so that callers can
// distinguish them with errors.Is; call sites wrap them with context via %w.
var (
	ErrModuleNameConflict     = errors.New("module name conflict")
	ErrUnknownImport          = errors.New("unknown import")
	ErrIncompatibleImportType = errors.New("incompatible import type")
	ErrInvalidInitializer     = errors.New("invalid initializer expression")
	ErrTableOutOfRange        = errors.New("table out of range")
	ErrMemoryOutOfRange       = errors.New("memory out of range")
	ErrDuplicateExportName    = errors.New("duplicate export name")
	// ErrBadAddress means a store lookup was given an address outside any
	// arena. This is an internal invariant break, not a user error.
	ErrBadAddress = errors.New("bad store address")
	ErrStartTrap  = errors.New("start function trapped")
)

// Execution errors.
var (
	ErrFunctionTrapped   = errors.New("function trapped")
	ErrCallStackOverflow = errors.New("callstack overflow")
)
