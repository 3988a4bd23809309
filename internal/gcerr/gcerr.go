// Package gcerr defines the error kinds the core surfaces (spec §7):
// configuration, compiler, container, and transport errors. Each kind is a
// sentinel wrapped with context via fmt.Errorf's %w, so callers can test
// with errors.Is against the kind while still getting a descriptive
// message.
package gcerr

import "errors"

// Kind sentinels. Wrap these with fmt.Errorf("...: %w", KindX) at the call
// site so errors.Is(err, gcerr.Configuration) keeps working after wrapping.
var (
	// Configuration covers bad profiles, missing/malformed pins, unknown
	// source extensions, and mismatched engine affinity. Fatal at the
	// call site.
	Configuration = errors.New("configuration error")

	// Compiler covers vec_str length mismatches, illegal characters,
	// repeat > 1 on a bitstream body vector, and padding overflow.
	Compiler = errors.New("compiler error")

	// Container covers missing sync words, truncated headers, unknown
	// bit-file keys, and LZ4 decompression mismatches.
	Container = errors.New("container error")

	// Transport covers device-busy, ioctl failure, DMA timeout, and
	// startup init errors. The caller must tear down the program context.
	Transport = errors.New("transport error")
)

// Is reports whether err is (wraps) one of the four kind sentinels.
func Is(err error, kind error) bool {
	return errors.Is(err, kind)
}
