package transport

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/geminicomplex/gcore/internal/gcerr"
)

// Limits holds the wire/poll tunables spec §4.5.5/§4.5.6/§5 fix as
// constants but the original C runtime's config.c lets a board-wide
// config file override: the write frame cap, the read-burst cap, the
// host arena cap on a single transport call, and the TEST_RUN
// poll-iteration ceiling. The compiler's unrolled-vector warning
// threshold is a separate tunable owned by stim.Limits, since nothing
// in this package ever inspects it. A Transport built without an
// explicit Limits uses DefaultLimits.
type Limits struct {
	WriteFrameCap      int
	ReadFrameBurstCap  int
	MaxSingleCallBytes int
	PollOuterLimit     int
}

// DefaultLimits returns the spec's fixed constants (§4.5.5, §4.5.6, §5).
func DefaultLimits() Limits {
	return Limits{
		WriteFrameCap:      WriteFrameCap,
		ReadFrameBurstCap:  ReadFrameBurstCap,
		MaxSingleCallBytes: MaxSingleCallBytes,
		PollOuterLimit:     pollOuterLimit,
	}
}

// LoadLimits parses a flat key=value file (one tunable per line, '#'
// comments, blank lines ignored) overriding DefaultLimits. Keys are the
// Limits field names, lower_snake_case: write_frame_cap,
// read_frame_burst_cap, max_single_call_bytes, poll_outer_limit. An
// unknown key is a configuration error.
func LoadLimits(path string) (Limits, error) {
	f, err := os.Open(path)
	if err != nil {
		return Limits{}, fmt.Errorf("%w: opening limits file %q: %v", gcerr.Configuration, path, err)
	}
	defer f.Close()

	l := DefaultLimits()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return Limits{}, fmt.Errorf("%w: malformed limits line %q", gcerr.Configuration, line)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return Limits{}, fmt.Errorf("%w: limits key %q has non-numeric value %q: %v", gcerr.Configuration, key, val, err)
		}
		switch key {
		case "write_frame_cap":
			l.WriteFrameCap = int(n)
		case "read_frame_burst_cap":
			l.ReadFrameBurstCap = int(n)
		case "max_single_call_bytes":
			l.MaxSingleCallBytes = int(n)
		case "poll_outer_limit":
			l.PollOuterLimit = int(n)
		default:
			return Limits{}, fmt.Errorf("%w: unknown limits key %q", gcerr.Configuration, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return Limits{}, fmt.Errorf("%w: reading limits file %q: %v", gcerr.Configuration, path, err)
	}
	return l, nil
}
