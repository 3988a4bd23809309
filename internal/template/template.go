// Package template holds the three frozen FPGA config vector recipes —
// header, body, footer — keyed by the fixed pin tag order of §3.4:
// CCLK, RESET_B, CSI_B, RDWR_B, PROGRAM_B, INIT_B, DONE.
package template

// Entry is one (repeat, vec_str) pair over the tag-ordered column set.
type Entry struct {
	Repeat uint32
	VecStr string
}

// Column indices into a template Entry's VecStr, matching
// profile.ConfigPinOrder. Not imported from profile to avoid a
// dependency cycle; the order is fixed by spec §3.4.
const (
	colCCLK = iota
	colResetB
	colCSIB
	colRDWRB
	colProgramB
	colInitB
	colDone
	columnCount
)

// col builds one VecStr from a sparse set of non-default columns; any
// column not given defaults to 'X' (don't care).
func col(set map[int]byte) string {
	b := make([]byte, columnCount)
	for i := range b {
		b[i] = 'X'
	}
	for i, c := range set {
		b[i] = c
	}
	return string(b)
}

// Header drives the configuration handshake: pulse PROGRAM_B low for
// four vectors to start, release it, expect INIT_B high, then assert
// CSI_B/RDWR_B low to begin a serial configuration write.
var Header = []Entry{
	{Repeat: 1, VecStr: col(map[int]byte{colProgramB: '1', colInitB: '1'})},
	{Repeat: 4, VecStr: col(map[int]byte{colProgramB: '0', colInitB: '1'})},
	{Repeat: 1, VecStr: col(map[int]byte{colProgramB: '1', colInitB: '1'})},
	{Repeat: 1, VecStr: col(map[int]byte{colProgramB: '1', colInitB: 'H'})},
	{Repeat: 1, VecStr: col(map[int]byte{colProgramB: '1', colInitB: '1', colCSIB: '0', colRDWRB: '0'})},
}

// Body has exactly one entry with repeat=1 (§3.4): the compiler repeats
// it once per bitstream word and injects a 32-subvec DATA payload after
// this template's columns. CCLK toggles ('C') so the unrolled count
// doubles per word.
var Body = []Entry{
	{Repeat: 1, VecStr: col(map[int]byte{colCCLK: 'C', colProgramB: '1', colCSIB: '0', colRDWRB: '0'})},
}

// Footer releases CSI_B/RDWR_B, clocks out trailing bits while polling
// DONE, and settles.
var Footer = []Entry{
	{Repeat: 1, VecStr: col(map[int]byte{colProgramB: '1', colCSIB: '1', colRDWRB: '1'})},
	{Repeat: 32, VecStr: col(map[int]byte{colCCLK: 'C', colProgramB: '1', colCSIB: '1', colRDWRB: '1', colDone: 'H'})},
	{Repeat: 1, VecStr: col(map[int]byte{colProgramB: '1', colCSIB: '1', colRDWRB: '1', colDone: 'H'})},
}

// UnrolledCount returns the sum of each entry's repeat, doubled when its
// vec_str contains 'C' (§3.4).
func UnrolledCount(entries []Entry) uint64 {
	var total uint64
	for _, e := range entries {
		mult := uint64(1)
		for i := 0; i < len(e.VecStr); i++ {
			if e.VecStr[i] == 'C' {
				mult = 2
				break
			}
		}
		total += uint64(e.Repeat) * mult
	}
	return total
}
