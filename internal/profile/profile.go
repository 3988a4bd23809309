// Package profile implements the board profile and pin table (spec §3.1,
// §4.1): an immutable, tabular description of one board loaded from a
// JSON document.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/geminicomplex/gcore/internal/gcerr"
)

// RoleTag classifies a pin's function (§3.1).
type RoleTag string

const (
	RoleNone      RoleTag = "NONE"
	RoleCCLK      RoleTag = "CCLK"
	RoleResetB    RoleTag = "RESET_B"
	RoleCSIB      RoleTag = "CSI_B"
	RoleRDWRB     RoleTag = "RDWR_B"
	RoleProgramB  RoleTag = "PROGRAM_B"
	RoleInitB     RoleTag = "INIT_B"
	RoleDone      RoleTag = "DONE"
	RoleData      RoleTag = "DATA"
	RoleGPIO      RoleTag = "GPIO"
)

// singularRoles are the role tags that must appear at most once per DUT
// (everything except DATA and GPIO, §3.1).
var singularRoles = map[RoleTag]bool{
	RoleCCLK:     true,
	RoleResetB:   true,
	RoleCSIB:     true,
	RoleRDWRB:    true,
	RoleProgramB: true,
	RoleInitB:    true,
	RoleDone:     true,
}

// ConfigPinOrder is the fixed tag order used by config templates (§3.4)
// and config_profile_pins (§4.1): CCLK, RESET_B, CSI_B, RDWR_B,
// PROGRAM_B, INIT_B, DONE, then the 32 DATA pins ascending by tag_data.
var ConfigPinOrder = []RoleTag{
	RoleCCLK, RoleResetB, RoleCSIB, RoleRDWRB, RoleProgramB, RoleInitB, RoleDone,
}

// Dest is one (dut_id, device_pin_name) destination of a pin.
type Dest struct {
	DutID        int    `json:"dut_id"`
	DevicePinName string `json:"device_pin_name"`
}

// Pin is one connector pin's full description (§3.1).
type Pin struct {
	PinName  string  `json:"pin_name"`
	CompName string  `json:"comp_name"`
	NetName  string  `json:"net_name"`
	NetAlias string  `json:"net_alias,omitempty"`
	Tag      RoleTag `json:"tag"`
	TagData  int     `json:"tag_data"`
	DutIoID  int     `json:"dut_io_id"`
	Dests    []Dest  `json:"dests,omitempty"`
}

// Engine identifies which on-board engine a DUT I/O index belongs to
// (§3.1, §1): A1 drives [0,199], A2 drives [200,399].
type Engine int

const (
	EngineNone Engine = iota
	EngineA1
	EngineA2
	EngineDual
)

func (e Engine) String() string {
	switch e {
	case EngineA1:
		return "A1"
	case EngineA2:
		return "A2"
	case EngineDual:
		return "DUAL"
	default:
		return "NONE"
	}
}

// EngineOf classifies a single DUT I/O index; -1 (not on the payload bus)
// returns EngineNone.
func EngineOf(dutIoID int) Engine {
	switch {
	case dutIoID < 0:
		return EngineNone
	case dutIoID < 200:
		return EngineA1
	case dutIoID < 400:
		return EngineA2
	default:
		return EngineNone
	}
}

// EngineAffinity derives the affinity of a set of pins (§3.1): all-A1 is
// A1, all-A2 is A2, a mix is DUAL, and no pin with a valid index fails.
func EngineAffinity(pins []Pin) (Engine, error) {
	sawA1, sawA2 := false, false
	for _, p := range pins {
		switch EngineOf(p.DutIoID) {
		case EngineA1:
			sawA1 = true
		case EngineA2:
			sawA2 = true
		}
	}
	switch {
	case sawA1 && sawA2:
		return EngineDual, nil
	case sawA1:
		return EngineA1, nil
	case sawA2:
		return EngineA2, nil
	default:
		return EngineNone, fmt.Errorf("%w: no pin has a valid DUT I/O index", gcerr.Configuration)
	}
}

// Profile is an immutable board description (§3.1).
type Profile struct {
	BoardName   string `json:"board_name"`
	Description string `json:"description"`
	Revision    int    `json:"revision"`
	NumDuts     int    `json:"num_duts"`
	Pins        []Pin  `json:"pins"`
}

// jsonDoc matches the on-disk JSON shape exactly so Load can validate
// before converting into Profile.
type jsonDoc struct {
	BoardName   string `json:"board_name"`
	Description string `json:"description"`
	Revision    int    `json:"revision"`
	NumDuts     int    `json:"num_duts"`
	Pins        []Pin  `json:"pins"`
}

// Load parses path as a board profile JSON document and validates the
// invariants of §3.1: unique connector pin names, singular role tags
// appearing at most once per DUT, and exactly 32 DATA pins per DUT with
// tag_data covering [0,31].
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading profile %q: %v", gcerr.Configuration, path, err)
	}
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing profile %q: %v", gcerr.Configuration, path, err)
	}
	p := &Profile{
		BoardName:   doc.BoardName,
		Description: doc.Description,
		Revision:    doc.Revision,
		NumDuts:     doc.NumDuts,
		Pins:        doc.Pins,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) validate() error {
	seenNames := make(map[string]bool, len(p.Pins))
	singularSeen := make(map[[2]int]bool) // (dut_id, role) -> seen
	dataSeen := make(map[int]map[int]bool) // dut_id -> tag_data -> seen

	roleIndex := func(r RoleTag) int {
		for i, rr := range []RoleTag{RoleCCLK, RoleResetB, RoleCSIB, RoleRDWRB, RoleProgramB, RoleInitB, RoleDone} {
			if rr == r {
				return i
			}
		}
		return -1
	}

	for _, pin := range p.Pins {
		if seenNames[pin.PinName] {
			return fmt.Errorf("%w: duplicate connector pin name %q", gcerr.Configuration, pin.PinName)
		}
		seenNames[pin.PinName] = true

		if pin.DutIoID < -1 || pin.DutIoID > 399 {
			return fmt.Errorf("%w: pin %q has out-of-range dut_io_id %d", gcerr.Configuration, pin.PinName, pin.DutIoID)
		}

		if singularRoles[pin.Tag] {
			ri := roleIndex(pin.Tag)
			for _, dut := range p.dutsFor(pin) {
				key := [2]int{dut, ri}
				if singularSeen[key] {
					return fmt.Errorf("%w: role %s appears more than once for dut %d", gcerr.Configuration, pin.Tag, dut)
				}
				singularSeen[key] = true
			}
		}

		if pin.Tag == RoleData {
			if pin.TagData < 0 || pin.TagData > 31 {
				return fmt.Errorf("%w: DATA pin %q has out-of-range tag_data %d", gcerr.Configuration, pin.PinName, pin.TagData)
			}
			for _, dut := range p.dutsFor(pin) {
				if dataSeen[dut] == nil {
					dataSeen[dut] = make(map[int]bool)
				}
				if dataSeen[dut][pin.TagData] {
					return fmt.Errorf("%w: DATA tag_data %d duplicated for dut %d", gcerr.Configuration, pin.TagData, dut)
				}
				dataSeen[dut][pin.TagData] = true
			}
		}
	}

	for dut := 0; dut < p.NumDuts; dut++ {
		if len(dataSeen[dut]) != 32 {
			return fmt.Errorf("%w: dut %d has %d DATA pins, want 32", gcerr.Configuration, dut, len(dataSeen[dut]))
		}
	}

	return nil
}

// dutsFor returns the DUT ids a pin's invariants apply to: if the pin has
// explicit destinations those dut_ids, otherwise every dut in the profile
// (a pin with no per-dut destination list is assumed board-wide, e.g. a
// shared CCLK net).
func (p *Profile) dutsFor(pin Pin) []int {
	if len(pin.Dests) == 0 {
		duts := make([]int, p.NumDuts)
		for i := range duts {
			duts[i] = i
		}
		return duts
	}
	duts := make([]int, 0, len(pin.Dests))
	for _, d := range pin.Dests {
		duts = append(duts, d.DutID)
	}
	return duts
}

// PinsByTag returns the ordered pins matching tag for dutID (-1 meaning
// "no specific dut", used for board-wide/shared pins). Singular tags must
// return exactly one pin when dutID >= 0; DATA returns 32 pins sorted
// ascending by tag_data (§4.1).
func PinsByTag(p *Profile, dutID int, tag RoleTag) ([]Pin, error) {
	var matched []Pin
	for _, pin := range p.Pins {
		if pin.Tag != tag {
			continue
		}
		if dutID == -1 || len(pin.Dests) == 0 {
			matched = append(matched, pin)
			continue
		}
		for _, d := range pin.Dests {
			if d.DutID == dutID {
				matched = append(matched, pin)
				break
			}
		}
	}

	if tag == RoleData {
		sort.Slice(matched, func(i, j int) bool { return matched[i].TagData < matched[j].TagData })
		if dutID >= 0 && len(matched) != 32 {
			return nil, fmt.Errorf("%w: DATA pins for dut %d: got %d, want 32", gcerr.Configuration, dutID, len(matched))
		}
		return matched, nil
	}

	if singularRoles[tag] && dutID >= 0 {
		if len(matched) != 1 {
			return nil, fmt.Errorf("%w: role %s for dut %d: got %d pins, want exactly 1", gcerr.Configuration, tag, dutID, len(matched))
		}
	}
	return matched, nil
}

// ConfigProfilePins returns the 39-pin set used by the FPGA config
// templates, in fixed order: CCLK, RESET_B, CSI_B, RDWR_B, PROGRAM_B,
// INIT_B, DONE, DATA[0..31] (§4.1).
func ConfigProfilePins(p *Profile, dutID int) ([]Pin, error) {
	out := make([]Pin, 0, 39)
	for _, tag := range ConfigPinOrder {
		pins, err := PinsByTag(p, dutID, tag)
		if err != nil {
			return nil, err
		}
		out = append(out, pins...)
	}
	dataPins, err := PinsByTag(p, dutID, RoleData)
	if err != nil {
		return nil, err
	}
	out = append(out, dataPins...)
	if len(out) != 39 {
		return nil, fmt.Errorf("%w: config pin set for dut %d has %d pins, want 39", gcerr.Configuration, dutID, len(out))
	}
	return out, nil
}
