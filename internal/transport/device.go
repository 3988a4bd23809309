package transport

import "context"

// Regs mirrors the REGS_READ ioctl's output struct (§6.2).
type Regs struct {
	Control   uint32
	Status    uint32
	Addr      uint32
	Data      uint32
	A1Status  uint32
	A2Status  uint32
}

// Status register bits, top nibble carries the error flags (§6.2).
const (
	StatusIdle    uint32 = 1 << 0
	StatusPaused  uint32 = 1 << 1
	StatusRunning uint32 = 1 << 2
	StatusSynced  uint32 = 1 << 3
	StatusReset   uint32 = 1 << 4

	StatusConfigError uint32 = 1 << 28
	StatusDoneError   uint32 = 1 << 29
	StatusSetupError  uint32 = 1 << 30
	StatusInitError   uint32 = 1 << 31
)

// EngineStatus decodes one engine's status register (§6.2): calibration
// and error flags, startup-done, done, a generic error bit, exec-unit
// failed, and four 4-bit state fields packed side by side.
type EngineStatus struct {
	MemCalibrated bool
	MemError      bool
	StartupDone   bool
	Done          bool
	Error         bool
	ExecFailed    bool
	ExecStage     uint8
	MemcoreState  MemcoreState
	ExecState     ExecUnitState
	AgentState    AgentState
}

// DecodeEngineStatus unpacks a raw engine status register per the
// bit layout named in §6.2: bits [0:4) exec stage, [4:8) memcore state,
// [8:12) exec state, [12:16) agent state, remaining bits are flags.
func DecodeEngineStatus(raw uint32) EngineStatus {
	return EngineStatus{
		MemCalibrated: raw&(1<<16) != 0,
		MemError:      raw&(1<<17) != 0,
		StartupDone:   raw&(1<<18) != 0,
		Done:          raw&(1<<19) != 0,
		Error:         raw&(1<<20) != 0,
		ExecFailed:    raw&(1<<21) != 0,
		ExecStage:     uint8(raw & 0xF),
		MemcoreState:  MemcoreState((raw >> 4) & 0xF),
		ExecState:     ExecUnitState((raw >> 8) & 0xF),
		AgentState:    AgentState((raw >> 12) & 0xF),
	}
}

// UserdevsRegs mirrors USERDEVS_READ (§6.2).
type UserdevsRegs struct {
	TxChan uint32
	TxCmp  uint32
	RxChan uint32
	RxCmp  uint32
}

// DMADir is the direction argument for DMAConfig.
type DMADir int

const (
	DMADirHostToDevice DMADir = iota
	DMADirDeviceToHost
)

// DMAConfigArg mirrors DMA_CONFIG's input struct (§6.2).
type DMAConfigArg struct {
	Chan       uint32
	Dir        DMADir
	BufOffset  uint32
	BufSize    uint32
	Completion uint32
	Cookie     uint32
}

// DMAStartArg mirrors DMA_START's input struct (§6.2). dir is not part
// of the ioctl's wire shape (the kernel already knows a channel's
// direction from the DMAConfig call that set it up); it is tracked
// host-side so DMAStart knows whether to stage the arena from payload
// before starting or to copy back into payload after.
type DMAStartArg struct {
	Chan          uint32
	Completion    uint32
	Cookie        uint32
	Wait          bool
	WaitTimeMsecs uint32
	BufSize       uint32
	dir           DMADir
}

// WithDir returns a copy of a tagged with dir, for host-side direction
// bookkeeping (see dir's doc comment).
func (a DMAStartArg) WithDir(dir DMADir) DMAStartArg {
	a.dir = dir
	return a
}

// Device is the character device's ioctl surface (§6.2), abstracted so
// the transport logic above it is testable without real hardware. The
// production implementation (unixDevice) issues real ioctls via
// golang.org/x/sys/unix; tests substitute a mock.
type Device interface {
	RegsRead(ctx context.Context) (Regs, error)
	UserdevsRead(ctx context.Context) (UserdevsRegs, error)

	SubcoreLoad(ctx context.Context, state SubcoreState, sel ArtixSelect) error
	SubcoreRun(ctx context.Context) error
	SubcoreIdle(ctx context.Context) error
	SubcoreState(ctx context.Context) (SubcoreState, error)
	SubcoreReset(ctx context.Context) error

	ArtixSync(ctx context.Context, sel ArtixSelect, asserted bool) error

	CtrlWrite(ctx context.Context, sel ArtixSelect, addr, data uint32) error
	CtrlRead(ctx context.Context, sel ArtixSelect, addr uint32) (uint32, error)

	DMAConfig(ctx context.Context, arg DMAConfigArg) error
	DMAPrep(ctx context.Context, arg DMAConfigArg) (cookie uint32, err error)
	DMAStart(ctx context.Context, arg DMAStartArg, payload []byte) error
	DMAStop(ctx context.Context, chanID uint32) error

	// Arena exposes the process-wide mmapped DMA scratch buffer
	// (§5 "Shared resources"); the character-device DMAStart stages
	// payloads here.
	Arena() *Arena

	Close() error
}
