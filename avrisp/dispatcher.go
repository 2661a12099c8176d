package avrisp

import (
	"github.com/boljen/go-bitmap"
)

// Session flags tracked in a small bitmap, the way the teacher's
// accessport.go tracks access-port membership as single bits rather than
// a struct of bools. Three flags are enough that a struct would read fine
// too, but the bitmap keeps ProgrammerState's shape consistent with C4's
// knownCommands table and leaves room to add flags without growing the
// struct.
const (
	flagProgModeActive = iota
	flagProfileMatched
	flagAutoIncrement
	sessionFlagCount
)

// ProgrammerState is C5's per-session state: the fields the dispatcher
// mutates as it executes commands (spec §4.5's "in_programming_mode",
// "page_bytes", "current_word_address").
type ProgrammerState struct {
	flags bitmap.Bitmap

	pageBytes       uint16
	currentWordAddr uint16
	matchedProfile  DeviceProfile
}

// NewProgrammerState returns a fresh Idle-state session (spec §4.2's state
// machine starts in Idle with autoincrement on by default).
func NewProgrammerState() *ProgrammerState {
	s := &ProgrammerState{
		flags:     bitmap.New(sessionFlagCount),
		pageBytes: defaultPageBytes,
	}
	s.flags.Set(flagAutoIncrement, true)
	return s
}

func (s *ProgrammerState) InProgrammingMode() bool {
	return s.flags.Get(flagProgModeActive)
}

func (s *ProgrammerState) setProgrammingMode(active bool) {
	s.flags.Set(flagProgModeActive, active)
}

// Dispatcher implements C5: it decodes a Frame's command/payload into
// calls against C2 (through C3 for page sizing) and produces the response
// bytes (spec §4.5).
type Dispatcher struct {
	isp   *ISPDriver
	state *ProgrammerState

	// halted latches once the erase ceiling is hit (spec §3 invariant 5:
	// the sole fatal case, "the programmer halts"). The frame that tripped
	// it still gets a FAILED reply; the caller must stop feeding Dispatch
	// once Halted reports true.
	halted bool
}

// NewDispatcher wires a Dispatcher to an already-initialized ISPDriver.
func NewDispatcher(isp *ISPDriver) *Dispatcher {
	return &Dispatcher{isp: isp, state: NewProgrammerState()}
}

// State exposes the session state for callers that need to report it
// (e.g. the CLI's verbose mode).
func (d *Dispatcher) State() *ProgrammerState {
	return d.state
}

// Halted reports whether the erase ceiling has been hit. Once true the
// programmer is done: no further command may reach the ISP driver.
func (d *Dispatcher) Halted() bool {
	return d.halted
}

// Dispatch executes one decoded frame and returns the exact bytes to write
// back to the host, already framed per spec §4.5. It never returns an
// error: every failure mode here is represented in the wire response, not
// a Go error value, matching "everything that can be recovered is
// recovered locally and surfaced only as a single STK500v1 reply" (§7).
func (d *Dispatcher) Dispatch(cmd byte, payload []byte) []byte {
	switch cmd {
	case cmdGetSync, cmdSetDevice, cmdSetDeviceExt:
		return okFrame(nil)

	case cmdSetParameter:
		if len(payload) >= 1 {
			logger.Debugf("SET_PARAMETER: id 0x%02X", payload[0])
		}
		return okFrame(nil)

	case cmdGetSignOn:
		return okFrame(signOnPayload)

	case cmdGetParameter:
		return okFrame([]byte{d.getParameter(payload)})

	case cmdEnterProgMode:
		return d.enterProgMode()

	case cmdLeaveProgMode:
		return d.leaveProgMode()

	case cmdChipErase:
		return d.chipErase()

	case cmdCheckAutoInc:
		return okFrame([]byte{0x01})

	case cmdLoadAddress:
		d.state.currentWordAddr = le16(payload)
		return okFrame(nil)

	case cmdReadSign:
		return d.readSign()

	case cmdUniversal:
		return d.universal(payload)

	case cmdProgPage:
		return d.progPage(payload)

	case cmdReadPage:
		return d.readPage(payload)

	default:
		logger.Warnf("dispatcher: unknown decoded command 0x%02X", cmd)
		return failedFrame()
	}
}

func (d *Dispatcher) getParameter(payload []byte) byte {
	if len(payload) < 1 {
		return replyUnknown
	}
	switch payload[0] {
	case paramHwVer:
		return replyHwVer
	case paramSwMajor:
		return replySwMajor
	case paramSwMinor:
		return replySwMinor
	case paramTopCardID, paramOscCal:
		return replyUnknown
	default:
		logger.Debugf("GET_PARAMETER: unsupported id 0x%02X, replying 0x00", payload[0])
		return replyUnknown
	}
}

func (d *Dispatcher) enterProgMode() []byte {
	if err := d.isp.EnterProgrammingMode(); err != nil {
		logger.Warnf("ENTER_PROGMODE failed: %v", err)
		return failedFrame()
	}

	sig, err := d.isp.ReadSignature()
	if err != nil {
		logger.Warnf("ENTER_PROGMODE: signature read failed: %v", err)
		return failedFrame()
	}

	profile, ok := LookupProfile(sig)
	if ok {
		d.state.matchedProfile = profile
		d.state.pageBytes = profile.PageBytes
		d.state.flags.Set(flagProfileMatched, true)
	} else {
		d.state.pageBytes = defaultPageBytes
		d.state.flags.Set(flagProfileMatched, false)
		logger.Debugf("ENTER_PROGMODE: signature %s matched no known profile, defaulting to %d-byte pages", sig, defaultPageBytes)
	}

	d.state.setProgrammingMode(true)
	return okFrame(nil)
}

func (d *Dispatcher) leaveProgMode() []byte {
	d.state.setProgrammingMode(false)
	if err := d.isp.LeaveProgrammingMode(); err != nil {
		logger.Warnf("LEAVE_PROGMODE: releasing RESET failed: %v", err)
	}
	return okFrame(nil)
}

func (d *Dispatcher) chipErase() []byte {
	if !d.state.InProgrammingMode() {
		logger.Debugf("CHIP_ERASE rejected: not in programming mode")
		return failedFrame()
	}

	if err := d.isp.ChipErase(); err != nil {
		logger.Errorf("CHIP_ERASE failed: %v", err)
		if KindOf(err) == ErrEraseCeilingHit {
			d.halted = true
		}
		return failedFrame()
	}
	return okFrame(nil)
}

func (d *Dispatcher) readSign() []byte {
	sig, err := d.isp.ReadSignature()
	if err != nil {
		logger.Warnf("READ_SIGN failed: %v", err)
		return failedFrame()
	}
	return okFrame(sig[:])
}

func (d *Dispatcher) universal(payload []byte) []byte {
	if len(payload) != 4 {
		return failedFrame()
	}
	var tx [4]byte
	copy(tx[:], payload)

	reply, err := d.isp.Universal(tx)
	if err != nil {
		logger.Warnf("UNIVERSAL failed: %v", err)
		return failedFrame()
	}
	logger.Debugf("UNIVERSAL: sent % X, got 0x%02X", tx, reply)
	return okFrame([]byte{reply})
}

func (d *Dispatcher) progPage(payload []byte) []byte {
	if !d.state.InProgrammingMode() {
		logger.Debugf("PROG_PAGE rejected: not in programming mode")
		return failedFrame()
	}

	if len(payload) < 3 {
		return failedFrame()
	}

	size := be16(payload)
	memtype := payload[2]
	data := payload[3:]

	if memtype == memTypeEEPROMU || memtype == memTypeEEPROML {
		logger.Debugf("PROG_PAGE: eeprom programming not supported")
		return failedFrame()
	}
	if memtype != memTypeFlashUpper && memtype != memTypeFlashLower {
		logger.Debugf("PROG_PAGE: rejecting memtype 0x%02X, only flash is programmable", memtype)
		return failedFrame()
	}

	limit := d.state.pageBytes
	if limit > maxPageBytes {
		limit = maxPageBytes
	}
	if size > uint16(limit) {
		return failedFrame()
	}
	if int(size) != len(data) {
		return failedFrame()
	}

	words := size / 2
	for j := uint16(0); j < words; j++ {
		word := wordLE(data[2*j], data[2*j+1])
		if err := d.isp.LoadPageBufferWord(j, word); err != nil {
			logger.Errorf("PROG_PAGE: load_page_buffer_word failed: %v", err)
			return failedFrame()
		}
	}

	if err := d.isp.CommitPage(d.state.currentWordAddr); err != nil {
		logger.Errorf("PROG_PAGE: commit_page failed: %v", err)
		return failedFrame()
	}

	d.state.currentWordAddr += words
	return okFrame(nil)
}

func (d *Dispatcher) readPage(payload []byte) []byte {
	if !d.state.InProgrammingMode() {
		logger.Debugf("READ_PAGE rejected: not in programming mode")
		return failedFrame()
	}

	if len(payload) != 3 {
		return failedFrame()
	}

	size := be16(payload)
	memtype := payload[2]

	if memtype == memTypeEEPROMU || memtype == memTypeEEPROML {
		logger.Debugf("READ_PAGE: eeprom programming not supported")
		return failedFrame()
	}
	if memtype != memTypeFlashUpper && memtype != memTypeFlashLower {
		logger.Debugf("READ_PAGE: rejecting memtype 0x%02X, only flash is readable here", memtype)
		return failedFrame()
	}
	if size == 0 || size > maxPageBytes {
		return failedFrame()
	}

	out := make([]byte, size)
	for off := uint16(0); off < size; off++ {
		word, err := d.isp.ReadProgramWord(d.state.currentWordAddr + off/2)
		if err != nil {
			logger.Errorf("READ_PAGE: read_program_word failed: %v", err)
			return failedFrame()
		}
		lo, hi := splitWordLE(word)
		if off%2 == 0 {
			out[off] = lo
		} else {
			out[off] = hi
		}
	}

	d.state.currentWordAddr += (size + 1) / 2
	return okFrame(out)
}

// okFrame builds INSYNC | payload | OK.
func okFrame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, respInSync)
	out = append(out, payload...)
	out = append(out, respOK)
	return out
}

// failedFrame builds INSYNC | FAILED.
func failedFrame() []byte {
	return []byte{respInSync, respFailed}
}

// noSyncFrame builds the standalone 0x15 emitted by C4 framing errors.
func noSyncFrame() []byte {
	return []byte{respNoSync}
}
