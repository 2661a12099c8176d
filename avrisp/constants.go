package avrisp

// STK500v1 framing bytes (spec §6).
const (
	eop        = 0x20 // Sync/CRC EOP, terminates every host->device frame
	respInSync = 0x14
	respOK     = 0x10
	respFailed = 0x11
	respNoSync = 0x15
)

// STK500v1 command bytes (spec §4.4).
const (
	cmdGetSync       = 0x30
	cmdGetSignOn     = 0x31
	cmdSetParameter  = 0x40
	cmdGetParameter  = 0x41
	cmdSetDevice     = 0x42
	cmdSetDeviceExt  = 0x45
	cmdEnterProgMode = 0x50
	cmdLeaveProgMode = 0x51
	cmdChipErase     = 0x52
	cmdCheckAutoInc  = 0x53
	cmdLoadAddress   = 0x55
	cmdUniversal     = 0x56
	cmdProgPage      = 0x64
	cmdReadPage      = 0x74
	cmdReadSign      = 0x75
)

// signOnPayload is GET_SIGN_ON's fixed reply body.
var signOnPayload = []byte("AVR ISP")

// GET_PARAMETER ids and their fixed replies (spec §4.5, supplemented §8).
const (
	paramHwVer     = 0x80
	paramSwMajor   = 0x81
	paramSwMinor   = 0x82
	paramTopCardID = 0x90 // no topcard/vtarget sense circuit on this bridge
	paramOscCal    = 0x98 // OSCCAL tuning is out of scope

	replyHwVer   = 0x02
	replySwMajor = 0x01
	replySwMinor = 0x12 // software minor version 18
	replyUnknown = 0x00
)

// PROG_PAGE/READ_PAGE memtype bytes; only flash is programmable here.
const (
	memTypeFlashUpper = 'F'
	memTypeFlashLower = 'f'
	memTypeEEPROMU    = 'E'
	memTypeEEPROML    = 'e'
)

// maxPageBytes bounds any single PROG_PAGE/READ_PAGE regardless of the
// profile's page size (spec §4.5).
const maxPageBytes = 256

// defaultPageBytes is used before ENTER_PROGMODE has cached a profile.
const defaultPageBytes = 128

// eraseCeiling is the safety limit on chip-erase cycles per session (spec §3.5).
const eraseCeiling = 200

// AVR serial-programming opcodes (4-byte SPI transactions). Values and
// echo byte 0x53 are load-bearing per spec §4.2; others record behaviour,
// not opcode trivia.
var (
	ispProgrammingEnable = [4]byte{0xAC, 0x53, 0x00, 0x00}
	ispChipErase         = [4]byte{0xAC, 0x80, 0x00, 0x00}
)

const ispProgrammingEnableEcho = 0x53

func ispReadSignature(index byte) [4]byte {
	return [4]byte{0x30, 0x00, index, 0x00}
}

func ispReadProgramLow(addr uint16) [4]byte {
	return [4]byte{0x20, byte(addr >> 8), byte(addr), 0x00}
}

func ispReadProgramHigh(addr uint16) [4]byte {
	return [4]byte{0x28, byte(addr >> 8), byte(addr), 0x00}
}

func ispLoadPageLow(wordIndex uint16, b byte) [4]byte {
	return [4]byte{0x40, byte(wordIndex >> 8), byte(wordIndex), b}
}

func ispLoadPageHigh(wordIndex uint16, b byte) [4]byte {
	return [4]byte{0x48, byte(wordIndex >> 8), byte(wordIndex), b}
}

func ispWritePage(addr uint16) [4]byte {
	return [4]byte{0x4C, byte(addr >> 8), byte(addr), 0x00}
}

// Timing constants (spec §4.2/§5), all busy-wait durations.
const (
	progEnableRetries  = 8
	progEnableBackoff  = 10 // ms
	chipEraseSettle    = 9  // ms
	pageCommitSettle   = 5  // ms
	resetPulseDuration = 20 // ms, both halves of reset_pulse()
)
