package avrisp

import (
	"github.com/boljen/go-bitmap"
)

// rxAccumCapacity bounds the bytes C6 may hand to the parser before a frame
// is decoded. A host tool never pipelines more than one in-flight command,
// so this only needs to absorb one oversized PROG_PAGE plus noise.
const rxAccumCapacity = 4096

// ringAccumulator is a bounded FIFO byte buffer addressed by rdOff/wrOff
// modulo capacity, the same indexing scheme the teacher's Segger RTT
// channel buffers use for their up/down streams (rtt.go), repurposed here
// for STK500v1's rx_accum rather than a target-side trace channel.
type ringAccumulator struct {
	buf          []byte
	rdOff, wrOff uint32
}

func newRingAccumulator(capacity int) *ringAccumulator {
	return &ringAccumulator{buf: make([]byte, capacity)}
}

func (r *ringAccumulator) len() int {
	return int(r.wrOff - r.rdOff)
}

func (r *ringAccumulator) cap() int {
	return len(r.buf)
}

// feed appends bytes, silently dropping the tail once the buffer is full,
// and returns how many bytes were dropped so the caller can log it.
func (r *ringAccumulator) feed(data []byte) (dropped int) {
	for _, b := range data {
		if r.len() >= r.cap() {
			dropped++
			continue
		}
		r.buf[r.wrOff%uint32(r.cap())] = b
		r.wrOff++
	}
	return dropped
}

// at returns the byte at logical offset i from the head without consuming
// it. Callers must check i < len() first.
func (r *ringAccumulator) at(i int) byte {
	return r.buf[(r.rdOff+uint32(i))%uint32(r.cap())]
}

// drop consumes n bytes from the head.
func (r *ringAccumulator) drop(n int) {
	if n > r.len() {
		n = r.len()
	}
	r.rdOff += uint32(n)
}

// head copies the first n buffered bytes out, for handing a decoded
// frame's bytes to the dispatcher without exposing the ring layout.
func (r *ringAccumulator) head(n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = r.at(i)
	}
	return out
}

// knownCommands is a 256-bit membership table over command bytes, built the
// same way the teacher's accessport.go tracks "which of 256 possible access
// ports are open" in a bitmap.Bitmap rather than a map[byte]bool.
var knownCommands = func() bitmap.Bitmap {
	b := bitmap.New(256)
	for _, cmd := range []byte{
		cmdGetSync, cmdGetSignOn, cmdSetParameter, cmdGetParameter,
		cmdSetDevice, cmdSetDeviceExt, cmdEnterProgMode, cmdLeaveProgMode,
		cmdChipErase, cmdCheckAutoInc, cmdLoadAddress, cmdUniversal,
		cmdProgPage, cmdReadPage, cmdReadSign,
	} {
		b.Set(int(cmd), true)
	}
	return b
}()

// fixedFrameLengths maps a command byte to its total frame length
// (CMD byte + payload + trailing EOP), for every command except PROG_PAGE
// whose length depends on a size header inside the payload.
var fixedFrameLengths = map[byte]int{
	cmdGetSync:       2,
	cmdGetSignOn:     2,
	cmdSetParameter:  4,
	cmdGetParameter:  3,
	cmdSetDevice:     22,
	cmdSetDeviceExt:  7,
	cmdEnterProgMode: 2,
	cmdLeaveProgMode: 2,
	cmdChipErase:     2,
	cmdCheckAutoInc:  2,
	cmdLoadAddress:   4,
	cmdUniversal:     6,
	cmdReadPage:      5,
	cmdReadSign:      2,
}

// Frame is a fully decoded STK500v1 command ready for dispatch.
type Frame struct {
	Command byte
	Payload []byte
}

// parseOutcome tags what FrameParser.TryParse produced this call.
type parseOutcome int

const (
	outcomeNone     parseOutcome = iota // not enough bytes buffered yet
	outcomeFrame                        // a valid frame was decoded
	outcomeNoSync                       // framing error, Resp_NOSYNC already due
	outcomeDropped                      // junk/unknown bytes were silently dropped
)

// FrameParser implements C4: it owns rx_accum and the pull-based decode
// loop described in spec §4.4.
type FrameParser struct {
	acc *ringAccumulator
}

// NewFrameParser builds an empty parser with the standard accumulator size.
func NewFrameParser() *FrameParser {
	return &FrameParser{acc: newRingAccumulator(rxAccumCapacity)}
}

// Feed appends newly arrived bytes from C6.
func (p *FrameParser) Feed(data []byte) (dropped int) {
	return p.acc.feed(data)
}

// TryParse inspects the head of rx_accum and attempts to decode one frame,
// following the seven-step loop from spec §4.4. Callers should call
// TryParse repeatedly (it only ever consumes or inspects, never blocks)
// until it returns outcomeNone.
func (p *FrameParser) TryParse() (Frame, parseOutcome) {
	for {
		if p.acc.len() == 0 {
			return Frame{}, outcomeNone
		}

		// Step 1: drop a stray EOP.
		if p.acc.at(0) == eop {
			p.acc.drop(1)
			continue
		}

		cmd := p.acc.at(0)

		expected, ok := p.expectedLength(cmd)
		if !ok {
			// Step 3, incomplete PROG_PAGE size header: wait.
			if cmd == cmdProgPage && p.acc.len() < 4 {
				return Frame{}, outcomeNone
			}
			// Step 3, PROG_PAGE size out of range, or step 4, unknown cmd.
			logger.Debugf("parser: dropping byte 0x%02X", cmd)
			p.acc.drop(1)
			return Frame{}, outcomeDropped
		}

		// Step 5.
		if p.acc.len() < expected {
			return Frame{}, outcomeNone
		}

		// Step 6.
		if p.acc.at(expected-1) != eop {
			p.resync()
			return Frame{}, outcomeNoSync
		}

		// Step 7.
		full := p.acc.head(expected)
		p.acc.drop(expected)
		return Frame{Command: cmd, Payload: full[1 : expected-1]}, outcomeFrame
	}
}

// expectedLength resolves the total frame length for the command currently
// at the head, or ok=false if the command is unknown or (for PROG_PAGE) its
// size header is malformed.
func (p *FrameParser) expectedLength(cmd byte) (int, bool) {
	if cmd == cmdProgPage {
		if p.acc.len() < 4 {
			return 0, false
		}
		size := int(p.acc.at(1))<<8 | int(p.acc.at(2))
		if size < 0 || size > 256 {
			return 0, false
		}
		return 1 + 3 + size + 1, true
	}

	if !knownCommands.Get(int(cmd)) {
		return 0, false
	}

	n, ok := fixedFrameLengths[cmd]
	return n, ok
}

// resync drops up to and including the next EOP in the buffer, or a single
// byte if none is found (spec §4.4 step 6).
func (p *FrameParser) resync() {
	for i := 0; i < p.acc.len(); i++ {
		if p.acc.at(i) == eop {
			p.acc.drop(i + 1)
			return
		}
	}
	p.acc.drop(1)
}
