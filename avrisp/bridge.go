package avrisp

import (
	"context"
	"time"
)

// Bridge wires C6 (host I/O) through C4 (frame parser) into C5
// (dispatcher), which drives C2/C1 against the target. It is the single
// object a command-line front end constructs and runs, the same role
// NewStLink plays for the teacher's usbtest tool.
type Bridge struct {
	io     HostIO
	parser *FrameParser
	disp   *Dispatcher

	pollInterval time.Duration
}

// NewBridge builds a Bridge over an already-open HostIO and an already
// Init()-ed SPILink.
func NewBridge(io HostIO, link SPILink) *Bridge {
	return &Bridge{
		io:           io,
		parser:       NewFrameParser(),
		disp:         NewDispatcher(NewISPDriver(link)),
		pollInterval: 2 * time.Millisecond,
	}
}

// State exposes the dispatcher's session state, e.g. for a verbose CLI to
// report in_programming_mode.
func (b *Bridge) State() *ProgrammerState {
	return b.disp.State()
}

// SetEraseCeiling overrides the chip-erase safety limit on the ISPDriver
// this Bridge constructed, so a CLI flag can make the ceiling configurable
// instead of silently falling back to the built-in default.
func (b *Bridge) SetEraseCeiling(ceiling uint32) {
	b.disp.isp.SetEraseCeiling(ceiling)
}

// Run drains HostIO into the frame parser and dispatches decoded frames
// until ctx is cancelled or the dispatcher halts at the chip-erase ceiling
// (then it returns an ErrEraseCeilingHit BridgeError), implementing the
// single-threaded cooperative
// event loop from spec §5: service I/O, drain into C4, parse and dispatch.
// There is no preemption and no internal timeout; the loop idles between
// polls rather than busy-spinning.
func (b *Bridge) Run(ctx context.Context) error {
	chunk := make([]byte, 256)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if n := b.io.Poll(); n > 0 {
			if n > len(chunk) {
				n = len(chunk)
			}
			got := b.io.Read(chunk[:n])
			if dropped := b.parser.Feed(chunk[:got]); dropped > 0 {
				logger.Warnf("rx_accum full, dropped %d bytes", dropped)
			}
		}

		didWork := b.drainFrames()

		if b.disp.Halted() {
			return NewBridgeError(ErrEraseCeilingHit, "chip-erase ceiling reached, programmer halted")
		}

		if !didWork {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.pollInterval):
			}
		}
	}
}

// drainFrames repeatedly pulls decoded frames (or framing-error
// indications) out of the parser until it reports outcomeNone or the
// dispatcher halts, writing
// each resulting response before the next frame is parsed (spec §4.4's
// ordering guarantee). It returns true if any work was done this call, so
// Run can skip its idle sleep.
func (b *Bridge) drainFrames() bool {
	didWork := false

	for {
		frame, outcome := b.parser.TryParse()

		switch outcome {
		case outcomeNone:
			return didWork

		case outcomeDropped:
			didWork = true
			continue

		case outcomeNoSync:
			didWork = true
			b.io.Write(noSyncFrame())
			if err := b.io.Flush(); err != nil {
				logger.Errorf("flush after NOSYNC failed: %v", err)
			}
			continue

		case outcomeFrame:
			didWork = true
			resp := b.disp.Dispatch(frame.Command, frame.Payload)
			b.io.Write(resp)
			if err := b.io.Flush(); err != nil {
				logger.Errorf("flush after 0x%02X failed: %v", frame.Command, err)
			}
			if b.disp.Halted() {
				return didWork
			}
			continue
		}
	}
}
