package avrisp

import "fmt"

// ISPDriver issues AVR serial-programming opcodes over an SPILink. It holds
// no protocol-level state (that is C5's job); the only state it owns is the
// erase ceiling counter, mirroring how the teacher's debugger.go kept retry
// bookkeeping local to the operation that needed it rather than pushed up
// into the caller.
type ISPDriver struct {
	link SPILink

	eraseCount   uint32
	eraseCeiling uint32
}

// NewISPDriver wraps link. link.Init() must already have been called. The
// erase ceiling defaults to eraseCeiling (spec §3.5); callers that need a
// different limit (e.g. a CLI flag) should call SetEraseCeiling.
func NewISPDriver(link SPILink) *ISPDriver {
	return &ISPDriver{link: link, eraseCeiling: eraseCeiling}
}

// SetEraseCeiling overrides the chip-erase safety limit. A ceiling of 0 is
// rejected (silently keeping the previous value) since it would make
// ChipErase permanently fail.
func (d *ISPDriver) SetEraseCeiling(ceiling uint32) {
	if ceiling == 0 {
		return
	}
	d.eraseCeiling = ceiling
}

// EraseCount reports the number of chip erases performed this session.
func (d *ISPDriver) EraseCount() uint32 {
	return d.eraseCount
}

// EnterProgrammingMode toggles RESET and sends the programming-enable
// sequence, retrying up to progEnableRetries times with a progEnableBackoff
// back-off and a fresh RESET toggle between attempts (spec §4.2).
func (d *ISPDriver) EnterProgrammingMode() error {
	var lastErr error

	for attempt := 0; attempt < progEnableRetries; attempt++ {
		if err := d.link.ResetRelease(); err != nil {
			return err
		}
		sleepMs(1)
		if err := d.link.ResetAssert(); err != nil {
			return err
		}
		sleepMs(1)

		rx, err := d.link.Transfer(ispProgrammingEnable)
		if err != nil {
			lastErr = err
			sleepMs(progEnableBackoff)
			continue
		}

		if rx[2] == ispProgrammingEnableEcho {
			return nil
		}

		logger.Debugf("programming-enable echo mismatch on attempt %d: got 0x%02X", attempt, rx[2])
		sleepMs(progEnableBackoff)
	}

	if lastErr != nil {
		return NewBridgeError(ErrProgModeEntryFailed, "programming-enable exhausted %d retries: %v", progEnableRetries, lastErr)
	}
	return NewBridgeError(ErrProgModeEntryFailed, "programming-enable exhausted %d retries: echo never matched", progEnableRetries)
}

// LeaveProgrammingMode releases RESET and waits a brief settle delay.
func (d *ISPDriver) LeaveProgrammingMode() error {
	if err := d.link.ResetRelease(); err != nil {
		return err
	}
	sleepMs(pageCommitSettle)
	return nil
}

// ReadSignature reads the three signature bytes at indices 0, 1, 2.
func (d *ISPDriver) ReadSignature() (Signature, error) {
	var sig Signature
	for i := byte(0); i < 3; i++ {
		rx, err := d.link.Transfer(ispReadSignature(i))
		if err != nil {
			return sig, err
		}
		sig[i] = rx[3]
	}
	return sig, nil
}

// ChipErase issues the chip-erase opcode, guarded by eraseCeiling (spec
// §3.5/§4.2). Exceeding the ceiling is a deliberate, unrecoverable halt: the
// caller (C5) is expected to stop dispatching entirely.
func (d *ISPDriver) ChipErase() error {
	if d.eraseCount >= d.eraseCeiling {
		return NewBridgeError(ErrEraseCeilingHit, "chip-erase ceiling of %d reached", d.eraseCeiling)
	}

	if _, err := d.link.Transfer(ispChipErase); err != nil {
		return err
	}
	sleepMs(chipEraseSettle)
	d.eraseCount++
	return nil
}

// LoadPageBufferWord loads one word into the target's temporary page
// buffer at wordIndex (offset in words from page start).
func (d *ISPDriver) LoadPageBufferWord(wordIndex uint16, word uint16) error {
	lo, hi := splitWordLE(word)
	if _, err := d.link.Transfer(ispLoadPageLow(wordIndex, lo)); err != nil {
		return err
	}
	if _, err := d.link.Transfer(ispLoadPageHigh(wordIndex, hi)); err != nil {
		return err
	}
	return nil
}

// CommitPage writes the temporary page buffer to flash at the page
// containing wordAddress, then waits for the flash write to settle.
func (d *ISPDriver) CommitPage(wordAddress uint16) error {
	if _, err := d.link.Transfer(ispWritePage(wordAddress)); err != nil {
		return err
	}
	sleepMs(pageCommitSettle)
	return nil
}

// ReadProgramWord reads the low and high bytes at wordAddress and combines
// them little-endian-in-word.
func (d *ISPDriver) ReadProgramWord(wordAddress uint16) (uint16, error) {
	lo, err := d.link.Transfer(ispReadProgramLow(wordAddress))
	if err != nil {
		return 0, err
	}
	hi, err := d.link.Transfer(ispReadProgramHigh(wordAddress))
	if err != nil {
		return 0, err
	}
	return wordLE(lo[3], hi[3]), nil
}

// VerifyRange reads back len(expected) words starting at startWord and
// compares against expected, stopping at the first mismatch.
func (d *ISPDriver) VerifyRange(startWord uint16, expected []uint16) (bool, error) {
	for i, want := range expected {
		got, err := d.ReadProgramWord(startWord + uint16(i))
		if err != nil {
			return false, err
		}
		if got != want {
			return false, nil
		}
	}
	return true, nil
}

// Universal passes cmd through verbatim and returns the fourth response
// byte, used by the host tool to read fuses and lock bits.
func (d *ISPDriver) Universal(cmd [4]byte) (byte, error) {
	rx, err := d.link.Transfer(cmd)
	if err != nil {
		return 0, err
	}
	return rx[3], nil
}

func (d *ISPDriver) String() string {
	return fmt.Sprintf("ISPDriver{eraseCount=%d}", d.eraseCount)
}
