package avrisp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSPILink is an in-memory SPILink stand-in that scripts programming-enable
// echo behaviour and records every transfer.
type fakeSPILink struct {
	resetAsserted bool
	speed         uint32

	progEnableFailures int // number of times to return a bad echo before succeeding
	transfers          [][4]byte

	flashLow, flashHigh map[uint16]byte
	pageBuf             map[uint16]uint16
	signature           Signature
	universalReply      byte
}

func newFakeSPILink() *fakeSPILink {
	return &fakeSPILink{
		flashLow:  map[uint16]byte{},
		flashHigh: map[uint16]byte{},
		pageBuf:   map[uint16]uint16{},
	}
}

func (f *fakeSPILink) Init() error { return nil }

func (f *fakeSPILink) Transfer(tx [4]byte) ([4]byte, error) {
	f.transfers = append(f.transfers, tx)
	var rx [4]byte

	switch {
	case tx == ispProgrammingEnable:
		if f.progEnableFailures > 0 {
			f.progEnableFailures--
			rx[2] = 0x00
			return rx, nil
		}
		rx[2] = ispProgrammingEnableEcho
		return rx, nil

	case tx[0] == 0x30: // read signature
		rx[3] = f.signature[tx[2]]
		return rx, nil

	case tx[0] == 0x40: // load page low
		word := uint16(tx[1])<<8 | uint16(tx[2])
		f.pageBuf[word] = (f.pageBuf[word] &^ 0x00FF) | uint16(tx[3])
		return rx, nil

	case tx[0] == 0x48: // load page high
		word := uint16(tx[1])<<8 | uint16(tx[2])
		f.pageBuf[word] = (f.pageBuf[word] &^ 0xFF00) | uint16(tx[3])<<8
		return rx, nil

	case tx[0] == 0x20: // read program low
		addr := uint16(tx[1])<<8 | uint16(tx[2])
		rx[3] = f.flashLow[addr]
		return rx, nil

	case tx[0] == 0x28: // read program high
		addr := uint16(tx[1])<<8 | uint16(tx[2])
		rx[3] = f.flashHigh[addr]
		return rx, nil

	case tx == ispChipErase:
		return rx, nil

	default:
		rx[3] = f.universalReply
		return rx, nil
	}
}

func (f *fakeSPILink) ResetAssert() error  { f.resetAsserted = true; return nil }
func (f *fakeSPILink) ResetRelease() error { f.resetAsserted = false; return nil }
func (f *fakeSPILink) ResetPulse() error   { return nil }
func (f *fakeSPILink) SetSpeed(us uint32)  { f.speed = us }
func (f *fakeSPILink) GetSpeed() uint32    { return f.speed }

func TestEnterProgrammingModeSucceedsImmediately(t *testing.T) {
	link := newFakeSPILink()
	d := NewISPDriver(link)

	require.NoError(t, d.EnterProgrammingMode())
}

func TestEnterProgrammingModeRetriesThenSucceeds(t *testing.T) {
	link := newFakeSPILink()
	link.progEnableFailures = 3
	d := NewISPDriver(link)

	require.NoError(t, d.EnterProgrammingMode())
}

func TestEnterProgrammingModeExhaustsRetries(t *testing.T) {
	link := newFakeSPILink()
	link.progEnableFailures = progEnableRetries + 1
	d := NewISPDriver(link)

	err := d.EnterProgrammingMode()
	require.Error(t, err)
	require.Equal(t, ErrProgModeEntryFailed, KindOf(err))
}

func TestReadSignature(t *testing.T) {
	link := newFakeSPILink()
	link.signature = Signature{0x1E, 0x95, 0x0F}
	d := NewISPDriver(link)

	sig, err := d.ReadSignature()
	require.NoError(t, err)
	require.Equal(t, Signature{0x1E, 0x95, 0x0F}, sig)
}

func TestChipEraseIncrementsCounter(t *testing.T) {
	link := newFakeSPILink()
	d := NewISPDriver(link)

	require.NoError(t, d.ChipErase())
	require.EqualValues(t, 1, d.EraseCount())
}

func TestChipEraseHaltsAtCeiling(t *testing.T) {
	link := newFakeSPILink()
	d := NewISPDriver(link)
	d.eraseCount = eraseCeiling

	err := d.ChipErase()
	require.Error(t, err)
	require.Equal(t, ErrEraseCeilingHit, KindOf(err))
	require.EqualValues(t, eraseCeiling, d.EraseCount())
}

func TestSetEraseCeilingOverridesDefault(t *testing.T) {
	link := newFakeSPILink()
	d := NewISPDriver(link)
	d.SetEraseCeiling(1)
	d.eraseCount = 1

	err := d.ChipErase()
	require.Error(t, err)
	require.Equal(t, ErrEraseCeilingHit, KindOf(err))
}

func TestSetEraseCeilingIgnoresZero(t *testing.T) {
	link := newFakeSPILink()
	d := NewISPDriver(link)
	d.SetEraseCeiling(0)

	require.EqualValues(t, eraseCeiling, d.eraseCeiling)
}

func TestLoadPageBufferWordAndCommit(t *testing.T) {
	link := newFakeSPILink()
	d := NewISPDriver(link)

	require.NoError(t, d.LoadPageBufferWord(0, 0xBEEF))
	require.NoError(t, d.CommitPage(0))
	require.EqualValues(t, 0xBEEF, link.pageBuf[0])
}

func TestReadProgramWordAndVerifyRange(t *testing.T) {
	link := newFakeSPILink()
	link.flashLow[0] = 0xCD
	link.flashHigh[0] = 0xAB
	d := NewISPDriver(link)

	word, err := d.ReadProgramWord(0)
	require.NoError(t, err)
	require.EqualValues(t, 0xABCD, word)

	ok, err := d.VerifyRange(0, []uint16{0xABCD})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.VerifyRange(0, []uint16{0x1234})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUniversalReturnsFourthByte(t *testing.T) {
	link := newFakeSPILink()
	link.universalReply = 0x42
	d := NewISPDriver(link)

	b, err := d.Universal([4]byte{0x58, 0x00, 0x00, 0x00})
	require.NoError(t, err)
	require.Equal(t, byte(0x42), b)
}
