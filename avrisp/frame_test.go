package avrisp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameParserFixedLengthCommand(t *testing.T) {
	p := NewFrameParser()
	p.Feed([]byte{cmdGetSync, eop})

	frame, outcome := p.TryParse()
	require.Equal(t, outcomeFrame, outcome)
	require.Equal(t, byte(cmdGetSync), frame.Command)
	require.Empty(t, frame.Payload)

	_, outcome = p.TryParse()
	require.Equal(t, outcomeNone, outcome)
}

func TestFrameParserWaitsForMoreBytes(t *testing.T) {
	p := NewFrameParser()
	p.Feed([]byte{cmdSetParameter, 0x01})

	_, outcome := p.TryParse()
	require.Equal(t, outcomeNone, outcome)

	p.Feed([]byte{0x02, eop})
	frame, outcome := p.TryParse()
	require.Equal(t, outcomeFrame, outcome)
	require.Equal(t, []byte{0x01, 0x02}, frame.Payload)
}

func TestFrameParserDropsStrayEOP(t *testing.T) {
	p := NewFrameParser()
	p.Feed([]byte{eop, eop, cmdGetSync, eop})

	frame, outcome := p.TryParse()
	require.Equal(t, outcomeFrame, outcome)
	require.Equal(t, byte(cmdGetSync), frame.Command)
}

func TestFrameParserDropsUnknownCommand(t *testing.T) {
	p := NewFrameParser()
	p.Feed([]byte{0xFF, cmdGetSync, eop})

	_, outcome := p.TryParse()
	require.Equal(t, outcomeDropped, outcome)

	frame, outcome := p.TryParse()
	require.Equal(t, outcomeFrame, outcome)
	require.Equal(t, byte(cmdGetSync), frame.Command)
}

func TestFrameParserNoSyncOnMissingEOP(t *testing.T) {
	p := NewFrameParser()
	// GET_SYNC expects total length 2 (cmd + eop); feed a non-EOP second byte.
	p.Feed([]byte{cmdGetSync, 0x99, cmdGetSync, eop})

	_, outcome := p.TryParse()
	require.Equal(t, outcomeNoSync, outcome)

	// resync should have dropped through the next EOP, leaving nothing valid.
	_, outcome = p.TryParse()
	require.Equal(t, outcomeNone, outcome)
}

func TestFrameParserProgPageSizeHeader(t *testing.T) {
	p := NewFrameParser()
	data := []byte{0x11, 0x22, 0x33, 0x44}
	frameBytes := []byte{cmdProgPage, 0x00, byte(len(data)), memTypeFlashUpper}
	frameBytes = append(frameBytes, data...)
	frameBytes = append(frameBytes, eop)

	p.Feed(frameBytes)
	frame, outcome := p.TryParse()
	require.Equal(t, outcomeFrame, outcome)
	require.Equal(t, byte(cmdProgPage), frame.Command)
	require.Len(t, frame.Payload, 3+len(data))
}

func TestFrameParserProgPageOversizeDesyncs(t *testing.T) {
	p := NewFrameParser()
	p.Feed([]byte{cmdProgPage, 0x01, 0x01, memTypeFlashUpper})

	_, outcome := p.TryParse()
	require.Equal(t, outcomeDropped, outcome)
}

func TestFrameParserRingAccumulatorDropsOnOverflow(t *testing.T) {
	acc := newRingAccumulator(4)
	dropped := acc.feed([]byte{1, 2, 3, 4, 5, 6})
	require.Equal(t, 2, dropped)
	require.Equal(t, 4, acc.len())
}
