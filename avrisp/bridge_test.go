package avrisp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeHostIO is an in-memory HostIO for exercising Bridge.Run without a
// real serial port.
type fakeHostIO struct {
	in  []byte
	out []byte
}

func (f *fakeHostIO) Poll() int { return len(f.in) }

func (f *fakeHostIO) Read(into []byte) int {
	n := copy(into, f.in)
	f.in = f.in[n:]
	return n
}

func (f *fakeHostIO) WriteByte(b byte) { f.out = append(f.out, b) }
func (f *fakeHostIO) Write(data []byte) { f.out = append(f.out, data...) }
func (f *fakeHostIO) Flush() error      { return nil }
func (f *fakeHostIO) Close() error      { return nil }

func TestBridgeRunDispatchesOneFrame(t *testing.T) {
	io := &fakeHostIO{in: []byte{cmdGetSignOn, eop}}
	link := newFakeSPILink()
	b := NewBridge(io, link)
	b.pollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_ = b.Run(ctx)

	expected := append([]byte{respInSync}, append(append([]byte{}, signOnPayload...), respOK)...)
	require.Equal(t, expected, io.out)
}

func TestBridgeRunHaltsOnEraseCeiling(t *testing.T) {
	io := &fakeHostIO{in: []byte{cmdEnterProgMode, eop, cmdChipErase, eop}}
	link := newFakeSPILink()
	b := NewBridge(io, link)
	b.pollInterval = time.Millisecond
	b.SetEraseCeiling(1)
	b.disp.isp.eraseCount = 1

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := b.Run(ctx)
	require.Error(t, err)
	require.Equal(t, ErrEraseCeilingHit, KindOf(err))
	require.True(t, b.disp.Halted())
}
