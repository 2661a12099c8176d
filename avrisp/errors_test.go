package avrisp_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyavr/avrispbridge/avrisp"
)

func TestBridgeErrorFormatting(t *testing.T) {
	err := avrisp.NewBridgeError(avrisp.ErrBadPayloadShape, "size %d exceeds page", 300)
	require.EqualError(t, err, "bad payload shape: size 300 exceeds page")
}

func TestKindOfExtractsBridgeError(t *testing.T) {
	err := avrisp.NewBridgeError(avrisp.ErrEraseCeilingHit, "ceiling reached")
	require.Equal(t, avrisp.ErrEraseCeilingHit, avrisp.KindOf(err))
}

func TestKindOfNonBridgeError(t *testing.T) {
	require.Equal(t, avrisp.ErrNone, avrisp.KindOf(errors.New("plain")))
	require.Equal(t, avrisp.ErrNone, avrisp.KindOf(nil))
}
