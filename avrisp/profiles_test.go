package avrisp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyavr/avrispbridge/avrisp"
)

func TestLookupProfileMandatedEntries(t *testing.T) {
	profile, ok := avrisp.LookupProfile(avrisp.Signature{0x1E, 0x95, 0x0F})
	require.True(t, ok)
	require.Equal(t, "ATmega328P", profile.Name)
	require.EqualValues(t, 32768, profile.FlashBytes)
	require.EqualValues(t, 128, profile.PageBytes)

	profile, ok = avrisp.LookupProfile(avrisp.Signature{0x1E, 0x93, 0x0B})
	require.True(t, ok)
	require.Equal(t, "ATtiny85", profile.Name)
	require.EqualValues(t, 8192, profile.FlashBytes)
	require.EqualValues(t, 64, profile.PageBytes)
}

func TestLookupProfileMiss(t *testing.T) {
	_, ok := avrisp.LookupProfile(avrisp.Signature{0xFF, 0xFF, 0xFF})
	require.False(t, ok)
}

func TestSignatureString(t *testing.T) {
	sig := avrisp.Signature{0x1E, 0x95, 0x0F}
	require.Equal(t, "1E 95 0F", sig.String())
}
