package avrisp

import "time"

// SPILink is the capability C2 depends on: a 4-byte full-duplex SPI
// transaction in mode 0, MSB first, plus control of the target's RESET
// line. Two implementations exist (spi_software.go, spi_hardware.go); C2
// never observes which one is wired in (spec §4.1/§9).
type SPILink interface {
	// Init configures MOSI/SCK/RESET as outputs (SCK idle low, RESET
	// released) and MISO as an input with weak pull-up.
	Init() error

	// Transfer exchanges 4 bytes full-duplex, mode 0, MSB first.
	Transfer(tx [4]byte) ([4]byte, error)

	ResetAssert() error
	ResetRelease() error
	ResetPulse() error

	// SetSpeed/GetSpeed adjust the bit half-period in microseconds. A
	// hardware-peripheral backend may treat SetSpeed as a no-op.
	SetSpeed(halfPeriodUs uint32)
	GetSpeed() uint32
}

// GPIOPin is a single digital output/input line, independent of which
// board or HAL exposes it. The software SPI backend is built from GPIOPin
// values rather than from board-specific register access; the hardware
// backend drives RESET through a periph.io gpio.PinIO directly. This matches spec §1's
// "GPIO setup for the RESET line... defined only by the interfaces" scope.
type GPIOPin interface {
	// SetOutput configures the pin as a driven output with the given
	// initial level (true = high).
	SetOutput(initialHigh bool) error
	// SetInputPullup configures the pin as an input with a weak pull-up.
	SetInputPullup() error
	// Set drives an output pin high (true) or low (false).
	Set(high bool) error
	// Get reads the current level of an input pin.
	Get() (bool, error)
}

const defaultBitHalfPeriodUs = 5 // ~100kHz, well inside the 50-200kHz band

func sleepMs(ms int) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
