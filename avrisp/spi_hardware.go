package avrisp

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// HardwareSPI wraps a periph.io SPI port and a GPIO RESET line. Grounded
// on other_examples/gentam-gice's FT232H wiring (spi.Conn + gpio.PinIO +
// physic.Frequency + host.Init()), generalized from one FTDI adapter to
// whichever SPI port and GPIO pin periph.io's registries resolve by name.
type HardwareSPI struct {
	port  spi.PortCloser
	conn  spi.Conn
	reset gpio.PinIO

	mu    sync.Mutex
	speed physic.Frequency
}

// NewHardwareSPI opens spiName (e.g. "/dev/spidev0.0") and resetPinName
// (e.g. "GPIO25") through periph.io's registries.
func NewHardwareSPI(spiName, resetPinName string) (*HardwareSPI, error) {
	if err := ensureHostInit(); err != nil {
		return nil, fmt.Errorf("periph.io host init: %w", err)
	}

	port, err := spireg.Open(spiName)
	if err != nil {
		return nil, fmt.Errorf("open spi port %s: %w", spiName, err)
	}

	reset := gpioreg.ByName(resetPinName)
	if reset == nil {
		port.Close()
		return nil, fmt.Errorf("gpio pin %s not found", resetPinName)
	}

	return &HardwareSPI{port: port, reset: reset, speed: 100 * physic.KiloHertz}, nil
}

func (h *HardwareSPI) Init() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset.Out(gpio.High); err != nil {
		return err
	}

	return h.connectLocked()
}

func (h *HardwareSPI) connectLocked() error {
	freq := h.speed
	if freq == 0 {
		freq = 100 * physic.KiloHertz
	}

	conn, err := h.port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		return fmt.Errorf("connect spi: %w", err)
	}
	h.conn = conn
	return nil
}

func (h *HardwareSPI) Transfer(tx [4]byte) ([4]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var rx [4]byte
	if h.conn == nil {
		return rx, fmt.Errorf("spi port not initialized")
	}
	if err := h.conn.Tx(tx[:], rx[:]); err != nil {
		return rx, err
	}
	return rx, nil
}

func (h *HardwareSPI) ResetAssert() error  { return h.reset.Out(gpio.Low) }
func (h *HardwareSPI) ResetRelease() error { return h.reset.Out(gpio.High) }

func (h *HardwareSPI) ResetPulse() error {
	if err := h.ResetRelease(); err != nil {
		return err
	}
	sleepMs(resetPulseDuration)
	if err := h.ResetAssert(); err != nil {
		return err
	}
	sleepMs(resetPulseDuration)
	return nil
}

// SetSpeed sets the SPI clock to 1/(2*halfPeriodUs) and reconnects the port
// at that clock right away; a half-period of 0 is ignored.
func (h *HardwareSPI) SetSpeed(halfPeriodUs uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if halfPeriodUs == 0 {
		return
	}
	hz := 1000000 / (2 * halfPeriodUs)
	h.speed = physic.Frequency(hz) * physic.Hertz
	_ = h.connectLocked()
}

func (h *HardwareSPI) GetSpeed() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.speed == 0 {
		return 0
	}
	hz := uint32(h.speed / physic.Hertz)
	if hz == 0 {
		return 0
	}
	return 1000000 / (2 * hz)
}

// Close releases the underlying SPI port.
func (h *HardwareSPI) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port.Close()
}
