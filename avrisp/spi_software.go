package avrisp

import (
	"fmt"
	"sync"
	"time"
)

// SoftwareSPI bit-bangs a 4-byte mode-0 MSB-first transaction over four
// independently addressable GPIO lines. Adapted from the bit-banged/
// hardware split in other_examples' tinygo SPI HAL (SoftwareSPIDriver),
// generalized from board-specific pins to the GPIOPin interface.
type SoftwareSPI struct {
	mosi, miso, sck, reset GPIOPin

	mu           sync.Mutex
	halfPeriodUs uint32
}

// NewSoftwareSPIFromPinNames resolves four periph.io gpio pin names and
// builds a bit-banged SoftwareSPI over them, for deployments without a
// dedicated SPI peripheral wired to the target.
func NewSoftwareSPIFromPinNames(mosiName, misoName, sckName, resetName string) (*SoftwareSPI, error) {
	mosi, err := NewPeriphGPIOPin(mosiName)
	if err != nil {
		return nil, fmt.Errorf("mosi pin: %w", err)
	}
	miso, err := NewPeriphGPIOPin(misoName)
	if err != nil {
		return nil, fmt.Errorf("miso pin: %w", err)
	}
	sck, err := NewPeriphGPIOPin(sckName)
	if err != nil {
		return nil, fmt.Errorf("sck pin: %w", err)
	}
	reset, err := NewPeriphGPIOPin(resetName)
	if err != nil {
		return nil, fmt.Errorf("reset pin: %w", err)
	}
	return NewSoftwareSPI(mosi, miso, sck, reset), nil
}

// NewSoftwareSPI builds a bit-banged SPILink over the given lines.
func NewSoftwareSPI(mosi, miso, sck, reset GPIOPin) *SoftwareSPI {
	return &SoftwareSPI{
		mosi: mosi, miso: miso, sck: sck, reset: reset,
		halfPeriodUs: defaultBitHalfPeriodUs,
	}
}

func (s *SoftwareSPI) Init() error {
	if err := s.sck.SetOutput(false); err != nil {
		return err
	}
	if err := s.mosi.SetOutput(false); err != nil {
		return err
	}
	if err := s.reset.SetOutput(true); err != nil {
		return err
	}
	return s.miso.SetInputPullup()
}

func (s *SoftwareSPI) halfPeriod() {
	time.Sleep(time.Duration(s.halfPeriodUs) * time.Microsecond)
}

func (s *SoftwareSPI) Transfer(tx [4]byte) ([4]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rx [4]byte

	for i, txByte := range tx {
		var rxByte byte

		for bit := 7; bit >= 0; bit-- {
			if err := s.mosi.Set((txByte>>bit)&1 == 1); err != nil {
				return rx, err
			}

			s.halfPeriod()

			if err := s.sck.Set(true); err != nil {
				return rx, err
			}

			level, err := s.miso.Get()
			if err != nil {
				return rx, err
			}
			if level {
				rxByte |= 1 << bit
			}

			s.halfPeriod()

			if err := s.sck.Set(false); err != nil {
				return rx, err
			}
		}

		rx[i] = rxByte
	}

	return rx, nil
}

func (s *SoftwareSPI) ResetAssert() error  { return s.reset.Set(false) }
func (s *SoftwareSPI) ResetRelease() error { return s.reset.Set(true) }

func (s *SoftwareSPI) ResetPulse() error {
	if err := s.ResetRelease(); err != nil {
		return err
	}
	sleepMs(resetPulseDuration)
	if err := s.ResetAssert(); err != nil {
		return err
	}
	sleepMs(resetPulseDuration)
	return nil
}

func (s *SoftwareSPI) SetSpeed(halfPeriodUs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halfPeriodUs = halfPeriodUs
}

func (s *SoftwareSPI) GetSpeed() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halfPeriodUs
}
