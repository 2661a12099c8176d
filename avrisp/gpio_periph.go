package avrisp

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostInitOnce sync.Once
var hostInitErr error

// ensureHostInit runs periph.io's driver registration exactly once,
// regardless of whether the hardware or software SPI backend triggers it
// first.
func ensureHostInit() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// periphGPIOPin adapts a periph.io gpio.PinIO to the GPIOPin interface, so
// the software-timed SPI backend can be driven by the same pin registry the
// hardware backend uses, rather than a second board-specific pin API.
type periphGPIOPin struct {
	pin gpio.PinIO
}

// NewPeriphGPIOPin resolves name through periph.io's gpio registry.
func NewPeriphGPIOPin(name string) (GPIOPin, error) {
	if err := ensureHostInit(); err != nil {
		return nil, fmt.Errorf("periph.io host init: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", name)
	}
	return &periphGPIOPin{pin: pin}, nil
}

func (p *periphGPIOPin) SetOutput(initialHigh bool) error {
	return p.pin.Out(levelOf(initialHigh))
}

func (p *periphGPIOPin) SetInputPullup() error {
	return p.pin.In(gpio.PullUp, gpio.NoEdge)
}

func (p *periphGPIOPin) Set(high bool) error {
	return p.pin.Out(levelOf(high))
}

func (p *periphGPIOPin) Get() (bool, error) {
	return p.pin.Read() == gpio.High, nil
}

func levelOf(high bool) gpio.Level {
	if high {
		return gpio.High
	}
	return gpio.Low
}
