// Package avrisp translates STK500v1 frames from a host flasher tool into
// AVR serial-programming SPI transactions against a target held in reset.
package avrisp

import (
	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

const MaxLogLevel = logrus.DebugLevel

func init() {
	logger = logrus.New()
}

// SetLogger overrides the package-level logger, letting a host binary route
// avrisp's log lines through its own logging setup.
func SetLogger(instance *logrus.Logger) {
	logger = instance
}
