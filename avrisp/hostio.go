package avrisp

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// HostIO is C6's contract: non-blocking byte plumbing to whatever carries
// the USB-CDC bytes (spec §4.6). Poll/Read/Write never block the event
// loop; the underlying transport's own blocking I/O is pushed onto a
// background reader goroutine that just fills a buffer.
type HostIO interface {
	// Poll reports how many bytes are available to Read right now.
	Poll() int
	// Read consumes up to len(into) buffered bytes, returning how many
	// were copied. Returns 0 when nothing is buffered.
	Read(into []byte) int
	// WriteByte buffers a single byte for the next Flush.
	WriteByte(b byte)
	// Write buffers bytes for the next Flush.
	Write(data []byte)
	// Flush pushes buffered writes to the transport.
	Flush() error
	// Close releases the transport.
	Close() error
}

// serialHostIO backs HostIO with a go.bug.st/serial port, the same library
// arduino-arduino-fwuploader's flasher package opens its CDC connection
// through. Baud rate is meaningless over CDC-ACM (bytes pass through
// unchanged per spec §6) but the library requires one to be named.
type serialHostIO struct {
	port serial.Port

	readMu  sync.Mutex
	readBuf []byte

	writeMu  sync.Mutex
	writeBuf []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// baudRates mirrors the probing list arduino-arduino-fwuploader's openSerial tries in
// order; over CDC-ACM any of these opens cleanly, so the first usually wins.
var baudRates = []int{115200, 57600, 56000, 38400}

// OpenSerialHostIO opens portAddress, probing baudRates in order exactly as
// arduino-arduino-fwuploader's flasher.openSerial does, then starts a
// background reader goroutine feeding an internal buffer so Poll/Read never
// block the caller.
func OpenSerialHostIO(portAddress string) (HostIO, error) {
	var lastErr error
	var port serial.Port

	for _, rate := range baudRates {
		p, err := serial.Open(portAddress, &serial.Mode{BaudRate: rate})
		if err != nil {
			lastErr = err
			continue
		}
		logger.Infof("opened %s at %d baud", portAddress, rate)
		port = p
		break
	}
	if port == nil {
		return nil, fmt.Errorf("open serial port %s: %w", portAddress, lastErr)
	}

	h := &serialHostIO{port: port, closed: make(chan struct{})}
	go h.readLoop()
	return h, nil
}

func (h *serialHostIO) readLoop() {
	chunk := make([]byte, 256)
	for {
		n, err := h.port.Read(chunk)
		if n > 0 {
			h.readMu.Lock()
			h.readBuf = append(h.readBuf, chunk[:n]...)
			h.readMu.Unlock()
		}
		if err != nil {
			select {
			case <-h.closed:
			default:
				logger.Warnf("serial read loop exiting: %v", err)
			}
			return
		}
		select {
		case <-h.closed:
			return
		default:
		}
	}
}

func (h *serialHostIO) Poll() int {
	h.readMu.Lock()
	defer h.readMu.Unlock()
	return len(h.readBuf)
}

func (h *serialHostIO) Read(into []byte) int {
	h.readMu.Lock()
	defer h.readMu.Unlock()

	n := copy(into, h.readBuf)
	h.readBuf = h.readBuf[n:]
	return n
}

func (h *serialHostIO) WriteByte(b byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.writeBuf = append(h.writeBuf, b)
}

func (h *serialHostIO) Write(data []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	h.writeBuf = append(h.writeBuf, data...)
}

func (h *serialHostIO) Flush() error {
	h.writeMu.Lock()
	pending := h.writeBuf
	h.writeBuf = nil
	h.writeMu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	_, err := h.port.Write(pending)
	return err
}

func (h *serialHostIO) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return h.port.Close()
}
