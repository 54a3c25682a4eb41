//go:build baremetal

package transports

import (
	"errors"
	"fmt"
	"machine"
	"time"
)

// MCUTransport adapts a TinyGo machine.UART to the Transport interface for
// baremetal targets: the UART's blocking Read/Write already behave like a
// byte stream, so the wrapper only needs to add the timeout/flush surface
// Transport requires.
type MCUTransport struct {
	*machine.UART
}

// SerialConfig configures a UART-backed transport.
type SerialConfig struct {
	Port     string
	BaudRate int
	Timeout  time.Duration
}

var currentTransport MCUTransport

// OpenSerial selects a UART by index ("0" or "1") and configures its baud
// rate. TinyGo's machine package exposes a fixed set of UART peripherals
// rather than enumerable device paths, so unlike OpenSerial's OS
// counterpart there is no port-listing equivalent here.
func OpenSerial(cfg SerialConfig) (*MCUTransport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	switch cfg.Port {
	case "0":
		currentTransport = MCUTransport{machine.UART0}
	case "1":
		currentTransport = MCUTransport{machine.UART1}
	default:
		return nil, fmt.Errorf("unknown UART %q", cfg.Port)
	}

	currentTransport.SetBaudRate(uint32(cfg.BaudRate))
	return &currentTransport, nil
}

// SetReadTimeout is a no-op: the UART's Read already blocks per the
// peripheral's own buffering rather than an adjustable deadline.
func (t *MCUTransport) SetReadTimeout(timeout time.Duration) error {
	return nil
}

// Close is a no-op: the UART peripheral has no session to tear down.
func (t *MCUTransport) Close() error {
	return nil
}

// Flush is a no-op: the UART has no separate discard-buffered-input call.
func (t *MCUTransport) Flush() error {
	return nil
}
