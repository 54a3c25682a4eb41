package mercury

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport- and caller-level failure modes in the
// error taxonomy. Device-reported failures are carried as ErrorBits instead,
// since they come from the wire, not from Go-level preconditions.
var (
	ErrTimeout         = errors.New("no reply within the configured timeout")
	ErrNoResponse      = errors.New("no response received from device")
	ErrInvalidPacket   = errors.New("malformed instruction packet")
	ErrBusClosed       = errors.New("bus is closed")
	ErrInvalidID       = errors.New("invalid device id")
	ErrPortBusy        = errors.New("transaction already in flight on this port")
	ErrUnsupported     = errors.New("operation not supported by this protocol")
	ErrBroadcastRead   = errors.New("read instructions cannot target the broadcast id")
	ErrNoReplyAck      = errors.New("read instructions require a reply-expecting ack policy")
	ErrUnknownRegister = errors.New("register not present in this device's family")

	// ErrRxCorrupt marks a status frame that can never validate: no 0xFF
	// 0xFF header in the buffer, a length field outside the legal frame
	// size range, or a checksum mismatch over an already-complete frame.
	ErrRxCorrupt = errors.New("corrupt status frame")
)

// CommError wraps a transport-level failure (write, read, or framing) that
// is not specific to one device.
type CommError struct {
	Op     string
	Status Status
	Err    error
}

func (e *CommError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mercury: %s: %s: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("mercury: %s: %s", e.Op, e.Status)
}

func (e *CommError) Unwrap() error { return e.Err }

// ServoError wraps a failure attributable to a specific device id, either a
// transport failure or a device-reported error bitfield.
type ServoError struct {
	ID     byte
	Op     string
	Status Status
	Bits   ErrorBits
	Err    error
}

func (e *ServoError) Error() string {
	if e.Bits.HasError() {
		return fmt.Sprintf("mercury: device %d %s: %s", e.ID, e.Op, e.Bits.Error())
	}
	if e.Err != nil {
		return fmt.Sprintf("mercury: device %d %s: %s: %v", e.ID, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("mercury: device %d %s: %s", e.ID, e.Op, e.Status)
}

func (e *ServoError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// AsServoError extracts a *ServoError from err's chain, if present.
func AsServoError(err error) (*ServoError, bool) {
	var se *ServoError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
