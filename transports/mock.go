package transports

import (
	"io"
	"time"
)

// MockTransport implements Transport for testing, and knows how to build
// well-formed Mercury/Dynamixel-v1 status frames (header, id, length, error
// byte, parameters, checksum) so a test can script a device's replies at
// the register level instead of hand-assembling wire bytes.
type MockTransport struct {
	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	Closed      bool
	ReadTimeout time.Duration
	Flushed     bool

	// ReadFunc allows custom read behavior for complex tests, such as
	// scripting a distinct reply per instruction already captured in
	// WriteData.
	ReadFunc func(p []byte) (int, error)
}

func (m *MockTransport) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	return len(p), nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

func (m *MockTransport) Flush() error {
	m.Flushed = true
	// Don't clear ReadData - tests need to preserve mock response data
	return nil
}

// statusChecksum computes the v1 status-frame checksum: the one's
// complement of the sum of every byte from id through the last parameter.
func statusChecksum(idThroughParams []byte) byte {
	var sum byte
	for _, b := range idThroughParams {
		sum += b
	}
	return ^sum
}

// QueueStatus appends a well-formed status frame reporting errBits and
// params from device id to ReadData, ready for the next Read to return it.
// Calling this repeatedly queues replies in order, matching how a real
// chained bus delivers one status frame per instruction sent to it.
func (m *MockTransport) QueueStatus(id, errBits byte, params []byte) {
	length := byte(len(params) + 2)
	frame := make([]byte, 0, 4+len(params)+1)
	frame = append(frame, 0xFF, 0xFF, id, length, errBits)
	frame = append(frame, params...)
	frame = append(frame, statusChecksum(frame[2:]))
	m.ReadData = append(m.ReadData, frame...)
}

// QueuePingReply queues the empty-parameter status frame a Ping instruction
// gets back from a responding device.
func (m *MockTransport) QueuePingReply(id byte) {
	m.QueueStatus(id, 0, nil)
}

// QueueWordReply queues a status frame carrying a little-endian 16-bit
// register value, the shape a Read instruction on a 2-byte register gets
// back.
func (m *MockTransport) QueueWordReply(id byte, value uint16) {
	m.QueueStatus(id, 0, []byte{byte(value), byte(value >> 8)})
}

// QueueByteReply queues a status frame carrying a single-byte register
// value.
func (m *MockTransport) QueueByteReply(id, value byte) {
	m.QueueStatus(id, 0, []byte{value})
}
