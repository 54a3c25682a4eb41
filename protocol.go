package mercury

import (
	"encoding/binary"
	"fmt"
)

// Instruction codes understood by the v1 Mercury wire protocol.
const (
	InstPing         byte = 0x01
	InstRead         byte = 0x02
	InstWrite        byte = 0x03
	InstRegWrite     byte = 0x04
	InstAction       byte = 0x05
	InstFactoryReset byte = 0x06
	InstSyncWrite    byte = 0x83
)

// BroadcastID addresses every device on the bus; MaxID is the highest
// individually addressable device id. ReservedMaxID is the lower bound
// some USB2AX-style adapters require, reserving id 253 for themselves.
const (
	BroadcastID   = 254
	MaxID         = 253
	ReservedMaxID = 252
)

const (
	headerByte1 = 0xFF
	headerByte2 = 0xFF

	// minFrameLen is the smallest legal frame: header(2) + id(1) + len(1) + instr/err(1) + checksum(1).
	minFrameLen = 6
	// maxFrameLen is the largest frame this protocol permits.
	maxFrameLen = 150
)

// ErrorBits is the status-frame error bitfield a device reports.
type ErrorBits byte

const (
	ErrBitVoltage     ErrorBits = 1 << 0
	ErrBitAngleLimit  ErrorBits = 1 << 1
	ErrBitOverheat    ErrorBits = 1 << 2
	ErrBitRange       ErrorBits = 1 << 3
	ErrBitChecksum    ErrorBits = 1 << 4
	ErrBitOverload    ErrorBits = 1 << 5
	ErrBitInstruction ErrorBits = 1 << 6
)

func (e ErrorBits) Error() string {
	if e == 0 {
		return "no error"
	}
	var msgs []string
	for _, f := range []struct {
		bit ErrorBits
		msg string
	}{
		{ErrBitVoltage, "voltage"},
		{ErrBitAngleLimit, "angle limit"},
		{ErrBitOverheat, "overheat"},
		{ErrBitRange, "range"},
		{ErrBitChecksum, "checksum"},
		{ErrBitOverload, "overload"},
		{ErrBitInstruction, "instruction"},
	} {
		if e&f.bit != 0 {
			msgs = append(msgs, f.msg)
		}
	}
	return fmt.Sprintf("device status error: %v", msgs)
}

// HasError reports whether any error bit is set.
func (e ErrorBits) HasError() bool {
	return e != 0
}

// Frame is a decoded instruction or status packet.
type Frame struct {
	ID          byte
	Instruction byte      // valid for instruction frames
	Error       ErrorBits // valid for status frames
	Parameters  []byte
}

// Protocol encodes and decodes wire frames for the v1 Mercury codec.
// Multi-byte register values are little-endian, matching the v1 wire format.
type Protocol struct {
	byteOrder binary.ByteOrder
}

// NewProtocol returns a v1 Mercury protocol codec.
func NewProtocol() *Protocol {
	return &Protocol{byteOrder: binary.LittleEndian}
}

// EncodeWord converts a 16-bit register value to wire bytes.
func (p *Protocol) EncodeWord(value uint16) []byte {
	buf := make([]byte, 2)
	p.byteOrder.PutUint16(buf, value)
	return buf
}

// DecodeWord converts wire bytes to a 16-bit register value.
func (p *Protocol) DecodeWord(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return p.byteOrder.Uint16(data)
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum
}

// EncodeInstruction builds a wire-format instruction frame.
func (p *Protocol) EncodeInstruction(id, instruction byte, params []byte) ([]byte, error) {
	total := minFrameLen + len(params)
	if total > maxFrameLen {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d byte limit", ErrInvalidPacket, total, maxFrameLen)
	}

	length := byte(len(params) + 2) // instruction + checksum
	buf := make([]byte, 0, total)
	buf = append(buf, headerByte1, headerByte2, id, length, instruction)
	buf = append(buf, params...)
	buf = append(buf, checksum(buf[2:]))
	return buf, nil
}

// DecodeStatus parses a status frame from data. It returns the frame, the
// number of bytes consumed, and an error classifying any framing defect.
//
// Before checksumming it asserts the byte count actually available for this
// frame matches the frame's own length field; a short buffer is treated as
// an incomplete frame (the caller should keep reading), while a checksum
// computed over a region longer than the frame actually carries is never
// attempted.
func (p *Protocol) DecodeStatus(data []byte) (Frame, int, error) {
	headerIdx := -1
	for i := 0; i+1 < len(data); i++ {
		if data[i] == headerByte1 && data[i+1] == headerByte2 {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return Frame{}, 0, ErrRxCorrupt
	}
	data = data[headerIdx:]

	if len(data) < 4 {
		return Frame{}, 0, errIncomplete
	}

	id := data[2]
	length := int(data[3])
	totalLen := 4 + length // header(2) + id(1) + len(1) + length bytes

	if totalLen < minFrameLen || totalLen > maxFrameLen {
		return Frame{}, 0, ErrRxCorrupt
	}
	if len(data) < totalLen {
		return Frame{}, 0, errIncomplete
	}

	expected := checksum(data[2 : totalLen-1])
	actual := data[totalLen-1]
	if expected != actual {
		return Frame{}, 0, ErrRxCorrupt
	}

	paramLen := length - 2
	var params []byte
	if paramLen > 0 {
		params = make([]byte, paramLen)
		copy(params, data[5:5+paramLen])
	}

	return Frame{
		ID:         id,
		Error:      ErrorBits(data[4]),
		Parameters: params,
	}, headerIdx + totalLen, nil
}

// errIncomplete signals that more bytes are needed before a frame can be
// validated; it never escapes the engine, which keeps reading on it and
// never records it as a transaction status.
var errIncomplete = fmt.Errorf("incomplete frame")

// PingFrame builds a ping instruction frame.
func (p *Protocol) PingFrame(id byte) ([]byte, error) {
	return p.EncodeInstruction(id, InstPing, nil)
}

// ReadFrame builds a read instruction frame.
func (p *Protocol) ReadFrame(id, address, length byte) ([]byte, error) {
	return p.EncodeInstruction(id, InstRead, []byte{address, length})
}

// WriteFrame builds a write instruction frame.
func (p *Protocol) WriteFrame(id, address byte, data []byte) ([]byte, error) {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)
	return p.EncodeInstruction(id, InstWrite, params)
}

// RegWriteFrame builds a buffered (deferred) write instruction frame.
func (p *Protocol) RegWriteFrame(id, address byte, data []byte) ([]byte, error) {
	params := make([]byte, 1+len(data))
	params[0] = address
	copy(params[1:], data)
	return p.EncodeInstruction(id, InstRegWrite, params)
}

// ActionFrame builds a broadcast action instruction frame, triggering every
// buffered RegWrite since the last Action.
func (p *Protocol) ActionFrame() ([]byte, error) {
	return p.EncodeInstruction(BroadcastID, InstAction, nil)
}

// FactoryResetFrame builds a factory-reset instruction frame.
func (p *Protocol) FactoryResetFrame(id byte) ([]byte, error) {
	return p.EncodeInstruction(id, InstFactoryReset, nil)
}

// SyncWriteFrame builds a broadcast sync-write instruction frame writing
// dataLen bytes at address to every id in servoData.
func (p *Protocol) SyncWriteFrame(address, dataLen byte, servoData map[byte][]byte) ([]byte, error) {
	params := make([]byte, 0, 2+len(servoData)*(1+int(dataLen)))
	params = append(params, address, dataLen)
	for id, data := range servoData {
		params = append(params, id)
		params = append(params, data...)
	}
	return p.EncodeInstruction(BroadcastID, InstSyncWrite, params)
}

// ExpectedStatusLength returns the wire length of a status frame carrying
// dataLen parameter bytes.
func ExpectedStatusLength(dataLen int) int {
	return minFrameLen + dataLen
}
