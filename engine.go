package mercury

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Status is the per-transaction outcome the engine records after every
// call, mirroring the source protocol's comm-result codes rather than a
// plain Go error so the synchronizer can tally them without allocating.
type Status int

const (
	StatusUnknown Status = iota
	StatusTxSuccess
	StatusRxSuccess
	StatusRxWaiting
	StatusRxTimeout
	StatusRxCorrupt
	StatusRxFail
	StatusTxFail
	StatusTxError
)

func (s Status) String() string {
	switch s {
	case StatusTxSuccess:
		return "tx-success"
	case StatusRxSuccess:
		return "rx-success"
	case StatusRxWaiting:
		return "rx-waiting"
	case StatusRxTimeout:
		return "rx-timeout"
	case StatusRxCorrupt:
		return "rx-corrupt"
	case StatusRxFail:
		return "rx-fail"
	case StatusTxFail:
		return "tx-fail"
	case StatusTxError:
		return "tx-error"
	default:
		return "unknown"
	}
}

// Ok reports whether the status represents a completed, successful
// transaction (as opposed to any flavor of transport failure).
func (s Status) Ok() bool { return s == StatusTxSuccess || s == StatusRxSuccess }

// AckPolicy governs which instructions a device is expected to answer.
type AckPolicy int

const (
	AckDefault AckPolicy = iota // defer to the engine's configured policy
	AckNoReply
	AckReplyOnRead
	AckReplyOnAll
)

func (p AckPolicy) valid() bool {
	return p == AckNoReply || p == AckReplyOnRead || p == AckReplyOnAll
}

// minStatusFrameLen is the smallest legal status frame: header(2) + id(1) +
// len(1) + error(1) + checksum(1).
const minStatusFrameLen = 6

// Engine runs single-flight request/response transactions for one bus over
// one Transport. It owns the transaction lock described in §4.2: no two
// transactions on the same Engine ever overlap, and the lock is released on
// every exit path, success or failure.
type Engine struct {
	transport Transport
	protocol  *Protocol
	ackPolicy AckPolicy
	logger    *log.Logger

	mu            sync.Mutex
	lastStatus    Status
	lastSent      []byte
	lastReceived  []byte
	receivedCount int
	errorCount    int
}

// NewEngine returns an Engine driving transport with the given default ack
// policy. A nil logger defaults to log.Default().
func NewEngine(transport Transport, ackPolicy AckPolicy, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		transport: transport,
		protocol:  NewProtocol(),
		ackPolicy: ackPolicy,
		logger:    logger,
	}
}

// SetAckPolicy validates p directly against the closed range
// [AckNoReply, AckReplyOnAll] and, if valid, replaces the engine's default
// policy. This is the corrected form of the ack-policy-clamp defect in §9:
// the bound check never consults the previously configured value.
func (e *Engine) SetAckPolicy(p AckPolicy) error {
	if !p.valid() {
		return fmt.Errorf("mercury: invalid ack policy %d", p)
	}
	e.mu.Lock()
	e.ackPolicy = p
	e.mu.Unlock()
	return nil
}

// LastStatus returns the status recorded by the most recently completed
// transaction.
func (e *Engine) LastStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStatus
}

// ErrorCount returns the cumulative count of non-success transactions.
func (e *Engine) ErrorCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorCount
}

func (e *Engine) effectiveAck(override AckPolicy) AckPolicy {
	if override == AckDefault {
		return e.ackPolicy
	}
	return override
}

func (e *Engine) expectsReply(id byte, instruction byte, ack AckPolicy) bool {
	if id == BroadcastID {
		return false
	}
	switch ack {
	case AckNoReply:
		return false
	case AckReplyOnRead:
		return instruction == InstRead
	default: // AckReplyOnAll
		return true
	}
}

// txrx is the transaction engine's single entry point: it assembles and
// sends one instruction frame and, if a reply is expected, receives and
// decodes the matching status frame. Every exit path releases e.mu and
// leaves e.lastStatus holding the transaction's final outcome.
func (e *Engine) txrx(ctx context.Context, id, instruction byte, params []byte, expectedReplyParams int, ackOverride AckPolicy) (Status, ErrorBits, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastStatus == StatusRxTimeout || e.lastStatus == StatusRxCorrupt {
		e.transport.Flush()
	}

	frame, err := e.protocol.EncodeInstruction(id, instruction, params)
	if err != nil {
		e.setStatusLocked(StatusTxError, nil, nil)
		return StatusTxError, 0, nil, &CommError{Op: "encode", Status: StatusTxError, Err: err}
	}

	n, err := e.transport.Write(frame)
	if err != nil || n != len(frame) {
		e.setStatusLocked(StatusTxFail, frame, nil)
		if err == nil {
			err = fmt.Errorf("wrote %d of %d bytes", n, len(frame))
		}
		return StatusTxFail, 0, nil, &CommError{Op: "write", Status: StatusTxFail, Err: err}
	}
	ack := e.effectiveAck(ackOverride)
	if !e.expectsReply(id, instruction, ack) {
		// No status frame will come back: the transaction is complete
		// once the frame is on the wire.
		e.setStatusLocked(StatusRxSuccess, frame, nil)
		return StatusRxSuccess, 0, nil, nil
	}
	e.setStatusLocked(StatusTxSuccess, frame, nil)

	needed := minStatusFrameLen + expectedReplyParams
	timeout := readTimeoutFor(needed)
	e.transport.SetReadTimeout(timeout)

	status, bits, reply, err := e.receive(ctx, id, needed, timeout)
	e.setStatusLocked(status, frame, reply)
	if err != nil {
		e.logger.Printf("mercury: error: device %d instr 0x%02x: %s: %v", id, instruction, status, err)
		return status, bits, nil, &ServoError{ID: id, Op: "txrx", Status: status, Err: err}
	}
	if bits.HasError() {
		e.logger.Printf("mercury: error: device %d instr 0x%02x reported %s", id, instruction, bits)
	} else {
		e.logger.Printf("mercury: debug: device %d instr 0x%02x %s", id, instruction, status)
	}
	return status, bits, reply, nil
}

// readTimeoutFor returns the per-frame receive timeout for a reply carrying
// needed total bytes: two milliseconds per expected byte, with no separate
// floor or ceiling.
func readTimeoutFor(needed int) time.Duration {
	return time.Duration(needed) * time.Millisecond * 2
}

// receive implements the resync-and-read loop from §4.2 steps 6-9: it reads
// into a growing buffer, drops any bytes preceding a 0xFF 0xFF header, and
// keeps reading until the frame's own length field says it is complete. A
// trailing lone 0xFF is left in the buffer as a possible first header byte.
//
// Timeout is detected against an explicit wall-clock deadline rather than
// an error return from Transport.Read: go.bug.st/serial's Read reports a
// read timeout as (0, nil), not as an error, so looping on "err != nil"
// alone would spin forever against a real serial port that simply has
// nothing to say yet.
func (e *Engine) receive(ctx context.Context, id byte, needed int, timeout time.Duration) (Status, ErrorBits, []byte, error) {
	buf := make([]byte, 0, needed)
	scratch := make([]byte, needed)
	anyBytes := false
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return StatusRxTimeout, 0, nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			if !anyBytes {
				return StatusRxTimeout, 0, nil, ErrTimeout
			}
			return StatusRxCorrupt, 0, nil, fmt.Errorf("incomplete frame after timeout: %w", ErrTimeout)
		}

		n, err := e.transport.Read(scratch)
		if err != nil && n == 0 {
			// A read that returns neither bytes nor a partial frame is
			// indistinguishable from "nothing has arrived yet" (the
			// condition go.bug.st/serial itself reports as (0, nil) on a
			// read timeout): keep polling until the deadline, rather than
			// treating every such return as a fatal port error.
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			// Bytes arrived before the error surfaced: a genuine
			// transport fault, not a timeout.
			return StatusRxFail, 0, nil, err
		}
		if n > 0 {
			anyBytes = true
			buf = append(buf, scratch[:n]...)
		}

		if idx := findHeader(buf); idx > 0 {
			buf = buf[idx:]
		}

		frame, ok, corrupt := tryDecode(e.protocol, buf)
		switch {
		case corrupt:
			return StatusRxCorrupt, 0, nil, ErrInvalidPacket
		case ok:
			if id != BroadcastID && frame.ID != id {
				return StatusRxCorrupt, 0, nil, fmt.Errorf("%w: reply id %d, want %d", ErrInvalidPacket, frame.ID, id)
			}
			e.receivedCount++
			return StatusRxSuccess, frame.Error, frame.Parameters, nil
		}

		if n == 0 {
			// Nothing new arrived this round; avoid busy-spinning against
			// the transport faster than a half-duplex bus could ever
			// reply.
			time.Sleep(time.Millisecond)
		}
	}
}

// findHeader returns the offset of the first 0xFF 0xFF pair in buf, or -1
// if none is present.
func findHeader(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == 0xFF && buf[i+1] == 0xFF {
			return i
		}
	}
	return -1
}

// tryDecode attempts a full decode of buf. ok is true only once the whole
// frame (per its own length byte) has arrived; corrupt is true only once
// enough bytes are present to prove the frame can never validate (a length
// field outside the legal range, or a complete-length frame whose checksum
// fails).
func tryDecode(p *Protocol, buf []byte) (Frame, bool, bool) {
	frame, _, err := p.DecodeStatus(buf)
	switch err {
	case nil:
		return frame, true, false
	case ErrRxCorrupt:
		// ErrRxCorrupt from DecodeStatus with no header yet found is
		// equivalent to "keep reading". With a header present it means a
		// bad length field or a failed checksum on an already-complete
		// frame, which no further bytes can fix.
		if findHeader(buf) >= 0 {
			return Frame{}, false, true
		}
		return Frame{}, false, false
	default: // errIncomplete: the length field promises more bytes
		return Frame{}, false, false
	}
}

func (e *Engine) setStatusLocked(status Status, sent, received []byte) {
	e.lastStatus = status
	if sent != nil {
		e.lastSent = sent
	}
	if received != nil {
		e.lastReceived = received
	}
	if status != StatusTxSuccess && status != StatusRxSuccess {
		e.errorCount++
	}
}

// Ping checks for a device's presence and reports its reported model
// number and firmware version. Presence alone is reported by the ping
// reply; model number and firmware version are recovered with two
// follow-up register reads (a word read and a byte read respectively),
// since the wire ping reply carries only an id echo and an error
// bitfield.
func (e *Engine) Ping(ctx context.Context, id byte) (present bool, modelNumber, firmwareVersion int, err error) {
	_, bits, _, err := e.txrx(ctx, id, InstPing, nil, 0, AckDefault)
	if err != nil {
		return false, 0, 0, err
	}
	if bits.HasError() {
		return true, 0, 0, bits
	}
	model, err := e.ReadWord(ctx, id, addrModelNumber)
	if err != nil {
		return true, 0, 0, nil
	}
	firmware, err := e.ReadByte(ctx, id, addrFirmwareVersion)
	if err != nil {
		return true, model, 0, nil
	}
	return true, model, firmware, nil
}

const (
	addrModelNumber     = 0
	addrFirmwareVersion = 2
)

// ReadByte reads a single byte register.
func (e *Engine) ReadByte(ctx context.Context, id, addr byte) (int, error) {
	v, err := e.read(ctx, id, addr, 1)
	if err != nil {
		return 0, err
	}
	return int(v[0]), nil
}

// ReadWord reads a little-endian two-byte register.
func (e *Engine) ReadWord(ctx context.Context, id, addr byte) (int, error) {
	v, err := e.read(ctx, id, addr, 2)
	if err != nil {
		return 0, err
	}
	return int(e.protocol.DecodeWord(v)), nil
}

func (e *Engine) read(ctx context.Context, id, addr byte, length int) ([]byte, error) {
	if id == BroadcastID {
		return nil, ErrBroadcastRead
	}
	if e.ackPolicy == AckNoReply {
		return nil, ErrNoReplyAck
	}
	params := []byte{addr, byte(length)}
	_, bits, reply, err := e.txrx(ctx, id, InstRead, params, length, AckDefault)
	if err != nil {
		return nil, err
	}
	if bits.HasError() {
		return nil, &ServoError{ID: id, Op: "read", Bits: bits}
	}
	if len(reply) < length {
		return nil, fmt.Errorf("%w: read reply too short", ErrInvalidPacket)
	}
	return reply, nil
}

// WriteByte writes a single byte register.
func (e *Engine) WriteByte(ctx context.Context, id, addr, value byte) error {
	return e.write(ctx, id, addr, []byte{value})
}

// WriteWord writes a little-endian two-byte register.
func (e *Engine) WriteWord(ctx context.Context, id, addr byte, value uint16) error {
	return e.write(ctx, id, addr, e.protocol.EncodeWord(value))
}

func (e *Engine) write(ctx context.Context, id, addr byte, data []byte) error {
	params := append([]byte{addr}, data...)
	_, bits, _, err := e.txrx(ctx, id, InstWrite, params, 0, AckDefault)
	if err != nil {
		return err
	}
	if bits.HasError() {
		return &ServoError{ID: id, Op: "write", Bits: bits}
	}
	return nil
}

// RegWrite buffers a write for later execution via Action.
func (e *Engine) RegWrite(ctx context.Context, id, addr byte, data []byte) error {
	params := append([]byte{addr}, data...)
	_, bits, _, err := e.txrx(ctx, id, InstRegWrite, params, 0, AckDefault)
	if err != nil {
		return err
	}
	if bits.HasError() {
		return &ServoError{ID: id, Op: "reg_write", Bits: bits}
	}
	return nil
}

// Action triggers every buffered RegWrite since the last Action, as a
// broadcast instruction that never waits for a reply.
func (e *Engine) Action(ctx context.Context) error {
	_, _, _, err := e.txrx(ctx, BroadcastID, InstAction, nil, 0, AckDefault)
	return err
}

// FactoryReset restores a device's control table to factory defaults.
func (e *Engine) FactoryReset(ctx context.Context, id byte) error {
	_, bits, _, err := e.txrx(ctx, id, InstFactoryReset, nil, 0, AckDefault)
	if err != nil {
		return err
	}
	if bits.HasError() {
		return &ServoError{ID: id, Op: "factory_reset", Bits: bits}
	}
	return nil
}

// Reboot is unsupported on the v1 Mercury protocol and always fails
// without attempting any bus I/O.
func (e *Engine) Reboot(ctx context.Context, id byte) error {
	return &CommError{Op: "reboot", Status: StatusTxFail, Err: ErrUnsupported}
}

// SyncWrite writes dataLen bytes at addr to every id in data, as a single
// broadcast frame that never waits for a reply.
func (e *Engine) SyncWrite(ctx context.Context, addr byte, dataLen int, data map[byte][]byte) error {
	frame, err := e.protocol.SyncWriteFrame(addr, byte(dataLen), data)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n, err := e.transport.Write(frame)
	if err != nil || n != len(frame) {
		e.setStatusLocked(StatusTxFail, frame, nil)
		if err == nil {
			err = fmt.Errorf("wrote %d of %d bytes", n, len(frame))
		}
		return &CommError{Op: "sync_write", Status: StatusTxFail, Err: err}
	}
	e.setStatusLocked(StatusTxSuccess, frame, nil)
	return nil
}
