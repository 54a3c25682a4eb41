package mercury

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ControllerState is the managed synchronizer's lifecycle state, per §4.4.
type ControllerState int

const (
	StateStopped ControllerState = iota
	StateStarted
	StateScanning
	StateScanned
	StateReading
	StateReady
	StatePaused
)

func (s ControllerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarted:
		return "started"
	case StateScanning:
		return "scanning"
	case StateScanned:
		return "scanned"
	case StateReading:
		return "reading"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

type messageKind int

const (
	msgAutodetect messageKind = iota
	msgRegister
	msgUnregister
	msgUnregisterAll
	msgDelayedAdd
)

// message is one posted foreground request. when is a monotonic deadline:
// messages with when in the future are re-queued rather than processed
// immediately.
type message struct {
	kind   messageKind
	when   time.Time
	start  byte
	stop   byte
	shadow *Shadow
	id     byte
	doRead bool
}

// BusConfig configures a managed Bus. Per §6, every option here is set by
// constructing this struct and passing it to NewBus; there is no file,
// CLI, or environment-variable surface for any of it.
type BusConfig struct {
	// Transport is the byte-stream port the synchronizer owns and reads
	// and writes exclusively from its own goroutine. Required.
	Transport Transport

	// AckPolicy is the bus-wide default ack policy new transactions use
	// unless overridden per call.
	AckPolicy AckPolicy

	// MaxID is the highest device id an autodetect sweep pings; Register
	// does not check it. Lower this to ReservedMaxID when the link runs
	// through a USB2AX-style adapter that reserves id 253 for itself.
	MaxID byte

	// SyncFrequencyHz is the synchronizer loop's target frequency, 1-120.
	SyncFrequencyHz int

	// Registry supplies the families autodetect instantiates shadows
	// against. Defaults to DefaultRegistry() when nil.
	Registry *Registry

	// DefaultFamily is used for a ping whose model number matches no
	// family in Registry. Defaults to FamilyV1 when nil.
	DefaultFamily *Family

	// ReassertDelay is how long after a reboot/reset request the
	// synchronizer waits before re-adding the device for an initial read.
	// Defaults to 2s, a policy choice §9 calls out as configurable.
	ReassertDelay time.Duration

	// ScanTimeout is written to the transport's read timeout when an
	// autodetect sweep starts. Defaults to 8ms. It does not bound the
	// sweep's pings: every engine transaction resets the transport's read
	// timeout from its expected reply size and waits on its own deadline
	// (see readTimeoutFor). After the sweep the read timeout is set to
	// readTimeoutFor(minStatusFrameLen); a value set earlier through
	// SetLatency is not restored.
	ScanTimeout time.Duration

	Logger *log.Logger
}

func (c *BusConfig) setDefaults() {
	if c.SyncFrequencyHz <= 0 {
		c.SyncFrequencyHz = 30
	}
	if c.SyncFrequencyHz > 120 {
		c.SyncFrequencyHz = 120
	}
	if c.MaxID == 0 {
		c.MaxID = MaxID
	}
	if c.Registry == nil {
		c.Registry = DefaultRegistry()
	}
	if c.DefaultFamily == nil {
		c.DefaultFamily = FamilyV1
	}
	if c.ReassertDelay <= 0 {
		c.ReassertDelay = 2 * time.Second
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 8 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Bus is the managed synchronizer (component F): it owns one Transport
// and one Engine, and runs a background goroutine that discovers devices,
// performs one-shot initial register snapshots, and thereafter commits
// dirty shadow registers and reads back telemetry at a configured
// frequency. Foreground goroutines talk to it only through shadows
// (component E) or through the message-queue methods below; they never
// touch the Transport directly.
type Bus struct {
	cfg    BusConfig
	engine *Engine
	logger *log.Logger

	registryMu sync.Mutex
	shadows    map[byte]*Shadow
	toInit     map[byte]bool
	keepSync   map[byte]bool

	queueMu sync.Mutex
	queue   []message

	stateMu sync.Mutex
	state   ControllerState

	running chan struct{} // closed once; nil channel also means "never started"
	stop    chan struct{}
	done    chan struct{}

	errCountMu sync.Mutex
	errCount   int

	cumulID int
}

// NewBus returns a Bus in the stopped state, with its transaction engine
// already built over cfg.Transport. Connect starts the synchronizer.
func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("mercury: BusConfig.Transport is required")
	}
	cfg.setDefaults()
	return &Bus{
		cfg:      cfg,
		engine:   NewEngine(cfg.Transport, cfg.AckPolicy, cfg.Logger),
		logger:   cfg.Logger,
		shadows:  make(map[byte]*Shadow),
		toInit:   make(map[byte]bool),
		keepSync: make(map[byte]bool),
		state:    StateStopped,
	}, nil
}

// State returns the synchronizer's current lifecycle state.
func (b *Bus) State() ControllerState {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.state
}

func (b *Bus) setState(s ControllerState) {
	b.stateMu.Lock()
	b.state = s
	b.stateMu.Unlock()
}

// ErrorCount returns the cumulative count of per-transaction bus errors
// observed by the synchronizer loop (separate from Engine.ErrorCount,
// which only tallies transactions issued directly through the engine).
func (b *Bus) ErrorCount() int {
	b.errCountMu.Lock()
	defer b.errCountMu.Unlock()
	return b.errCount
}

func (b *Bus) countError() {
	b.errCountMu.Lock()
	b.errCount++
	b.errCountMu.Unlock()
}

// Connect starts the synchronizer goroutine. It is idempotent: calling it
// on an already-started bus is a no-op.
func (b *Bus) Connect() error {
	if b.State() != StateStopped {
		return nil
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	b.setState(StateStarted)
	go b.loop()
	return nil
}

// Disconnect stops the synchronizer goroutine, waits for its current loop
// iteration to exit, drains the queue without processing what remains,
// and closes the transport. In-flight transactions complete or time out
// naturally; the engine guarantees lock release on every exit path.
func (b *Bus) Disconnect() error {
	if b.State() == StateStopped {
		return nil
	}
	close(b.stop)
	<-b.done

	b.queueMu.Lock()
	b.queue = nil
	b.queueMu.Unlock()

	b.registryMu.Lock()
	b.shadows = make(map[byte]*Shadow)
	b.toInit = make(map[byte]bool)
	b.keepSync = make(map[byte]bool)
	b.registryMu.Unlock()

	b.setState(StateStopped)
	return b.cfg.Transport.Close()
}

// Pause moves a ready bus into paused, suspending periodic write/read
// processing without tearing down the connection.
func (b *Bus) Pause() {
	if b.State() == StateReady {
		b.setState(StatePaused)
	}
}

// Resume moves a paused bus back to ready.
func (b *Bus) Resume() {
	if b.State() == StatePaused {
		b.setState(StateReady)
	}
}

// SetLatency writes ms to the transport's read timeout. The value holds
// only until the next engine transaction, which resets the transport's
// read timeout from the expected reply size (see readTimeoutFor); the
// engine's own receive deadline does not depend on it.
func (b *Bus) SetLatency(ms int) error {
	return b.cfg.Transport.SetReadTimeout(time.Duration(ms) * time.Millisecond)
}

// --- foreground message-queue API -----------------------------------------

func (b *Bus) postMessage(m message) {
	b.queueMu.Lock()
	b.queue = append(b.queue, m)
	b.queueMu.Unlock()
}

// Autodetect posts a scan request for [start, stop]. The scan itself runs
// on the synchronizer goroutine the next time it drains its queue.
func (b *Bus) Autodetect(start, stop byte) {
	b.postMessage(message{kind: msgAutodetect, when: time.Now(), start: start, stop: stop})
}

// Register posts a request to add shadow to this bus. Multiple Register
// calls for the same device id collapse into one registration: the
// message handler overwrites any existing entry for that id rather than
// duplicating it.
func (b *Bus) Register(shadow *Shadow) {
	b.postMessage(message{kind: msgRegister, when: time.Now(), shadow: shadow})
}

// Unregister posts a request to remove shadow from this bus.
func (b *Bus) Unregister(shadow *Shadow) {
	b.postMessage(message{kind: msgUnregister, when: time.Now(), shadow: shadow})
}

// UnregisterAll posts a request to clear every registered shadow. Calling
// it twice in a row is a no-op the second time: there is nothing left to
// clear.
func (b *Bus) UnregisterAll() {
	b.postMessage(message{kind: msgUnregisterAll, when: time.Now()})
}

// Shadow returns the registered shadow for id, if any.
func (b *Bus) Shadow(id byte) (*Shadow, bool) {
	b.registryMu.Lock()
	defer b.registryMu.Unlock()
	s, ok := b.shadows[id]
	return s, ok
}

// Shadows returns every currently registered shadow.
func (b *Bus) Shadows() []*Shadow {
	b.registryMu.Lock()
	defer b.registryMu.Unlock()
	out := make([]*Shadow, 0, len(b.shadows))
	for _, s := range b.shadows {
		out = append(out, s)
	}
	return out
}

// --- synchronizer main loop -------------------------------------------------

func (b *Bus) loop() {
	defer close(b.done)
	interval := time.Second / time.Duration(b.cfg.SyncFrequencyHz)

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		start := time.Now()

		b.drainQueue(start)
		if b.State() != StatePaused {
			b.processActionFlags()
			b.processInitialReads()
			b.processKeepInSync()
		}

		b.cumulID = (b.cumulID + 1) % b.cfg.SyncFrequencyHz

		elapsed := time.Since(start)
		if elapsed < interval {
			select {
			case <-b.stop:
				return
			case <-time.After(interval - elapsed):
			}
		}
	}
}

// drainQueue processes every message whose deadline has passed. Messages
// still in the future are put back at the end of the queue, preserving
// their relative arrival order, so the loop never busy-spins re-reading
// the same future message on every pass.
func (b *Bus) drainQueue(now time.Time) {
	b.queueMu.Lock()
	pending := b.queue
	b.queue = nil
	b.queueMu.Unlock()

	var deferred []message
	for _, m := range pending {
		if m.when.After(now) {
			deferred = append(deferred, m)
			continue
		}
		b.handleMessage(m)
	}
	if len(deferred) > 0 {
		b.queueMu.Lock()
		b.queue = append(b.queue, deferred...)
		b.queueMu.Unlock()
	}
}

func (b *Bus) handleMessage(m message) {
	switch m.kind {
	case msgAutodetect:
		b.scan(m.start, m.stop)
	case msgRegister:
		b.registerShadow(m.shadow)
	case msgUnregister:
		b.unregisterShadow(m.shadow)
	case msgUnregisterAll:
		b.unregisterAll()
	case msgDelayedAdd:
		b.registryMu.Lock()
		b.keepSync[m.id] = true
		if m.doRead {
			b.toInit[m.id] = true
		}
		b.registryMu.Unlock()
	}
}

func (b *Bus) registerShadow(s *Shadow) {
	b.registryMu.Lock()
	b.shadows[s.ID()] = s
	b.toInit[s.ID()] = true
	b.keepSync[s.ID()] = true
	b.registryMu.Unlock()
}

func (b *Bus) unregisterShadow(s *Shadow) {
	b.registryMu.Lock()
	delete(b.shadows, s.ID())
	delete(b.toInit, s.ID())
	delete(b.keepSync, s.ID())
	b.registryMu.Unlock()
}

func (b *Bus) unregisterAll() {
	b.registryMu.Lock()
	b.shadows = make(map[byte]*Shadow)
	b.toInit = make(map[byte]bool)
	b.keepSync = make(map[byte]bool)
	b.registryMu.Unlock()
}

// processActionFlags inspects every registered shadow's pending action
// flags: refresh re-queues an initial read, reboot/reset pull the device
// out of both working sets, issue the wire operation, and schedule a
// delayed re-add.
func (b *Bus) processActionFlags() {
	for _, s := range b.registeredShadows() {
		if !s.hasPendingFlags() {
			continue
		}
		flags := s.ConsumeFlags()
		id := s.ID()

		if flags.Refresh {
			b.registryMu.Lock()
			b.toInit[id] = true
			b.registryMu.Unlock()
		}

		if flags.Reboot || flags.Reset {
			b.registryMu.Lock()
			delete(b.toInit, id)
			delete(b.keepSync, id)
			b.registryMu.Unlock()

			ctx := context.Background()
			if flags.Reboot {
				if err := b.engine.Reboot(ctx, id); err != nil {
					b.logger.Printf("mercury: warn: device %d reboot: %v", id, err)
					b.countError()
				}
			}
			if flags.Reset {
				if err := b.engine.FactoryReset(ctx, id); err != nil {
					b.logger.Printf("mercury: warn: device %d reset: %v", id, err)
					b.countError()
				}
			}
			b.postMessage(message{
				kind:   msgDelayedAdd,
				when:   time.Now().Add(b.cfg.ReassertDelay),
				id:     id,
				doRead: true,
			})
		}

		if flags.Action {
			if err := b.engine.Action(context.Background()); err != nil {
				b.logger.Printf("mercury: warn: bus action trigger: %v", err)
				b.countError()
			}
		}
	}
}

// processInitialReads performs a one-shot full-register snapshot for
// every id in the initial-read set, then empties it.
func (b *Bus) processInitialReads() {
	ids := b.initialReadIDs()
	if len(ids) == 0 {
		return
	}
	b.setState(StateReading)
	ctx := context.Background()
	for _, id := range ids {
		s, ok := b.Shadow(id)
		if !ok {
			continue
		}
		for _, r := range s.Family().Registers {
			addr, ok := r.addressIn(AreaAuto)
			if !ok {
				continue
			}
			if err := b.readInto(ctx, s, r, byte(addr)); err != nil {
				b.countError()
			}
		}
		b.registryMu.Lock()
		delete(b.toInit, id)
		b.registryMu.Unlock()
	}
	b.setState(StateReady)
}

func (b *Bus) initialReadIDs() []byte {
	b.registryMu.Lock()
	defer b.registryMu.Unlock()
	ids := make([]byte, 0, len(b.toInit))
	for id := range b.toInit {
		ids = append(ids, id)
	}
	return ids
}

// processKeepInSync walks every kept-in-sync device once: commits dirty
// registers, then performs full-, quarter-, and once-per-second-rate
// telemetry re-reads phased by cumulID, per §4.4 step 4.
func (b *Bus) processKeepInSync() {
	ctx := context.Background()
	for _, id := range b.keepInSyncIDs() {
		s, ok := b.Shadow(id)
		if !ok {
			continue
		}
		b.commitDirty(ctx, s)

		if b.cumulID == 0 {
			b.readByName(ctx, s, RegCurrentVoltage)
			b.readByName(ctx, s, RegCurrentTemperature)
		}
		if b.cumulID%4 == 0 {
			// Status/error telemetry: the most recent reply's error
			// bitfield is already captured by readByName/writeByName, so a
			// dedicated register read is unnecessary here; re-reading
			// load doubles as this family's error/overload telemetry.
			b.readByName(ctx, s, RegCurrentLoad)
		}

		b.readByName(ctx, s, RegCurrentPosition)
		if s.Pending(RegGoalPosition, AreaRAM) {
			if err := b.writeByName(ctx, s, RegGoalPosition, AreaRAM); err != nil {
				b.countError()
			} else {
				s.Commit(RegGoalPosition, AreaRAM)
			}
		}
		b.readByName(ctx, s, RegGoalPosition)
	}
}

func (b *Bus) keepInSyncIDs() []byte {
	b.registryMu.Lock()
	defer b.registryMu.Unlock()
	ids := make([]byte, 0, len(b.keepSync))
	for id := range b.keepSync {
		ids = append(ids, id)
	}
	return ids
}

func (b *Bus) registeredShadows() []*Shadow {
	b.registryMu.Lock()
	defer b.registryMu.Unlock()
	out := make([]*Shadow, 0, len(b.shadows))
	for _, s := range b.shadows {
		out = append(out, s)
	}
	return out
}

// commitDirty writes every register with an outstanding dirty flag for s,
// in whichever area (EEPROM, RAM, or both independently) it is dirty in,
// clearing the flag on success and counting the error on failure without
// aborting the rest of the walk.
func (b *Bus) commitDirty(ctx context.Context, s *Shadow) {
	for _, name := range s.pendingNames() {
		r, ok := Find(s.Family(), name)
		if !ok {
			continue
		}
		if r.EEPROM != offsetAbsent && s.Pending(name, AreaEEPROM) {
			if err := b.writeByName(ctx, s, name, AreaEEPROM); err != nil {
				b.countError()
			} else {
				s.Commit(name, AreaEEPROM)
			}
		}
		if r.RAM != offsetAbsent && s.Pending(name, AreaRAM) {
			if err := b.writeByName(ctx, s, name, AreaRAM); err != nil {
				b.countError()
			} else {
				s.Commit(name, AreaRAM)
			}
		}
	}
}

func (b *Bus) writeByName(ctx context.Context, s *Shadow, name RegisterName, area Area) error {
	r, ok := Find(s.Family(), name)
	if !ok {
		return ErrUnknownRegister
	}
	addr, ok := r.addressIn(area)
	if !ok {
		return ErrUnknownRegister
	}
	value, ok := s.WireValue(name)
	if !ok {
		return ErrUnknownRegister
	}
	var err error
	if r.Size == 1 {
		err = b.engine.WriteByte(ctx, s.ID(), byte(addr), byte(value))
	} else {
		err = b.engine.WriteWord(ctx, s.ID(), byte(addr), uint16(value))
	}
	if se, ok := AsServoError(err); ok {
		s.SetError(se.Bits)
	}
	return err
}

func (b *Bus) readByName(ctx context.Context, s *Shadow, name RegisterName) {
	r, ok := Find(s.Family(), name)
	if !ok {
		return
	}
	addr, ok := r.addressIn(AreaAuto)
	if !ok {
		return
	}
	if err := b.readInto(ctx, s, r, byte(addr)); err != nil {
		b.countError()
	}
}

func (b *Bus) readInto(ctx context.Context, s *Shadow, r Register, addr byte) error {
	var value int
	var err error
	if r.Size == 1 {
		value, err = b.engine.ReadByte(ctx, s.ID(), addr)
	} else {
		value, err = b.engine.ReadWord(ctx, s.ID(), addr)
	}
	if err != nil {
		if se, ok := AsServoError(err); ok {
			s.SetError(se.Bits)
		}
		return err
	}
	s.SetFromWire(r.Name, value)
	s.SetError(0)
	return nil
}

// scan implements autodetect: it clamps [start, stop] to cfg.MaxID,
// drops every currently registered shadow, writes cfg.ScanTimeout to the
// transport's read timeout (see BusConfig.ScanTimeout for what that does
// and does not affect), pings every id in range, and instantiates a shadow (in the
// family matching the ping's model number, falling back to
// cfg.DefaultFamily) for each responder. Ids found are inserted into
// both the initial-read and keep-in-sync sets.
func (b *Bus) scan(start, stop byte) {
	if start > stop {
		start, stop = stop, start
	}
	if stop > b.cfg.MaxID {
		stop = b.cfg.MaxID
	}

	b.setState(StateScanning)
	b.unregisterAll()

	b.cfg.Transport.SetReadTimeout(b.cfg.ScanTimeout)

	ctx := context.Background()
	for id := start; id <= stop; id++ {
		present, model, _, err := b.engine.Ping(ctx, id)
		if err != nil || !present {
			continue
		}
		family := b.cfg.Registry.FamilyByModelNumber(model, b.cfg.DefaultFamily)
		s := NewShadow(id, family, family.Constants, b.logger)
		b.registryMu.Lock()
		b.shadows[id] = s
		b.toInit[id] = true
		b.keepSync[id] = true
		b.registryMu.Unlock()
	}

	// Leave the transport's read timeout at the default for a minimum
	// status frame; a timeout set earlier through SetLatency is not
	// restored.
	b.cfg.Transport.SetReadTimeout(readTimeoutFor(minStatusFrameLen))

	b.setState(StateScanned)
}
