// Package receiver implements the connection manager of the receiving client.
// It owns the relay connection, registers with the relay, routes inbound
// frames to the transfer session and reconnects a bounded number of times when
// the connection is lost.
//
// Every mutable field is owned by the goroutine executing Run. Dialing,
// reading and timers run on their own goroutines but only post events to Run,
// so the transfer state never needs a lock.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wavedrop/wavedrop/internal/conn"
	"github.com/wavedrop/wavedrop/internal/session"
	"github.com/wavedrop/wavedrop/protocol/relay"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts    = 5
	DefaultReconnectDelay = 3 * time.Second
	DefaultSettleDelay    = 500 * time.Millisecond
	DefaultDialTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

var (
	ErrConnectFailure     = errors.New("could not connect to relay")
	ErrReconnectExhausted = errors.New("connection to relay lost, reconnect attempts exhausted")
)

// ConnectionState is the state of the relay connection.
type ConnectionState int

const (
	Idle ConnectionState = iota
	Connecting
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of the receiver state, as read by the presentation layer.
type Snapshot struct {
	Connection        ConnectionState
	TransferID        string
	ConnectionID      string
	File              *session.FileMetadata
	Transfer          session.State
	ReceivedBytes     int64
	Progress          int // Percent in [0, 100]
	ReconnectAttempts int
	RetriesExhausted  bool
	Err               error
	Artifact          *session.Artifact
}

// ErrorMessage returns the user facing error text, empty when there is none.
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// ------------------------------------------------------- Events ------------------------------------------------------

type connectEvent struct {
	identifier string
}

type disconnectEvent struct{}

type dialedEvent struct {
	gen  uint64
	conn conn.Conn
	err  error
}

type frameEvent struct {
	gen   uint64
	frame conn.Frame
}

type closedEvent struct {
	gen uint64
	err error
}

type reconnectEvent struct {
	gen uint64
}

type settleEvent struct {
	epoch    uint64
	expected int64
}

// ------------------------------------------------------ Receiver -----------------------------------------------------

type Option func(*Receiver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// WithMaxAttempts bounds the number of reconnects after unexpected closes.
func WithMaxAttempts(n int) Option {
	return func(r *Receiver) {
		r.maxAttempts = n
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(r *Receiver) {
		r.reconnectDelay = d
	}
}

// WithSettleDelay sets the wait between an end-of-stream signal and the completion check.
func WithSettleDelay(d time.Duration) Option {
	return func(r *Receiver) {
		r.settleDelay = d
	}
}

// WithThreshold sets the share of the expected size required for completion.
func WithThreshold(threshold float64) Option {
	return func(r *Receiver) {
		r.threshold = threshold
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(r *Receiver) {
		r.dialTimeout = d
	}
}

// Receiver manages the relay connection and the transfer received over it.
type Receiver struct {
	dialer         Dialer
	logger         *zap.Logger
	maxAttempts    int
	reconnectDelay time.Duration
	settleDelay    time.Duration
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	threshold      float64

	events  chan any
	updates chan Snapshot
	done    chan struct{}
	wg      sync.WaitGroup

	mu   sync.RWMutex
	snap Snapshot

	// Owned by the Run goroutine.
	ctx          context.Context
	state        ConnectionState
	identifier   string
	connectionID string
	conn         conn.Conn
	cancelConn   context.CancelFunc
	cancelDial   context.CancelFunc
	gen          uint64
	attempts     int
	exhausted    bool
	reconnect    *time.Timer
	settle       *time.Timer
	session      *session.Session
	artifact     *session.Artifact
	err          error
}

// New returns a receiver dialing the relay through the provided dialer.
func New(dialer Dialer, opts ...Option) *Receiver {
	r := &Receiver{
		dialer:         dialer,
		logger:         zap.NewNop(),
		maxAttempts:    DefaultMaxAttempts,
		reconnectDelay: DefaultReconnectDelay,
		settleDelay:    DefaultSettleDelay,
		dialTimeout:    DefaultDialTimeout,
		writeTimeout:   DefaultWriteTimeout,
		threshold:      session.DefaultThreshold,
		events:         make(chan any, 16),
		updates:        make(chan Snapshot, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "receiver"))
	r.session = session.New(session.WithThreshold(r.threshold))
	r.snap = r.snapshot()
	return r
}

// Connect starts a connection attempt to the sender with the provided
// transfer identifier. Empty identifiers are ignored.
func (r *Receiver) Connect(identifier string) {
	if identifier == "" {
		return
	}
	r.post(connectEvent{identifier: identifier})
}

// Disconnect closes the connection and stops Run. It never triggers a reconnect.
func (r *Receiver) Disconnect() {
	r.post(disconnectEvent{})
}

// Updates streams snapshots. Slow readers only observe the latest snapshot.
// The channel is closed once Run returns.
func (r *Receiver) Updates() <-chan Snapshot {
	return r.updates
}

// Snapshot returns the current state.
func (r *Receiver) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Run processes events until the context is canceled or Disconnect is called.
// It must be called exactly once.
func (r *Receiver) Run(ctx context.Context) error {
	r.ctx = ctx
	defer r.teardown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			if _, ok := ev.(disconnectEvent); ok {
				r.logger.Info("disconnecting")
				return nil
			}
			r.handle(ev)
			r.publish()
		}
	}
}

// handle is the single dispatch point for events.
func (r *Receiver) handle(ev any) {
	switch ev := ev.(type) {
	case connectEvent:
		r.connect(ev.identifier)
	case dialedEvent:
		r.handleDialed(ev)
	case frameEvent:
		r.handleFrame(ev)
	case closedEvent:
		r.handleClosed(ev)
	case reconnectEvent:
		r.handleReconnect(ev)
	case settleEvent:
		r.handleSettle(ev)
	}
}

// post delivers an event to Run. It reports false once Run has returned.
func (r *Receiver) post(ev any) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// ----------------------------------------------------- Connection ----------------------------------------------------

// connect starts a fresh connection attempt, dropping any live connection and
// clearing the previous transfer.
func (r *Receiver) connect(identifier string) {
	r.stopTimers()
	r.dropConn()
	r.gen++
	r.identifier = identifier
	r.connectionID = ""
	r.state = Connecting
	r.exhausted = false
	r.session.Reset()
	r.artifact = nil
	r.err = nil

	logger := r.logger.With(zap.String("transfer_id", identifier), zap.Uint64("gen", r.gen))
	logger.Info("connecting to relay")

	dialCtx, cancel := context.WithTimeout(r.ctx, r.dialTimeout)
	r.cancelDial = cancel
	gen := r.gen
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		c, err := r.dialer.Dial(dialCtx)
		if !r.post(dialedEvent{gen: gen, conn: c, err: err}) && c != nil {
			c.Close()
		}
	}()
}

func (r *Receiver) handleDialed(ev dialedEvent) {
	if ev.gen != r.gen || r.state != Connecting {
		if ev.conn != nil {
			go ev.conn.Close()
		}
		return
	}
	r.cancelDial = nil
	if ev.err != nil {
		r.logger.Warn("dialing relay", zap.Error(ev.err))
		r.lost(fmt.Errorf("%w: %v", ErrConnectFailure, ev.err))
		return
	}
	r.conn = ev.conn
	if err := r.register(); err != nil {
		r.logger.Warn("registering with relay", zap.Error(err))
		r.dropConn()
		r.lost(err)
		return
	}
	r.state = Connected
	r.attempts = 0

	readCtx, cancel := context.WithCancel(r.ctx)
	r.cancelConn = cancel
	r.wg.Add(1)
	go r.read(readCtx, ev.gen, ev.conn)

	r.logger.Info("registered with relay", zap.String("connection_id", r.connectionID))
}

// register announces this connection to the relay and tells the sender that
// the receiver is ready.
func (r *Receiver) register() error {
	r.connectionID = newConnectionID()
	ctx, cancel := context.WithTimeout(r.ctx, r.writeTimeout)
	defer cancel()

	rc := conn.Relay{Conn: r.conn}
	if err := rc.WriteMsg(ctx, relay.NewRegister(r.connectionID)); err != nil {
		return fmt.Errorf("writing register message: %w", err)
	}
	if err := rc.WriteMsg(ctx, relay.NewReceiveReady(r.identifier, r.connectionID)); err != nil {
		return fmt.Errorf("writing receive ready message: %w", err)
	}
	return nil
}

// read forwards frames from the connection to Run. Binary payloads are
// materialized before the next frame is read, which keeps chunks in arrival order.
func (r *Receiver) read(ctx context.Context, gen uint64, c conn.Conn) {
	defer r.wg.Done()
	for {
		f, err := c.Read(ctx)
		if err != nil {
			r.post(closedEvent{gen: gen, err: err})
			return
		}
		if f.Kind != conn.Text {
			b, err := f.Bytes()
			if err != nil {
				r.post(closedEvent{gen: gen, err: err})
				return
			}
			if len(b) == 0 {
				continue
			}
			f = conn.Frame{Kind: conn.Binary, Data: b}
		}
		if !r.post(frameEvent{gen: gen, frame: f}) {
			return
		}
	}
}

func (r *Receiver) handleClosed(ev closedEvent) {
	if ev.gen != r.gen || r.conn == nil {
		return
	}
	if conn.IsNormalClosure(ev.err) {
		r.logger.Info("relay closed the connection")
	} else {
		r.logger.Warn("connection to relay lost", zap.Error(ev.err))
	}
	r.dropConn()
	r.lost(ev.err)
}

// lost handles an unexpected loss of the connection: a single reconnect is
// scheduled while attempts remain.
func (r *Receiver) lost(err error) {
	r.state = Disconnected
	if r.attempts >= r.maxAttempts {
		r.exhausted = true
		r.err = ErrReconnectExhausted
		r.logger.Error("giving up on relay", zap.Int("attempts", r.attempts), zap.Error(err))
		return
	}
	r.attempts++
	gen := r.gen
	r.logger.Info("scheduling reconnect", zap.Int("attempt", r.attempts), zap.Duration("delay", r.reconnectDelay))
	r.reconnect = time.AfterFunc(r.reconnectDelay, func() {
		r.post(reconnectEvent{gen: gen})
	})
}

func (r *Receiver) handleReconnect(ev reconnectEvent) {
	if ev.gen != r.gen || r.state != Disconnected {
		return
	}
	r.reconnect = nil
	r.connect(r.identifier)
}

// dropConn closes the current connection without going through the reconnect path.
func (r *Receiver) dropConn() {
	if r.cancelDial != nil {
		r.cancelDial()
		r.cancelDial = nil
	}
	if r.conn == nil {
		return
	}
	c, cancel := r.conn, r.cancelConn
	r.conn, r.cancelConn = nil, nil
	go func() {
		c.Close()
		if cancel != nil {
			cancel()
		}
	}()
}

func (r *Receiver) stopTimers() {
	if r.reconnect != nil {
		r.reconnect.Stop()
		r.reconnect = nil
	}
	if r.settle != nil {
		r.settle.Stop()
		r.settle = nil
	}
}

// teardown closes the connection deterministically and waits for every
// goroutine started by the receiver. Timers firing afterwards find Run gone.
func (r *Receiver) teardown() {
	r.stopTimers()
	if r.cancelDial != nil {
		r.cancelDial()
		r.cancelDial = nil
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Debug("closing connection", zap.Error(err))
		}
		if r.cancelConn != nil {
			r.cancelConn()
		}
		r.conn, r.cancelConn = nil, nil
	}
	r.gen++
	if r.state != Idle {
		r.state = Disconnected
	}
	close(r.done)
	r.wg.Wait()
	r.publish()
	close(r.updates)
}

// ------------------------------------------------------ Transfer -----------------------------------------------------

func (r *Receiver) handleFrame(ev frameEvent) {
	if ev.gen != r.gen || r.conn == nil {
		return
	}
	switch ev.frame.Kind {
	case conn.Text:
		r.handleControl(ev.frame.Data)
	default:
		r.session.OnChunk(ev.frame.Data)
	}
}

func (r *Receiver) handleControl(b []byte) {
	msg, err := relay.Decode(b)
	if err != nil {
		r.logger.Warn("ignoring control message", zap.Error(err))
		return
	}
	switch msg.Type {
	case relay.FileInfo:
		if r.settle != nil {
			r.settle.Stop()
			r.settle = nil
		}
		r.session.OnFileInfo(msg.Name, msg.Size)
		r.artifact = nil
		r.err = nil
		r.logger.Info("receiving file", zap.String("name", msg.Name), zap.Int64("size", msg.Size))
	case relay.FileEnd:
		epoch, expected := r.session.OnFileEnd(msg.TotalBytes)
		r.logger.Info("end of file announced",
			zap.Int64("expected", expected),
			zap.Int64("received", r.session.ReceivedBytes()),
		)
		if r.settle != nil {
			r.settle.Stop()
		}
		r.settle = time.AfterFunc(r.settleDelay, func() {
			r.post(settleEvent{epoch: epoch, expected: expected})
		})
	default:
		r.logger.Debug("ignoring control message", zap.String("type", string(msg.Type)))
	}
}

func (r *Receiver) handleSettle(ev settleEvent) {
	r.settle = nil
	if !r.session.Settle(ev.epoch, ev.expected) {
		if ev.epoch == r.session.Epoch() {
			r.logger.Warn("completion rejected, too few bytes received",
				zap.Int64("expected", ev.expected),
				zap.Int64("received", r.session.ReceivedBytes()),
			)
		}
		return
	}
	artifact, err := r.session.Finalize()
	if err != nil {
		r.logger.Error("finalizing transfer", zap.Error(err))
		r.err = err
		return
	}
	r.artifact = &artifact
	r.logger.Info("transfer complete", zap.String("name", artifact.Meta.Name), zap.Int64("size", artifact.Size()))
}

// ------------------------------------------------------ Snapshots ----------------------------------------------------

func (r *Receiver) snapshot() Snapshot {
	s := Snapshot{
		Connection:        r.state,
		TransferID:        r.identifier,
		ConnectionID:      r.connectionID,
		Transfer:          r.session.State(),
		ReceivedBytes:     r.session.ReceivedBytes(),
		Progress:          r.session.Percent(),
		ReconnectAttempts: r.attempts,
		RetriesExhausted:  r.exhausted,
		Err:               r.err,
		Artifact:          r.artifact,
	}
	if meta, ok := r.session.Metadata(); ok {
		s.File = &meta
	}
	return s
}

// publish stores the current snapshot and offers it on the updates channel,
// replacing a snapshot the reader has not consumed yet.
func (r *Receiver) publish() {
	snap := r.snapshot()
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	select {
	case <-r.updates:
	default:
	}
	select {
	case r.updates <- snap:
	default:
	}
}
