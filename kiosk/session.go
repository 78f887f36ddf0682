package kiosk

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-kiosk/logger"
	"github.com/arloliu/go-kiosk/protocol"
	"github.com/arloliu/go-kiosk/slideshow"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// StatusHandler is invoked for every status event decoded from the device.
//
// Handlers run on the connection's reader goroutine in arrival order.
type StatusHandler func(ev protocol.StatusEvent)

// SlideHandler is invoked every time the slideshow sends a page.
type SlideHandler func(page slideshow.Page)

type eventKind int

const (
	dialDoneEvent eventKind = iota
	streamEndEvent
	writeFailedEvent
	reconnectEvent
)

// sessionEvent is a lifecycle event handled by the session event goroutine.
type sessionEvent struct {
	kind eventKind
	gen  uint64
	conn net.Conn
	err  error
}

// Session represents the connection to one kiosk device.
//
// A Session is created once from its configuration and keeps its identity across
// reconnects. It owns the TCP connection, the reconnect timer and the slideshow.
type Session struct {
	id     string
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *SessionConfig
	logger logger.Logger
	clock  clock.Clock
	dialer Dialer

	slideshow *slideshow.Scheduler

	handlerMu      sync.RWMutex
	stateHandlers  []ConnStateChangeHandler
	statusHandlers []StatusHandler
	slideHandlers  []SlideHandler

	lifeMu    sync.Mutex // protects opened, destroyed
	opened    bool
	destroyed atomic.Bool
	loopDone  chan struct{}
	events    chan sessionEvent

	state atomic.Uint32

	// fields below are owned by the event goroutine
	gen            uint64
	reconnectTimer *clock.Timer
	wg             sync.WaitGroup

	connMu  sync.Mutex // protects conn and connGen
	conn    net.Conn
	connGen uint64
	writeMu sync.Mutex // serializes command writes

	metrics ConnectionMetrics
}

// NewSession creates a Session for cfg. The session is idle until Open is called.
//
// Cancelling ctx has the same effect as calling Destroy, except that Destroy also
// waits for the session to release its resources.
func NewSession(ctx context.Context, cfg *SessionConfig) *Session {
	s := &Session{
		id:       uuid.NewString(),
		pctx:     ctx,
		cfg:      cfg,
		clock:    cfg.clock,
		dialer:   cfg.getDialer(),
		loopDone: make(chan struct{}),
		events:   make(chan sessionEvent, 8),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger = cfg.logger.With("session_id", s.id, "address", cfg.Address())
	s.state.Store(uint32(DisconnectedState))

	s.slideshow = slideshow.NewScheduler(cfg.pages, s,
		slideshow.WithClock(cfg.clock),
		slideshow.WithLogger(s.logger),
		slideshow.WithAdvanceHandler(s.invokeSlideHandlers),
	)

	return s
}

// ID returns the unique id of the session, attached to all its log records.
func (s *Session) ID() string { return s.id }

// Config returns the session configuration.
func (s *Session) Config() *SessionConfig { return s.cfg }

// GetLogger returns the logger associated with the session.
func (s *Session) GetLogger() logger.Logger { return s.logger }

// GetMetrics returns the metrics associated with the session.
func (s *Session) GetMetrics() *ConnectionMetrics { return &s.metrics }

// State returns the current session state.
func (s *Session) State() ConnState { return ConnState(s.state.Load()) }

// IsConnected reports whether the device connection is established.
func (s *Session) IsConnected() bool { return s.State().IsConnected() }

// AddConnStateChangeHandler adds handlers invoked on every state transition.
func (s *Session) AddConnStateChangeHandler(handlers ...ConnStateChangeHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.stateHandlers = append(s.stateHandlers, handlers...)
}

// AddStatusHandler adds handlers invoked for every decoded status event.
func (s *Session) AddStatusHandler(handlers ...StatusHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.statusHandlers = append(s.statusHandlers, handlers...)
}

// AddSlideHandler adds handlers invoked for every page the slideshow sends.
func (s *Session) AddSlideHandler(handlers ...SlideHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()

	s.slideHandlers = append(s.slideHandlers, handlers...)
}

// Open starts the session: the first dial attempt is made immediately and the session
// keeps reconnecting until it is destroyed. Open does not wait for the connection.
func (s *Session) Open() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.destroyed.Load() {
		return ErrSessionDestroyed
	}
	if s.opened {
		return ErrSessionOpened
	}
	s.opened = true

	go s.eventLoop()

	return nil
}

// Destroy stops the session: the reconnect timer and the slideshow are cancelled and
// the connection is closed. Destroy waits until the session has released its
// resources; after it returns no further dial attempt is made.
//
// Destroy is idempotent. It must not be called from a ConnStateChangeHandler.
func (s *Session) Destroy() {
	s.lifeMu.Lock()
	if !s.destroyed.CompareAndSwap(false, true) {
		s.lifeMu.Unlock()
		return
	}
	opened := s.opened
	s.lifeMu.Unlock()

	s.logger.Debug("destroy session")
	s.cancel()

	if opened {
		<-s.loopDone
	} else {
		s.release()
		close(s.loopDone)
	}
}

// Done returns a channel that is closed once the session released its resources.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// Send writes cmd to the device.
//
// Commands are only written while the session is connected. Otherwise cmd is dropped
// and a running slideshow is stopped. A failed write is handled like any other
// transport error; Send never reports it to the caller.
func (s *Session) Send(cmd protocol.Command) {
	conn, gen := s.currentConn()
	if conn == nil || !s.IsConnected() {
		s.metrics.incCommandDropCount()
		s.logger.Debug("not connected, drop command", "command", protocol.CommandString(cmd), "state", s.State())
		s.slideshow.Stop()

		return
	}

	line := protocol.Encode(cmd)

	s.writeMu.Lock()
	err := conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout))
	if err == nil {
		_, err = io.WriteString(conn, line)
	}
	s.writeMu.Unlock()

	if err != nil {
		s.metrics.incCommandErrCount()
		s.logger.Debug("failed to send command", "command", protocol.CommandString(cmd), "error", err)
		// the write may run on the event goroutine itself, never block on the queue here
		go s.post(sessionEvent{kind: writeFailedEvent, gen: gen, err: err})

		return
	}

	s.metrics.incCommandSendCount()
	s.logger.Debug("command sent", "command", protocol.CommandString(cmd))
}

// StartSlideshow (re)starts the slideshow from its first page.
func (s *Session) StartSlideshow() {
	if s.destroyed.Load() {
		return
	}
	s.slideshow.Start()
}

// StopSlideshow stops the slideshow.
func (s *Session) StopSlideshow() {
	s.slideshow.Stop()
}

// SlideshowRunning reports whether the slideshow is active.
func (s *Session) SlideshowRunning() bool {
	return s.slideshow.Running()
}

// post queues ev for the event goroutine. It returns false if the session is gone.
func (s *Session) post(ev sessionEvent) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.events <- ev:
		return true
	}
}

// eventLoop is the session event goroutine. All state transitions happen here.
func (s *Session) eventLoop() {
	defer close(s.loopDone)
	defer s.release()

	s.connect()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.events:
			switch ev.kind {
			case dialDoneEvent:
				s.handleDialDone(ev)
			case streamEndEvent, writeFailedEvent:
				s.handleTransportEnd(ev)
			case reconnectEvent:
				s.handleReconnect(ev)
			}
		}
	}
}

// connect starts a new dial attempt with a new connection generation.
func (s *Session) connect() {
	if s.ctx.Err() != nil {
		return
	}

	s.gen++
	gen := s.gen

	s.setState(ConnectingState)
	s.metrics.incConnectAttemptCount()
	s.logger.Debug("connecting to device", "gen", gen)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		dialCtx, cancel := context.WithTimeout(s.ctx, s.cfg.connectTimeout)
		defer cancel()

		conn, err := s.dialer.DialContext(dialCtx, "tcp", s.cfg.Address())
		if !s.post(sessionEvent{kind: dialDoneEvent, gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (s *Session) handleDialDone(ev sessionEvent) {
	if ev.gen != s.gen || s.ctx.Err() != nil {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}

	if ev.err != nil {
		s.metrics.incConnRetryGauge()
		s.logger.Debug("failed to connect to device", "error", ev.err, "retry", s.metrics.ConnRetryGauge.Load())
		s.setState(DisconnectedState)
		s.armReconnect()

		return
	}

	if tcpConn, ok := ev.conn.(*net.TCPConn); ok && s.cfg.keepAlive > 0 {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(s.cfg.keepAlive)
	}

	s.connMu.Lock()
	s.conn = ev.conn
	s.connGen = ev.gen
	s.connMu.Unlock()

	s.metrics.resetConnRetryGauge()
	s.metrics.incConnectCount()
	s.logger.Info("connected to device",
		"local_addr", ev.conn.LocalAddr().String(),
		"remote_addr", ev.conn.RemoteAddr().String(),
	)

	s.setState(ConnectedState)

	s.wg.Add(1)
	go s.readLoop(ev.gen, ev.conn)
}

// handleTransportEnd handles the end of the inbound stream and failed writes.
//
// Only the first such event of a connection generation has an effect: a read error
// or EOF of a connected session reports the disconnect, and any error arms the
// reconnect timer unless one is already pending.
func (s *Session) handleTransportEnd(ev sessionEvent) {
	if ev.gen != s.gen {
		return
	}

	wasConnected := s.State().IsConnected()
	if ev.kind == streamEndEvent && ev.err == nil && !wasConnected {
		// close after an already handled error
		return
	}

	s.closeConn()

	if ev.err != nil {
		s.logger.Debug("transport error", "error", ev.err)
	}
	if wasConnected {
		s.logger.Info("disconnected from device")
		s.setState(DisconnectedState)
	}

	s.armReconnect()
}

func (s *Session) handleReconnect(ev sessionEvent) {
	if ev.gen != s.gen {
		return
	}
	s.reconnectTimer = nil
	s.connect()
}

// armReconnect arms the reconnect timer. At most one timer is pending at a time.
func (s *Session) armReconnect() {
	if s.reconnectTimer != nil || s.ctx.Err() != nil {
		return
	}

	gen := s.gen
	s.reconnectTimer = s.clock.AfterFunc(s.cfg.reconnectDelay, func() {
		s.post(sessionEvent{kind: reconnectEvent, gen: gen})
	})
	s.logger.Debug("schedule reconnect", "delay", s.cfg.reconnectDelay)

	s.setState(ReconnectPendingState)
}

// readLoop reads inbound lines of one connection and dispatches the decoded events.
func (s *Session) readLoop(gen uint64, conn net.Conn) {
	defer s.wg.Done()

	reader := bufio.NewReaderSize(conn, s.cfg.maxLineSize)
	discarding := false

	for {
		line, err := reader.ReadSlice('\n')
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			// skip the rest of an over-long line
			if !discarding {
				discarding = true
				s.metrics.incDecodeErrCount()
				s.logger.Debug("failed to decode status payload", "error", ErrLineTooLong, "limit", s.cfg.maxLineSize)
			}

			continue
		case discarding:
			discarding = false
		default:
			s.dispatchLine(line)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			if errors.Is(err, net.ErrClosed) && s.ctx.Err() != nil {
				return
			}
			s.post(sessionEvent{kind: streamEndEvent, gen: gen, err: err})

			return
		}
	}
}

func (s *Session) dispatchLine(line []byte) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return
	}

	ev, err := protocol.Decode(line)
	if err != nil {
		s.metrics.incDecodeErrCount()
		s.logger.Debug("failed to decode status payload", "error", err)

		return
	}

	s.metrics.incStatusRecvCount()
	s.logger.Debug("status received", "type", ev.Type())
	s.invokeStatusHandlers(ev)
}

// release cancels all timers, closes the connection and enters DestroyedState.
func (s *Session) release() {
	s.slideshow.Stop()

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	s.closeConn()
	s.wg.Wait()
	s.drainEvents()

	if s.State().IsConnected() {
		s.logger.Info("disconnected from device")
	}
	s.setState(DestroyedState)
	s.logger.Debug("session destroyed")
}

// drainEvents closes connections of dial results queued after the event loop stopped.
func (s *Session) drainEvents() {
	for {
		select {
		case ev := <-s.events:
			if ev.conn != nil {
				_ = ev.conn.Close()
			}
		default:
			return
		}
	}
}

func (s *Session) currentConn() (net.Conn, uint64) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	return s.conn, s.connGen
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn == nil {
		return
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0) // Set linger timeout to 0 to force close
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("failed to close connection", "error", err)
	}
}

func (s *Session) setState(newState ConnState) {
	prevState := ConnState(s.state.Swap(uint32(newState)))
	if prevState == newState {
		return
	}

	s.logger.Debug("session state changes", "prevState", prevState, "curState", newState)

	s.handlerMu.RLock()
	handlers := append([]ConnStateChangeHandler(nil), s.stateHandlers...)
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		if handler != nil {
			handler(s, prevState, newState)
		}
	}
}

func (s *Session) invokeStatusHandlers(ev protocol.StatusEvent) {
	s.handlerMu.RLock()
	handlers := append([]StatusHandler(nil), s.statusHandlers...)
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		if handler != nil {
			handler(ev)
		}
	}
}

func (s *Session) invokeSlideHandlers(page slideshow.Page) {
	s.handlerMu.RLock()
	handlers := append([]SlideHandler(nil), s.slideHandlers...)
	s.handlerMu.RUnlock()

	for _, handler := range handlers {
		if handler != nil {
			handler(page)
		}
	}
}
