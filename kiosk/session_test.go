package kiosk

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-kiosk/logger"
	"github.com/arloliu/go-kiosk/protocol"
	"github.com/arloliu/go-kiosk/slideshow"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// failDialer refuses every connection attempt.
type failDialer struct {
	attempts atomic.Int32
}

func (d *failDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	d.attempts.Add(1)
	return nil, errors.New("connection refused")
}

// lateDialer completes the dial only after the dial context is cancelled.
type lateDialer struct {
	started chan struct{}
	peer    chan net.Conn
}

func (d *lateDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	close(d.started)
	<-ctx.Done()

	client, server := net.Pipe()
	d.peer <- server

	return client, nil
}

// pipeDialer hands out queued connections and refuses once the queue is empty.
type pipeDialer struct {
	attempts atomic.Int32
	conns    chan net.Conn
}

func (d *pipeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	d.attempts.Add(1)
	select {
	case conn := <-d.conns:
		return conn, nil
	default:
		return nil, errors.New("connection refused")
	}
}

// brokenWriteConn fails every write while reads keep working.
type brokenWriteConn struct {
	net.Conn
}

func (c brokenWriteConn) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

type stateRecorder struct {
	mu          sync.Mutex
	transitions [][2]ConnState
}

func (r *stateRecorder) handler(_ *Session, prev ConnState, cur ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]ConnState{prev, cur})
}

// connectedFlags returns the sequence of connected flag changes, as a state store would see them.
func (r *stateRecorder) connectedFlags() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var flags []bool
	for _, tr := range r.transitions {
		if tr[1].IsConnected() {
			flags = append(flags, true)
		} else if tr[0].IsConnected() {
			flags = append(flags, false)
		}
	}

	return flags
}

type statusRecorder struct {
	mu     sync.Mutex
	events []protocol.StatusEvent
}

func (r *statusRecorder) handler(ev protocol.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *statusRecorder) get() []protocol.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]protocol.StatusEvent(nil), r.events...)
}

func waitState(t *testing.T, s *Session, state ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == state }, 3*time.Second, time.Millisecond,
		"want state %s, got %s", state, s.State())
}

func newTestListener(t *testing.T) (*net.TCPListener, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	tcpLn, _ := ln.(*net.TCPListener)

	return tcpLn, tcpLn.Addr().(*net.TCPAddr).Port
}

func accept(t *testing.T, ln *net.TCPListener) net.Conn {
	t.Helper()

	require.NoError(t, ln.SetDeadline(time.Now().Add(3*time.Second)))
	conn, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readLine(t *testing.T, r *bufio.Reader, conn net.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)

	return line
}

func newTestSession(t *testing.T, port int, opts ...SessionOption) *Session {
	t.Helper()

	opts = append([]SessionOption{WithLogger(logger.GetLogger())}, opts...)
	cfg, err := NewSessionConfig("127.0.0.1", port, opts...)
	require.NoError(t, err)

	s := NewSession(context.Background(), cfg)
	t.Cleanup(s.Destroy)

	return s
}

func TestSession_ReconnectEveryDelay(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	dialer := &failDialer{}
	s := newTestSession(t, 5000, WithClock(clk), WithDialer(dialer))

	require.Equal(DisconnectedState, s.State())
	require.NoError(s.Open())
	require.ErrorIs(s.Open(), ErrSessionOpened)

	waitState(t, s, ReconnectPendingState)
	require.EqualValues(1, dialer.attempts.Load())

	for i := int32(2); i <= 4; i++ {
		clk.Add(9 * time.Second)
		time.Sleep(20 * time.Millisecond)
		require.Equal(i-1, dialer.attempts.Load())

		clk.Add(1 * time.Second)
		require.Eventually(func() bool { return dialer.attempts.Load() == i }, 3*time.Second, time.Millisecond)
		waitState(t, s, ReconnectPendingState)
	}

	require.EqualValues(4, s.GetMetrics().ConnectAttemptCount.Load())
	require.EqualValues(4, s.GetMetrics().ConnRetryGauge.Load())
	require.Zero(s.GetMetrics().ConnectCount.Load())

	s.Destroy()
	require.Equal(DestroyedState, s.State())

	for i := 0; i < 3; i++ {
		clk.Add(10 * time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(4, dialer.attempts.Load())
	require.Equal(DestroyedState, s.State())
}

func TestSession_ConnectSendReceive(t *testing.T) {
	require := require.New(t)

	ln, port := newTestListener(t)
	clk := clock.NewMock()
	s := newTestSession(t, port, WithClock(clk))

	states := &stateRecorder{}
	status := &statusRecorder{}
	s.AddConnStateChangeHandler(states.handler)
	s.AddStatusHandler(status.handler)

	require.NoError(s.Open())
	srv := accept(t, ln)
	waitState(t, s, ConnectedState)
	require.True(s.IsConnected())
	require.Equal([]bool{true}, states.connectedFlags())

	// outbound
	reader := bufio.NewReader(srv)
	s.Send(protocol.SetBrightness{Level: 75})
	s.Send(protocol.RunCommand{Text: "shutdown -s -t 0"})
	require.Equal("brightness|75\r\n", readLine(t, reader, srv))
	require.Equal("command|shutdown|-s -t 0\r\n", readLine(t, reader, srv))
	require.EqualValues(2, s.GetMetrics().CommandSendCount.Load())

	// inbound, a bad line does not break the stream
	_, err := io.WriteString(srv, "garbage\r\n\r\n{\"TYP\":\"MEMORY\",\"MEMORY\":\"2048000000\"}\r\n{\"TYP\":\"MUTE\",\"MUTE\":\"TRUE\"}\n")
	require.NoError(err)

	require.Eventually(func() bool { return len(status.get()) == 2 }, 3*time.Second, time.Millisecond)
	require.Equal([]protocol.StatusEvent{
		protocol.Memory{MB: 2048},
		protocol.Mute{Muted: true},
	}, status.get())
	require.EqualValues(1, s.GetMetrics().DecodeErrCount.Load())
	require.EqualValues(2, s.GetMetrics().StatusRecvCount.Load())
	require.True(s.IsConnected())
}

func TestSession_SkipOverlongLine(t *testing.T) {
	require := require.New(t)

	ln, port := newTestListener(t)
	s := newTestSession(t, port, WithClock(clock.NewMock()))

	status := &statusRecorder{}
	s.AddStatusHandler(status.handler)

	require.NoError(s.Open())
	srv := accept(t, ln)
	waitState(t, s, ConnectedState)

	long := `{"TYP":"URL","URL":"https://example.com/` + strings.Repeat("a", 70*1024) + `"}` + "\r\n"
	go func() {
		_, _ = io.WriteString(srv, long+long+`{"TYP":"MUTE","MUTE":"TRUE"}`+"\r\n")
	}()

	require.Eventually(func() bool { return len(status.get()) == 1 }, 3*time.Second, time.Millisecond)
	require.Equal([]protocol.StatusEvent{protocol.Mute{Muted: true}}, status.get())
	require.EqualValues(2, s.GetMetrics().DecodeErrCount.Load())
	require.EqualValues(1, s.GetMetrics().ConnectCount.Load())
	require.Equal(ConnectedState, s.State())
}

func TestSession_WriteFailureReconnectsOnce(t *testing.T) {
	require := require.New(t)

	client, server := net.Pipe()
	t.Cleanup(func() { _ = server.Close() })

	clk := clock.NewMock()
	dialer := &pipeDialer{conns: make(chan net.Conn, 1)}
	dialer.conns <- brokenWriteConn{Conn: client}
	s := newTestSession(t, 5000, WithClock(clk), WithDialer(dialer))

	states := &stateRecorder{}
	s.AddConnStateChangeHandler(states.handler)

	require.NoError(s.Open())
	waitState(t, s, ConnectedState)

	// the failed write closes the connection, the reader fails right after it
	s.Send(protocol.ScreenOn{})
	waitState(t, s, ReconnectPendingState)
	require.EqualValues(1, s.GetMetrics().CommandErrCount.Load())
	require.Zero(s.GetMetrics().CommandSendCount.Load())
	require.Equal([]bool{true, false}, states.connectedFlags())

	for i := int32(2); i <= 3; i++ {
		clk.Add(9 * time.Second)
		time.Sleep(20 * time.Millisecond)
		require.Equal(i-1, dialer.attempts.Load())

		clk.Add(1 * time.Second)
		require.Eventually(func() bool { return dialer.attempts.Load() == i }, 3*time.Second, time.Millisecond)
		waitState(t, s, ReconnectPendingState)
	}

	time.Sleep(20 * time.Millisecond)
	require.EqualValues(3, dialer.attempts.Load())
}

func TestSession_DestroyClosesLateDial(t *testing.T) {
	require := require.New(t)

	for i := 0; i < 50; i++ {
		dialer := &lateDialer{started: make(chan struct{}), peer: make(chan net.Conn, 1)}
		s := newTestSession(t, 5000, WithClock(clock.NewMock()), WithDialer(dialer))

		require.NoError(s.Open())
		select {
		case <-dialer.started:
		case <-time.After(3 * time.Second):
			require.Fail("dial not started")
		}

		s.Destroy()
		require.Equal(DestroyedState, s.State())

		var peer net.Conn
		select {
		case peer = <-dialer.peer:
		default:
			require.Fail("dial did not finish before Destroy returned")
		}

		require.NoError(peer.SetReadDeadline(time.Now().Add(time.Second)))
		_, err := peer.Read(make([]byte, 1))
		require.ErrorIs(err, io.EOF, "connection should be closed by Destroy")
		_ = peer.Close()
	}
}

func TestSession_ReconnectAfterClose(t *testing.T) {
	require := require.New(t)

	ln, port := newTestListener(t)
	clk := clock.NewMock()
	s := newTestSession(t, port, WithClock(clk))

	states := &stateRecorder{}
	s.AddConnStateChangeHandler(states.handler)

	require.NoError(s.Open())
	srv := accept(t, ln)
	waitState(t, s, ConnectedState)

	// the device goes away
	require.NoError(srv.Close())
	waitState(t, s, ReconnectPendingState)
	require.Equal([]bool{true, false}, states.connectedFlags())

	// commands are dropped while disconnected
	s.Send(protocol.ScreenOn{})
	require.EqualValues(1, s.GetMetrics().CommandDropCount.Load())
	require.Zero(s.GetMetrics().CommandErrCount.Load())

	clk.Add(10 * time.Second)
	srv2 := accept(t, ln)
	waitState(t, s, ConnectedState)
	require.Equal([]bool{true, false, true}, states.connectedFlags())
	require.EqualValues(2, s.GetMetrics().ConnectCount.Load())

	reader := bufio.NewReader(srv2)
	s.Send(protocol.ScreenOff{})
	require.Equal("screenoff|true\r\n", readLine(t, reader, srv2))

	// destroy closes the socket and reports the disconnect
	s.Destroy()
	require.Equal(DestroyedState, s.State())
	require.Equal([]bool{true, false, true, false}, states.connectedFlags())

	require.NoError(srv2.SetReadDeadline(time.Now().Add(3 * time.Second)))
	_, err := reader.ReadString('\n')
	require.Error(err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		require.False(netErr.Timeout(), "socket should be closed, not idle")
	}
}

func TestSession_SendWhileDisconnected(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	s := newTestSession(t, 5000, WithClock(clk), WithDialer(&failDialer{}),
		WithPages(slideshow.Page{Name: "a.com"}, slideshow.Page{Name: "b.com"}),
	)

	require.NotPanics(func() { s.Send(protocol.SetVolume{Level: 10}) })
	require.EqualValues(1, s.GetMetrics().CommandDropCount.Load())

	// a slideshow cannot run without a connection
	s.StartSlideshow()
	require.False(s.SlideshowRunning())
	require.EqualValues(3, s.GetMetrics().CommandDropCount.Load())
	require.Zero(s.GetMetrics().CommandSendCount.Load())
}

func TestSession_Slideshow(t *testing.T) {
	require := require.New(t)

	ln, port := newTestListener(t)
	clk := clock.NewMock()
	s := newTestSession(t, port, WithClock(clk),
		WithPages(
			slideshow.Page{Name: "a.com", Duration: 2 * time.Second},
			slideshow.Page{Name: "b.com", Zoom: 2},
		),
	)

	var slides atomic.Int32
	s.AddSlideHandler(func(slideshow.Page) { slides.Add(1) })

	require.NoError(s.Open())
	srv := accept(t, ln)
	waitState(t, s, ConnectedState)
	reader := bufio.NewReader(srv)

	s.StartSlideshow()
	require.True(s.SlideshowRunning())
	require.Equal("sendUrl|a.com\r\n", readLine(t, reader, srv))
	require.Equal("zoom|1\r\n", readLine(t, reader, srv))

	clk.Add(2 * time.Second)
	require.Equal("sendUrl|b.com\r\n", readLine(t, reader, srv))
	require.Equal("zoom|2\r\n", readLine(t, reader, srv))
	require.Eventually(func() bool { return slides.Load() == 2 }, 3*time.Second, time.Millisecond)

	s.StopSlideshow()
	require.False(s.SlideshowRunning())

	// destroy cancels the slideshow timer as well
	s.StartSlideshow()
	s.Destroy()
	require.False(s.SlideshowRunning())

	s.StartSlideshow()
	require.False(s.SlideshowRunning())
}

func TestSession_DestroyBeforeOpen(t *testing.T) {
	require := require.New(t)

	dialer := &failDialer{}
	s := newTestSession(t, 5000, WithDialer(dialer))

	s.Destroy()
	s.Destroy()
	require.Equal(DestroyedState, s.State())
	require.ErrorIs(s.Open(), ErrSessionDestroyed)

	select {
	case <-s.Done():
	default:
		require.Fail("done channel should be closed")
	}
	require.Zero(dialer.attempts.Load())
}

func TestSession_ParentContextCancel(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := NewSessionConfig("127.0.0.1", 5000, WithDialer(&failDialer{}), WithClock(clock.NewMock()))
	require.NoError(err)

	s := NewSession(ctx, cfg)
	require.NoError(s.Open())
	waitState(t, s, ReconnectPendingState)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		require.Fail("session did not stop")
	}
	require.Equal(DestroyedState, s.State())
	s.Destroy()
}

func TestConnState_String(t *testing.T) {
	require := require.New(t)

	require.Equal("disconnected", DisconnectedState.String())
	require.Equal("connecting", ConnectingState.String())
	require.Equal("connected", ConnectedState.String())
	require.Equal("reconnect-pending", ReconnectPendingState.String())
	require.Equal("destroyed", DestroyedState.String())
	require.Equal("unknown", ConnState(42).String())
}
