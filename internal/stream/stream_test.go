package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn replays a scripted sequence of inbound frames and records
// outbound writes.
type fakeConn struct {
	mu            sync.Mutex
	inbound       [][]byte
	idx           int
	closed        bool
	writes        []string
	blockRead     chan struct{}
	deadlineCalls int
	pongHandler   func(string) error
}

func newFakeConn(inbound ...string) *fakeConn {
	raw := make([][]byte, len(inbound))
	for i, s := range inbound {
		raw[i] = []byte(s)
	}
	return &fakeConn{inbound: raw, blockRead: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	if f.idx < len(f.inbound) {
		msg := f.inbound[f.idx]
		f.idx++
		f.mu.Unlock()
		return 1, msg, nil
	}
	f.mu.Unlock()
	<-f.blockRead
	return 0, nil, errors.New("fakeConn: closed")
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	b, _ := json.Marshal(v)
	f.mu.Lock()
	f.writes = append(f.writes, string(b))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	f.writes = append(f.writes, "ctrl:ping")
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error {
	f.mu.Lock()
	f.deadlineCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetPongHandler(h func(string) error) error {
	f.mu.Lock()
	f.pongHandler = h
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.blockRead)
	}
	return nil
}

type fakeDialer struct {
	conns []*fakeConn
	calls int
	mu    sync.Mutex
}

func (d *fakeDialer) Dial(url string, _ map[string][]string) (conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls >= len(d.conns) {
		return nil, errors.New("fakeDialer: exhausted")
	}
	c := d.conns[d.calls]
	d.calls++
	return c, nil
}

func TestConnectAndAuthTransitionsToReady(t *testing.T) {
	fc := newFakeConn(`[{"ev":"status","status":"connected"}]`, `[{"ev":"status","status":"auth_success"}]`)
	c := New("test-key")
	c.dial = &fakeDialer{conns: []*fakeConn{fc}}

	err := c.connectAndAuth(context.Background())
	require.NoError(t, err)
	require.Equal(t, Ready, c.State())
	require.Len(t, fc.writes, 1)
}

func TestConnectAndAuthFailsOnBadAuthResponse(t *testing.T) {
	fc := newFakeConn(`[{"ev":"status","status":"connected"}]`, `[{"ev":"status","status":"auth_failed"}]`)
	c := New("test-key")
	c.dial = &fakeDialer{conns: []*fakeConn{fc}}

	err := c.connectAndAuth(context.Background())
	require.Error(t, err)
}

func TestCheckAlertsLongTakeProfitBeforeStopLoss(t *testing.T) {
	c := New("test-key")
	c.AddAlert(Alert{PositionID: "p1", Instrument: "EURUSD", Direction: Long, TakeProfit: 1.1050, StopLoss: 1.1050})

	c.checkAlerts("EURUSD", Quote{Instrument: "EURUSD", Bid: 1.1049, Ask: 1.1051, Timestamp: time.Now()})

	select {
	case f := <-c.Fired():
		require.Equal(t, TriggerTP, f.TriggerType)
	default:
		t.Fatal("expected a fired alert")
	}
}

func TestCheckAlertsShortStopLoss(t *testing.T) {
	c := New("test-key")
	c.AddAlert(Alert{PositionID: "p2", Instrument: "GBPUSD", Direction: Short, TakeProfit: 1.2000, StopLoss: 1.2100})

	c.checkAlerts("GBPUSD", Quote{Instrument: "GBPUSD", Bid: 1.2099, Ask: 1.2101, Timestamp: time.Now()})

	f := <-c.Fired()
	require.Equal(t, TriggerSL, f.TriggerType)
	require.Equal(t, "p2", f.PositionID)
}

func TestCheckAlertsOnlyFiresOnce(t *testing.T) {
	c := New("test-key")
	c.AddAlert(Alert{PositionID: "p3", Instrument: "EURUSD", Direction: Long, TakeProfit: 1.10, StopLoss: 1.05})

	c.checkAlerts("EURUSD", Quote{Instrument: "EURUSD", Bid: 1.101, Ask: 1.101, Timestamp: time.Now()})
	c.checkAlerts("EURUSD", Quote{Instrument: "EURUSD", Bid: 1.102, Ask: 1.102, Timestamp: time.Now()})

	<-c.Fired()
	require.Len(t, c.Fired(), 0)
}

func TestRemoveAlertPreventsTrigger(t *testing.T) {
	c := New("test-key")
	c.AddAlert(Alert{PositionID: "p4", Instrument: "EURUSD", Direction: Long, TakeProfit: 1.10, StopLoss: 1.05})
	c.RemoveAlert("p4")

	c.checkAlerts("EURUSD", Quote{Instrument: "EURUSD", Bid: 1.11, Ask: 1.11, Timestamp: time.Now()})

	select {
	case <-c.Fired():
		t.Fatal("removed alert must not fire")
	default:
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	fc := newFakeConn()
	c := New("test-key")
	c.ws = fc
	c.state = Ready
	c.subscribed = make(map[string]bool)

	require.NoError(t, c.Subscribe([]string{"EURUSD", "GBPUSD"}))
	require.NoError(t, c.Subscribe([]string{"EURUSD"}))

	require.Len(t, fc.writes, 1)
}

func TestConnectAndAuthInstallsPongHandlerAndDeadline(t *testing.T) {
	fc := newFakeConn(`[{"ev":"status","status":"connected"}]`, `[{"ev":"status","status":"auth_success"}]`)
	c := New("test-key")
	c.dial = &fakeDialer{conns: []*fakeConn{fc}}

	require.NoError(t, c.connectAndAuth(context.Background()))
	require.GreaterOrEqual(t, fc.deadlineCalls, 1)
	require.NotNil(t, fc.pongHandler)

	require.NoError(t, fc.pongHandler("pong"))
	require.GreaterOrEqual(t, fc.deadlineCalls, 2, "a pong must push the read deadline back out")
}

func TestSendPingWritesControlFrame(t *testing.T) {
	fc := newFakeConn()
	c := New("test-key")
	c.ws = fc
	c.state = Ready

	require.NoError(t, c.sendPing())
	require.Equal(t, []string{"ctrl:ping"}, fc.writes)
}

func TestSendPingErrorsWithoutConnection(t *testing.T) {
	c := New("test-key")
	require.Error(t, c.sendPing())
}

func TestWaitReadyReturnsOnceStateIsReady(t *testing.T) {
	fc := newFakeConn(`[{"ev":"status","status":"connected"}]`, `[{"ev":"status","status":"auth_success"}]`)
	c := New("test-key")
	c.dial = &fakeDialer{conns: []*fakeConn{fc}}

	go func() { _ = c.connectAndAuth(context.Background()) }()

	require.NoError(t, c.WaitReady(context.Background()))
	require.Equal(t, Ready, c.State())
}

func TestWaitReadyRespectsContextCancellation(t *testing.T) {
	c := New("test-key")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.WaitReady(ctx)
	require.Error(t, err)
}

func TestStopIsIdempotentAndUnblocksRun(t *testing.T) {
	fc := newFakeConn(`[{"ev":"status","status":"connected"}]`, `[{"ev":"status","status":"auth_success"}]`)
	c := New("test-key")
	c.dial = &fakeDialer{conns: []*fakeConn{fc}}

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	// give Run a moment to reach the receive loop before stopping
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop() // must not panic or block a second time

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
	require.Equal(t, Closed, c.State())
}
