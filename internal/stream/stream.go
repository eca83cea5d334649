// FILE: internal/stream/stream.go
// Package stream – C4 Streaming Price Monitor.
//
// Maintains one long-lived WebSocket connection to the quote feed, tracks
// the latest quote per instrument, evaluates registered TP/SL alerts on
// every tick, and delivers triggered alerts over a channel rather than a
// callback so this package and internal/orchestrator never reference each
// other's types (spec.md §9's C4/C8 cycle note).
//
// Grounded on original_source/app/services/price_stream.py's PriceStream.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forexsim/session-engine/internal/instrument"
	"github.com/forexsim/session-engine/internal/logging"
	"github.com/forexsim/session-engine/internal/metrics"
)

// State is the connection lifecycle of the stream client.
type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction mirrors predictor.Bias without importing it, so stream has no
// dependency on the prediction subsystem.
type Direction string

const (
	Long  Direction = "BULLISH"
	Short Direction = "BEARISH"
)

// Quote is a single bid/ask observation.
type Quote struct {
	Instrument string
	Bid        float64
	Ask        float64
	Timestamp  time.Time
}

// Mid is the midpoint price used for alert evaluation.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// TriggerType identifies which side of an Alert fired.
type TriggerType string

const (
	TriggerTP TriggerType = "TP"
	TriggerSL TriggerType = "SL"
)

// Alert is a registered TP/SL watch for one open position.
type Alert struct {
	PositionID string
	Instrument string
	Direction  Direction
	TakeProfit float64
	StopLoss   float64
}

// Fired is delivered on the stream's alert channel when a registered Alert
// triggers.
type Fired struct {
	PositionID  string
	Instrument  string
	TriggerType TriggerType
	Price       float64
	Time        time.Time
}

const (
	reconnectDelay   = 5 * time.Second
	wsURL            = "wss://socket.polygon.io/forex"
	pingInterval     = 30 * time.Second
	pingTimeout      = 10 * time.Second
	alertChanBuffer  = 64
)

// polygonEnvelope is the [{...}, {...}] or {...} shape Polygon sends.
type polygonEnvelope struct {
	Event     string  `json:"ev"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Pair      string  `json:"p"`
	Bid       float64 `json:"b"`
	Ask       float64 `json:"a"`
	TimestampMS int64 `json:"t"`
}

// dialer abstracts websocket.DefaultDialer.Dial for tests.
type dialer interface {
	Dial(url string, header map[string][]string) (conn, error)
}

// conn abstracts the subset of *websocket.Conn the client needs.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error) error
	Close() error
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(url string, _ map[string][]string) (conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Client is a single WebSocket price monitor for a configured set of
// instruments. The zero value is not usable; construct with New.
type Client struct {
	apiKey string
	dial   dialer

	mu          sync.RWMutex
	state       State
	ws          conn
	quotes      map[string]Quote
	alerts      map[string]Alert
	subscribed  map[string]bool

	firedC chan Fired

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

// New constructs a Client. Call Run to start the connect/receive loop and
// Fired() to consume triggered alerts.
func New(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		dial:       gorillaDialer{},
		state:      Disconnected,
		quotes:     make(map[string]Quote),
		alerts:     make(map[string]Alert),
		subscribed: make(map[string]bool),
		firedC:     make(chan Fired, alertChanBuffer),
		stopC:      make(chan struct{}),
		doneC:      make(chan struct{}),
	}
}

// Fired returns the channel on which triggered alerts are delivered. The
// orchestrator owns draining it.
func (c *Client) Fired() <-chan Fired {
	return c.firedC
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// WaitReady blocks until the client reaches Ready, becomes permanently
// Closed, or ctx is cancelled — whichever comes first. Callers that need to
// Subscribe right after starting Run should wait on this first, since
// Subscribe itself requires state == Ready and returns immediately
// otherwise (connectAndAuth needs a dial plus two round trips to get
// there).
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch c.State() {
		case Ready:
			return nil
		case Closed:
			return fmt.Errorf("stream: closed before becoming ready")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metrics.SetStreamState(s.String())
}

// Run connects and reconnects (after reconnectDelay) until ctx is
// cancelled or Stop is called. Run blocks; callers should invoke it in its
// own goroutine.
func (c *Client) Run(ctx context.Context) {
	defer close(c.doneC)
	log := logging.For("stream")

	for {
		select {
		case <-ctx.Done():
			c.setState(Closed)
			return
		case <-c.stopC:
			c.setState(Closed)
			return
		default:
		}

		if err := c.connectAndAuth(ctx); err != nil {
			log.Warn().Err(err).Msg("stream connect failed, retrying")
			c.setState(Disconnected)
			if !c.sleep(ctx, reconnectDelay) {
				c.setState(Closed)
				return
			}
			continue
		}

		c.resubscribeLocked()

		pingStop := make(chan struct{})
		pingDone := make(chan struct{})
		go c.pingLoop(pingStop, pingDone)

		c.receiveLoop(ctx)

		close(pingStop)
		<-pingDone

		c.setState(Disconnected)
		select {
		case <-ctx.Done():
			c.setState(Closed)
			return
		case <-c.stopC:
			c.setState(Closed)
			return
		default:
		}
		if !c.sleep(ctx, reconnectDelay) {
			c.setState(Closed)
			return
		}
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.stopC:
		return false
	case <-time.After(d):
		return true
	}
}

// Stop signals Run to exit and closes the underlying connection if open.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopC)
		c.mu.Lock()
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.mu.Unlock()
	})
	<-c.doneC
}

func (c *Client) connectAndAuth(ctx context.Context) error {
	c.setState(Connecting)
	ws, err := c.dial.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("stream: dial: %w", err)
	}

	_, msg, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("stream: read connect ack: %w", err)
	}
	if !hasStatus(msg, "connected") {
		_ = ws.Close()
		return fmt.Errorf("stream: unexpected connect response: %s", msg)
	}

	c.setState(Authenticating)
	if err := ws.WriteJSON(map[string]string{"action": "auth", "params": c.apiKey}); err != nil {
		_ = ws.Close()
		return fmt.Errorf("stream: send auth: %w", err)
	}

	_, msg, err = ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("stream: read auth ack: %w", err)
	}
	if !hasStatus(msg, "auth_success") {
		_ = ws.Close()
		return fmt.Errorf("stream: authentication failed: %s", msg)
	}

	// Polygon pings every pingInterval and expects a pong within
	// pingTimeout; mirror that on read so a connection gone quiet (no data
	// frame, no pong) trips ReadMessage's deadline and gets recycled
	// instead of hanging forever. gorilla/websocket answers pings
	// automatically but the pong handler still needs to push the deadline
	// out, or the first idle period above it would time out regardless.
	if err := ws.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout)); err != nil {
		_ = ws.Close()
		return fmt.Errorf("stream: set read deadline: %w", err)
	}
	_ = ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
	})

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(Ready)
	return nil
}

// sendPing writes a protocol-level ping control frame on the current
// connection, used by pingLoop every pingInterval per spec.md §5's 30s/10s
// idle window.
func (c *Client) sendPing() error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return fmt.Errorf("stream: no connection")
	}
	return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout))
}

// pingLoop sends a ping every pingInterval until stop is closed or a ping
// fails to write, in which case receiveLoop's next read will time out (the
// deadline isn't pushed by a ping we couldn't even send) and Run recycles
// the connection.
func (c *Client) pingLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	log := logging.For("stream")

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.sendPing(); err != nil {
				log.Warn().Err(err).Msg("ping failed, connection will be recycled on next read timeout")
				return
			}
		}
	}
}

func hasStatus(msg []byte, want string) bool {
	var envelopes []polygonEnvelope
	if err := json.Unmarshal(msg, &envelopes); err != nil {
		var single polygonEnvelope
		if err := json.Unmarshal(msg, &single); err != nil {
			return false
		}
		envelopes = []polygonEnvelope{single}
	}
	for _, e := range envelopes {
		if e.Status == want {
			return true
		}
	}
	return false
}

// resubscribeLocked resends subscribe for every instrument previously
// subscribed, used after a reconnect. Polygon has no concept of session
// state, so the full subscription set must be resent.
func (c *Client) resubscribeLocked() {
	c.mu.RLock()
	instruments := make([]string, 0, len(c.subscribed))
	for inst := range c.subscribed {
		instruments = append(instruments, inst)
	}
	c.mu.RUnlock()
	if len(instruments) == 0 {
		return
	}
	c.mu.Lock()
	c.subscribed = make(map[string]bool)
	c.mu.Unlock()
	_ = c.Subscribe(instruments)
}

// Subscribe adds instruments to the live subscription set. Already
// subscribed instruments are skipped (subscription is idempotent).
func (c *Client) Subscribe(instruments []string) error {
	c.mu.Lock()
	if c.state != Ready {
		c.mu.Unlock()
		return fmt.Errorf("stream: cannot subscribe, state is %s", c.state)
	}
	var toAdd []string
	for _, inst := range instruments {
		if !c.subscribed[inst] {
			c.subscribed[inst] = true
			toAdd = append(toAdd, instrument.ToStreamSymbol(inst))
		}
	}
	ws := c.ws
	c.mu.Unlock()

	if len(toAdd) == 0 {
		return nil
	}
	return ws.WriteJSON(map[string]string{"action": "subscribe", "params": joinComma(toAdd)})
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// AddAlert registers a TP/SL watch keyed by positionID. Re-registering the
// same positionID replaces the prior alert.
func (c *Client) AddAlert(a Alert) {
	c.mu.Lock()
	c.alerts[a.PositionID] = a
	c.mu.Unlock()
}

// RemoveAlert deregisters a watch, e.g. once its position closes.
func (c *Client) RemoveAlert(positionID string) {
	c.mu.Lock()
	delete(c.alerts, positionID)
	c.mu.Unlock()
}

// LatestQuote returns the most recent quote for an instrument.
func (c *Client) LatestQuote(inst string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[inst]
	return q, ok
}

func (c *Client) receiveLoop(ctx context.Context) {
	log := logging.For("stream")
	for {
		c.mu.RLock()
		ws := c.ws
		c.mu.RUnlock()
		if ws == nil {
			return
		}

		_, msg, err := ws.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("stream connection closed")
			return
		}

		var envelopes []polygonEnvelope
		if err := json.Unmarshal(msg, &envelopes); err != nil {
			var single polygonEnvelope
			if err := json.Unmarshal(msg, &single); err != nil {
				continue
			}
			envelopes = []polygonEnvelope{single}
		}
		for _, e := range envelopes {
			c.handleEnvelope(e)
		}
	}
}

func (c *Client) handleEnvelope(e polygonEnvelope) {
	if e.Event != "C" {
		return
	}
	inst := instrument.FromStreamSymbol(e.Pair)
	if inst == "" {
		return
	}
	q := Quote{
		Instrument: inst,
		Bid:        e.Bid,
		Ask:        e.Ask,
		Timestamp:  time.UnixMilli(e.TimestampMS).UTC(),
	}
	c.mu.Lock()
	c.quotes[inst] = q
	c.mu.Unlock()

	c.checkAlerts(inst, q)
}

// checkAlerts evaluates every registered alert for inst against the new
// quote. Take-profit is checked before stop-loss on every tick so a quote
// that satisfies both conditions in the same tick (a gap through both
// levels) resolves as a win, per spec.md §9.
func (c *Client) checkAlerts(inst string, q Quote) {
	price := q.Mid()

	c.mu.Lock()
	var fired []Fired
	for id, a := range c.alerts {
		if a.Instrument != inst {
			continue
		}
		var triggerType TriggerType
		switch a.Direction {
		case Long:
			switch {
			case price >= a.TakeProfit:
				triggerType = TriggerTP
			case price <= a.StopLoss:
				triggerType = TriggerSL
			}
		case Short:
			switch {
			case price <= a.TakeProfit:
				triggerType = TriggerTP
			case price >= a.StopLoss:
				triggerType = TriggerSL
			}
		}
		if triggerType == "" {
			continue
		}
		delete(c.alerts, id)
		fired = append(fired, Fired{
			PositionID:  id,
			Instrument:  inst,
			TriggerType: triggerType,
			Price:       price,
			Time:        q.Timestamp,
		})
	}
	c.mu.Unlock()

	log := logging.For("stream")
	for _, f := range fired {
		log.Info().Str("instrument", f.Instrument).Str("trigger", string(f.TriggerType)).Float64("price", f.Price).Msg("alert triggered")
		c.firedC <- f
	}
}
