package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 60 * time.Second
	BackoffFactor  = 2.0
	JitterPercent  = 0.2

	HeartbeatTimeout = 60 * time.Second
	PongTimeout      = 10 * time.Second
	WriteTimeout     = 10 * time.Second
)

type subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

type subscribeMessage struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type activityMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ParseActivity decodes one live-data frame. Frames on other topics, and
// keepalive frames, yield no trades and no error.
func ParseActivity(data []byte) ([]Trade, error) {
	if len(data) == 0 || data[0] != '{' {
		return nil, nil
	}
	var msg activityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	if msg.Topic != "activity" || len(msg.Payload) == 0 {
		return nil, nil
	}

	var raw RawTrade
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		return nil, fmt.Errorf("decoding activity payload: %w", err)
	}
	if raw.ProxyWallet == "" {
		return nil, nil
	}
	return []Trade{NormalizeTrade(raw)}, nil
}

// Stream listens to the live activity feed and forwards trades. It
// reconnects with jittered exponential backoff.
type Stream struct {
	url     string
	out     chan<- Trade
	conn    *websocket.Conn
	connMu  sync.Mutex
	backoff time.Duration

	lastMsg   time.Time
	lastMsgMu sync.RWMutex

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewStream(url string, out chan<- Trade) *Stream {
	return &Stream{
		url:      url,
		out:      out,
		backoff:  InitialBackoff,
		stopChan: make(chan struct{}),
	}
}

// Start runs the connection loop and heartbeat monitor in the background.
func (s *Stream) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.runLoop(ctx)
	go s.heartbeatMonitor(ctx)
}

// Stop closes the connection and waits for both goroutines.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.closeConnection()
	s.wg.Wait()
}

func (s *Stream) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *Stream) runLoop(ctx context.Context) {
	defer s.wg.Done()

	for !s.stopped(ctx) {
		if err := s.connect(ctx); err != nil {
			slog.Error("stream connect failed", "error", err, "backoff", s.backoff)
			s.waitBackoff(ctx)
			continue
		}

		if err := s.readLoop(ctx); err != nil {
			slog.Warn("stream read error", "error", err)
		}
		s.closeConnection()

		if s.stopped(ctx) {
			return
		}
		s.waitBackoff(ctx)
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", "https://polymarket.com")

	conn, resp, err := dialer.DialContext(ctx, s.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	return s.attach(conn)
}

// attach installs a dialed connection and subscribes on it. The connection
// is closed again when the subscription cannot be sent.
func (s *Stream) attach(conn *websocket.Conn) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	if err := s.subscribe(); err != nil {
		s.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}
	s.backoff = InitialBackoff
	s.touch()
	slog.Info("stream connected", "endpoint", s.url)
	return nil
}

func (s *Stream) subscribe() error {
	msg := subscribeMessage{
		Action:        "subscribe",
		Subscriptions: []subscription{{Topic: "activity", Type: "trades"}},
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *Stream) readLoop(ctx context.Context) error {
	for {
		if s.stopped(ctx) {
			return nil
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return fmt.Errorf("connection is nil")
		}

		_ = conn.SetReadDeadline(time.Now().Add(HeartbeatTimeout + PongTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
		s.touch()
		s.dispatch(data)
	}
}

func (s *Stream) dispatch(data []byte) {
	trades, err := ParseActivity(data)
	if err != nil {
		slog.Debug("stream parse error", "error", err)
		return
	}
	for _, t := range trades {
		select {
		case s.out <- t:
		default:
			slog.Warn("stream channel full, dropping trade", "wallet", t.Wallet, "slug", t.Slug)
		}
	}
}

func (s *Stream) heartbeatMonitor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkHeartbeat()
		}
	}
}

func (s *Stream) checkHeartbeat() {
	s.lastMsgMu.RLock()
	last := s.lastMsg
	s.lastMsgMu.RUnlock()
	if last.IsZero() || time.Since(last) <= HeartbeatTimeout {
		return
	}

	slog.Warn("stream heartbeat timeout", "elapsed", time.Since(last))
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout)); err != nil {
		slog.Warn("stream ping failed", "error", err)
		s.closeConnection()
	}
}

func (s *Stream) touch() {
	s.lastMsgMu.Lock()
	s.lastMsg = time.Now()
	s.lastMsgMu.Unlock()
}

func (s *Stream) closeConnection() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		slog.Info("stream disconnected")
	}
}

func (s *Stream) waitBackoff(ctx context.Context) {
	jitter := time.Duration(float64(s.backoff) * JitterPercent * (rand.Float64()*2 - 1))
	wait := s.backoff + jitter

	select {
	case <-ctx.Done():
	case <-s.stopChan:
	case <-time.After(wait):
	}

	s.backoff = time.Duration(float64(s.backoff) * BackoffFactor)
	if s.backoff > MaxBackoff {
		s.backoff = MaxBackoff
	}
}
