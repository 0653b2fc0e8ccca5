package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/pkg/logger"
	"NeuralRoulette/pkg/util"

	"github.com/gorilla/websocket"
)

type WebSocketConfig struct {
	URL               string
	CasinoID          string
	TableID           string
	Currency          string
	Backfill          bool
	PingInterval      time.Duration
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxRetries        int
}

// Client implements SpinFeed over a live table websocket.
type Client struct {
	cfg     WebSocketConfig
	log     *logger.Logger
	dialer  *websocket.Dialer
	tracker *Tracker

	mu        sync.Mutex // guards conn and serialises writes
	conn      *websocket.Conn
	connected atomic.Bool
	stopRead  context.CancelFunc
}

// NewWebSocket creates a live table feed.
func NewWebSocket(cfg WebSocketConfig, log *logger.Logger) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Minute
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:     cfg,
		log:     log.With(logger.String("feed", "websocket"), logger.String("table", cfg.TableID)),
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: websocket.DefaultDialer.Proxy},
		tracker: NewTracker("websocket", cfg.Backfill),
	}
}

func (c *Client) Name() string { return "websocket" }

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect %s: %w", c.cfg.URL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)
	c.log.Info("websocket connected", logger.String("url", c.cfg.URL))
	return nil
}

type subscribeMessage struct {
	Type           string   `json:"type"`
	IsDeltaEnabled bool     `json:"isDeltaEnabled"`
	CasinoID       string   `json:"casinoId"`
	Key            []string `json:"key"`
	Currency       string   `json:"currency"`
}

type pingMessage struct {
	Type     string `json:"type"`
	PingTime int64  `json:"pingTime"`
}

// Subscribe asks the table for result frames.
func (c *Client) Subscribe(ctx context.Context) error {
	if !c.connected.Load() {
		return fmt.Errorf("websocket subscribe: %w", models.ErrFeedDisconnected)
	}
	msg := subscribeMessage{
		Type:           "subscribe",
		IsDeltaEnabled: true,
		CasinoID:       c.cfg.CasinoID,
		Key:            []string{c.cfg.TableID},
		Currency:       c.cfg.Currency,
	}
	if err := c.writeJSON(msg); err != nil {
		return fmt.Errorf("subscribe table %s: %w", c.cfg.TableID, err)
	}
	c.log.Info("subscribed", logger.String("casino", c.cfg.CasinoID), logger.String("currency", c.cfg.Currency))
	return nil
}

func (c *Client) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return models.ErrFeedDisconnected
	}
	return c.conn.WriteJSON(v)
}

// Read streams spins from the current connection. The channels close when
// that connection fails or ctx ends; call Read again after Reconnect.
func (c *Client) Read(ctx context.Context) (<-chan *models.SpinEvent, <-chan error) {
	events := make(chan *models.SpinEvent, 64)
	errs := make(chan error, 1)

	rctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.stopRead != nil {
		c.stopRead()
	}
	c.stopRead = cancel
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		cancel()
		errs <- fmt.Errorf("websocket read: %w", models.ErrFeedDisconnected)
		close(events)
		close(errs)
		return events, errs
	}

	go c.pingLoop(rctx)

	go func() {
		defer close(events)
		defer close(errs)
		defer cancel()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if rctx.Err() != nil {
					return
				}
				c.connected.Store(false)
				errs <- fmt.Errorf("websocket read: %w", err)
				return
			}
			f, err := ParseFrame(b)
			if err != nil {
				c.log.Debug("ignoring frame", logger.Error(err))
				continue
			}
			for _, e := range c.tracker.Events(f) {
				select {
				case events <- e:
				case <-rctx.Done():
					return
				}
			}
		}
	}()

	// unblock ReadMessage when the caller goes away
	go func() {
		<-rctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	return events, errs
}

func (c *Client) pingLoop(ctx context.Context) {
	send := func() {
		if err := c.writeJSON(pingMessage{Type: "ping", PingTime: util.UnixMillis(time.Now())}); err != nil {
			c.log.Warn("ping failed", logger.Error(err))
		}
	}
	send()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

// Reconnect retries Connect and Subscribe with exponential backoff and
// jitter. After MaxRetries failures it returns ErrFeedDisconnected.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()

	attempts := c.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	delay := c.cfg.ReconnectDelay
	var lastErr error
	for i := 1; i <= attempts; i++ {
		wait := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		c.log.Warn("reconnecting", logger.Int("attempt", i), logger.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if lastErr = c.Connect(ctx); lastErr == nil {
			if lastErr = c.Subscribe(ctx); lastErr == nil {
				return nil
			}
			_ = c.Close()
		}
		if errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
	return fmt.Errorf("%w: %d reconnect attempts failed: %v", models.ErrFeedDisconnected, attempts, lastErr)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRead != nil {
		c.stopRead()
		c.stopRead = nil
	}
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

var _ drepo.SpinFeed = (*Client)(nil)
