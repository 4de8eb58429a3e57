// Package ws implements caresync.DocumentStore as a client of the portal's
// live-query gateway. A single websocket carries every subscription and
// request for the connection; the gateway multiplexes by subscription and
// request id.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	stdSync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/telecare/caresync"
	syncErrors "github.com/telecare/caresync/errors"
	"github.com/telecare/caresync/logging"
)

// Message types exchanged with the gateway.
const (
	msgSubscribe    = "subscribe"
	msgSubscribeDoc = "subscribe_doc"
	msgUnsubscribe  = "unsubscribe"
	msgWrite        = "write"
	msgRead         = "read"
	msgAck          = "ack"
	msgBatch        = "batch"
	msgDocument     = "document"
	msgError        = "error"
)

// message is the JSON frame format shared by both directions of the wire.
// Fields are populated per Type; the rest stay empty.
type message struct {
	Type       string                    `json:"type"`
	SubID      string                    `json:"sub_id,omitempty"`
	ReqID      string                    `json:"req_id,omitempty"`
	Collection string                    `json:"collection,omitempty"`
	ID         string                    `json:"id,omitempty"`
	Filters    caresync.Filters          `json:"filters,omitempty"`
	Write      *caresync.WriteRequest    `json:"write,omitempty"`
	Envelopes  []caresync.UpdateEnvelope `json:"envelopes,omitempty"`
	Envelope   *caresync.UpdateEnvelope  `json:"envelope,omitempty"`
	Document   caresync.Document         `json:"document,omitempty"`
	Found      bool                      `json:"found,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// Config holds gateway client configuration.
type Config struct {
	// GatewayURL is the websocket endpoint, e.g. "wss://portal/sync".
	GatewayURL string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// PingInterval is how often to ping the gateway to keep intermediaries
	// from dropping an idle connection.
	PingInterval time.Duration

	// RequestTimeout bounds a write or read round trip when the caller's
	// context carries no deadline of its own.
	RequestTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig(gatewayURL string) *Config {
	config := &Config{GatewayURL: gatewayURL}
	config.setDefaults()
	return config
}

type collectionSub struct {
	onUpdate caresync.UpdateHandler
	onError  caresync.ErrorHandler
}

type documentSub struct {
	onUpdate caresync.DocumentHandler
	onError  caresync.ErrorHandler
}

// GatewayClient implements caresync.DocumentStore over a websocket
// connection to the live-query gateway.
type GatewayClient struct {
	conn   *websocket.Conn
	config *Config
	logger *logging.Logger

	// writeMu serializes frame writes; gorilla connections support one
	// concurrent writer.
	writeMu stdSync.Mutex

	mu             stdSync.RWMutex
	collectionSubs map[string]*collectionSub
	documentSubs   map[string]*documentSub
	pending        map[string]chan message

	closed int32
	done   chan struct{}
}

var _ caresync.DocumentStore = (*GatewayClient)(nil)

// New dials the gateway and returns a connected client.
func New(ctx context.Context, config *Config) (*GatewayClient, error) {
	if config == nil || config.GatewayURL == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubscribe,
			fmt.Errorf("gateway URL is required"))
	}
	config.setDefaults()

	logger := logging.Default().WithComponent(logging.Component("ws-gateway"))
	logger.Info("dialing sync gateway", slog.String("url", config.GatewayURL))

	dialer := websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, config.GatewayURL, nil)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpSubscribe,
			fmt.Errorf("dialing gateway: %w", err))
	}

	c := &GatewayClient{
		conn:           conn,
		config:         config,
		logger:         logger,
		collectionSubs: make(map[string]*collectionSub),
		documentSubs:   make(map[string]*documentSub),
		pending:        make(map[string]chan message),
		done:           make(chan struct{}),
	}

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// readLoop is the single reader of the connection. It dispatches pushed
// envelopes to subscriptions and acks to their waiting request.
func (c *GatewayClient) readLoop() {
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if atomic.LoadInt32(&c.closed) == 0 {
				c.logger.Warn("gateway connection lost", slog.Any("error", err))
				c.broadcastError(syncErrors.NewNetworkError(syncErrors.OpSubscribe,
					fmt.Errorf("gateway connection lost: %w", err)))
			}
			return
		}

		switch msg.Type {
		case msgBatch:
			c.mu.RLock()
			sub, ok := c.collectionSubs[msg.SubID]
			c.mu.RUnlock()
			if ok {
				sub.onUpdate(msg.Envelopes)
			}

		case msgDocument:
			c.mu.RLock()
			sub, ok := c.documentSubs[msg.SubID]
			c.mu.RUnlock()
			if ok && msg.Envelope != nil {
				sub.onUpdate(*msg.Envelope)
			}

		case msgAck:
			c.mu.Lock()
			ch, ok := c.pending[msg.ReqID]
			if ok {
				delete(c.pending, msg.ReqID)
			}
			c.mu.Unlock()
			if ok {
				ch <- msg
			}

		case msgError:
			c.deliverError(msg)

		default:
			c.logger.Warn("unknown gateway frame", slog.String("type", msg.Type))
		}
	}
}

// deliverError routes a gateway error frame to the scoped subscription, or
// to every subscription when the frame carries no sub_id.
func (c *GatewayClient) deliverError(msg message) {
	err := syncErrors.NewNetworkError(syncErrors.OpSubscribe, fmt.Errorf("%s", msg.Error))
	if msg.SubID == "" {
		c.broadcastError(err)
		return
	}

	c.mu.RLock()
	var onError caresync.ErrorHandler
	if sub, ok := c.collectionSubs[msg.SubID]; ok {
		onError = sub.onError
	} else if sub, ok := c.documentSubs[msg.SubID]; ok {
		onError = sub.onError
	}
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
	}
}

func (c *GatewayClient) broadcastError(err error) {
	c.mu.RLock()
	handlers := make([]caresync.ErrorHandler, 0, len(c.collectionSubs)+len(c.documentSubs))
	for _, sub := range c.collectionSubs {
		if sub.onError != nil {
			handlers = append(handlers, sub.onError)
		}
	}
	for _, sub := range c.documentSubs {
		if sub.onError != nil {
			handlers = append(handlers, sub.onError)
		}
	}
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(err)
	}
}

func (c *GatewayClient) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil && atomic.LoadInt32(&c.closed) == 0 {
				c.logger.Warn("gateway ping failed", slog.Any("error", err))
			}
		}
	}
}

// send writes one frame under the writer lock.
func (c *GatewayClient) send(msg message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpWrite,
			fmt.Errorf("writing gateway frame: %w", err))
	}
	return nil
}

// roundTrip sends a frame that expects an ack and waits for it.
func (c *GatewayClient) roundTrip(ctx context.Context, msg message) (message, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	ch := make(chan message, 1)
	c.mu.Lock()
	c.pending[msg.ReqID] = ch
	c.mu.Unlock()

	if err := c.send(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, msg.ReqID)
		c.mu.Unlock()
		return message{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, msg.ReqID)
		c.mu.Unlock()
		return message{}, syncErrors.NewNetworkError(syncErrors.OpWrite,
			fmt.Errorf("waiting for gateway ack: %w", ctx.Err()))
	case <-c.done:
		return message{}, syncErrors.E(syncErrors.OpWrite, syncErrors.Component("ws-gateway"),
			syncErrors.KindClosed, fmt.Errorf("client is closed"))
	}
}

// Subscribe opens a live query on the gateway. The gateway delivers the
// initial snapshot as the first batch frame for the subscription.
func (c *GatewayClient) Subscribe(ctx context.Context, collection string, filters caresync.Filters, onUpdate caresync.UpdateHandler, onError caresync.ErrorHandler) (func(), error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, syncErrors.E(syncErrors.OpSubscribe, syncErrors.Component("ws-gateway"),
			syncErrors.KindClosed, fmt.Errorf("client is closed"))
	}

	subID := uuid.NewString()

	c.mu.Lock()
	c.collectionSubs[subID] = &collectionSub{onUpdate: onUpdate, onError: onError}
	c.mu.Unlock()

	ack, err := c.roundTrip(ctx, message{
		Type:       msgSubscribe,
		ReqID:      subID,
		SubID:      subID,
		Collection: collection,
		Filters:    filters,
	})
	if err == nil && ack.Error != "" {
		err = syncErrors.NewNetworkError(syncErrors.OpSubscribe, fmt.Errorf("%s", ack.Error))
	}
	if err != nil {
		c.mu.Lock()
		delete(c.collectionSubs, subID)
		c.mu.Unlock()
		return nil, err
	}

	return func() { c.unsubscribe(subID) }, nil
}

// SubscribeDocument opens a live query over exactly one document.
func (c *GatewayClient) SubscribeDocument(ctx context.Context, collection, id string, onUpdate caresync.DocumentHandler, onError caresync.ErrorHandler) (func(), error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, syncErrors.E(syncErrors.OpSubscribe, syncErrors.Component("ws-gateway"),
			syncErrors.KindClosed, fmt.Errorf("client is closed"))
	}

	subID := uuid.NewString()

	c.mu.Lock()
	c.documentSubs[subID] = &documentSub{onUpdate: onUpdate, onError: onError}
	c.mu.Unlock()

	ack, err := c.roundTrip(ctx, message{
		Type:       msgSubscribeDoc,
		ReqID:      subID,
		SubID:      subID,
		Collection: collection,
		ID:         id,
	})
	if err == nil && ack.Error != "" {
		err = syncErrors.NewNetworkError(syncErrors.OpSubscribe, fmt.Errorf("%s", ack.Error))
	}
	if err != nil {
		c.mu.Lock()
		delete(c.documentSubs, subID)
		c.mu.Unlock()
		return nil, err
	}

	return func() { c.unsubscribe(subID) }, nil
}

func (c *GatewayClient) unsubscribe(subID string) {
	c.mu.Lock()
	_, hadCollection := c.collectionSubs[subID]
	_, hadDocument := c.documentSubs[subID]
	delete(c.collectionSubs, subID)
	delete(c.documentSubs, subID)
	c.mu.Unlock()

	if !hadCollection && !hadDocument {
		return
	}
	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}

	// Best effort: the gateway also reaps subscriptions when the
	// connection drops.
	if err := c.send(message{Type: msgUnsubscribe, SubID: subID}); err != nil {
		c.logger.Warn("unsubscribe frame failed", slog.Any("error", err))
	}
}

// Write performs a point write through the gateway.
func (c *GatewayClient) Write(ctx context.Context, req caresync.WriteRequest) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return syncErrors.E(syncErrors.OpWrite, syncErrors.Component("ws-gateway"),
			syncErrors.KindClosed, fmt.Errorf("client is closed"))
	}

	ack, err := c.roundTrip(ctx, message{
		Type:  msgWrite,
		ReqID: uuid.NewString(),
		Write: &req,
	})
	if err != nil {
		return err
	}
	if ack.Error != "" {
		return syncErrors.E(syncErrors.OpWrite, syncErrors.Component("ws-gateway"),
			syncErrors.ErrCodeStorageFailure, fmt.Errorf("%s", ack.Error))
	}
	return nil
}

// Read performs a point read through the gateway. A missing document reads
// as (nil, nil).
func (c *GatewayClient) Read(ctx context.Context, collection, id string) (caresync.Document, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, syncErrors.E(syncErrors.OpRead, syncErrors.Component("ws-gateway"),
			syncErrors.KindClosed, fmt.Errorf("client is closed"))
	}

	ack, err := c.roundTrip(ctx, message{
		Type:       msgRead,
		ReqID:      uuid.NewString(),
		Collection: collection,
		ID:         id,
	})
	if err != nil {
		return nil, err
	}
	if ack.Error != "" {
		return nil, syncErrors.E(syncErrors.OpRead, syncErrors.Component("ws-gateway"),
			syncErrors.ErrCodeStorageFailure, fmt.Errorf("%s", ack.Error))
	}
	if !ack.Found {
		return nil, nil
	}
	return ack.Document, nil
}

// Close tears down the connection. It is safe to call more than once.
func (c *GatewayClient) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	close(c.done)

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	err := c.conn.Close()

	// Waiters in roundTrip are released by the done channel.
	c.mu.Lock()
	c.pending = make(map[string]chan message)
	c.collectionSubs = make(map[string]*collectionSub)
	c.documentSubs = make(map[string]*documentSub)
	c.mu.Unlock()

	c.logger.Info("gateway client closed")
	return err
}
