package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"paircast/internal/infrastructure/signal"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrAckTimeout is returned when the relay does not answer a register or
// join request within the ack timeout.
var ErrAckTimeout = errors.New("signalclient: timed out waiting for relay acknowledgement")

// ErrNotConnected is returned when an operation requires a live relay
// connection and there is none.
var ErrNotConnected = errors.New("signalclient: not connected to relay")

const (
	defaultConnectTimeout = 5 * time.Second
	defaultAckTimeout     = 5 * time.Second
	writeTimeout          = 10 * time.Second
)

// Client maintains a websocket connection to the pairing relay. Register
// and join block until the relay acknowledges; negotiation sends are
// fire-and-forget. Incoming relay messages are dispatched to the
// registered callbacks from a single reader goroutine.
type Client struct {
	connectTimeout time.Duration
	ackTimeout     time.Duration
	logger         *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	code   string
	closed bool
	done   chan struct{}

	// pending receives the next register-result or join-result frame.
	pending chan signal.Envelope

	cbMu               sync.Mutex
	onOffer            func(sdp string)
	onAnswer           func(sdp string)
	onCandidate        func(candidate string)
	onPeerJoined       func()
	onPeerDisconnected func()
}

// Option customizes a Client.
type Option func(*Client)

// WithConnectTimeout overrides the relay dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithAckTimeout overrides how long register and join wait for the relay.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Client) { c.ackTimeout = d }
}

func New(logger *zap.SugaredLogger, opts ...Option) *Client {
	c := &Client{
		connectTimeout: defaultConnectTimeout,
		ackTimeout:     defaultAckTimeout,
		logger:         logger,
		pending:        make(chan signal.Envelope, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the relay and starts the reader goroutine.
func (c *Client) Connect(ctx context.Context, relayURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("signalclient: already connected")
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("dialing relay %s: %w", relayURL, err)
	}

	c.conn = conn
	c.closed = false
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)

	c.logger.Infow("connected to relay", "url", relayURL)
	return nil
}

// RegisterAsSource asks the relay for a pairing code and stores it on the
// client for subsequent negotiation sends.
func (c *Client) RegisterAsSource(ctx context.Context) (string, error) {
	if err := c.send(signal.TypeRegisterSource, nil); err != nil {
		return "", err
	}

	env, err := c.awaitAck(ctx, signal.TypeRegisterResult)
	if err != nil {
		return "", err
	}

	var result signal.RegisterResultPayload
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return "", fmt.Errorf("decoding register result: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("relay rejected registration: %s", result.Error)
	}

	c.mu.Lock()
	c.code = result.Code
	c.mu.Unlock()
	return result.Code, nil
}

// JoinAsViewer attempts to claim the session identified by code. On
// success the code is stored for subsequent negotiation sends.
func (c *Client) JoinAsViewer(ctx context.Context, code string) error {
	if err := c.send(signal.TypeJoinViewer, signal.JoinPayload{Code: code}); err != nil {
		return err
	}

	env, err := c.awaitAck(ctx, signal.TypeJoinResult)
	if err != nil {
		return err
	}

	var result signal.JoinResultPayload
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		return fmt.Errorf("decoding join result: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("relay rejected join: %s", result.Error)
	}

	c.mu.Lock()
	c.code = code
	c.mu.Unlock()
	return nil
}

// Code returns the pairing code from the last successful register or join.
func (c *Client) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Client) SendOffer(sdp string) error {
	return c.send(signal.TypeOffer, signal.SDPPayload{Code: c.Code(), SDP: sdp})
}

func (c *Client) SendAnswer(sdp string) error {
	return c.send(signal.TypeAnswer, signal.SDPPayload{Code: c.Code(), SDP: sdp})
}

func (c *Client) SendCandidate(candidate string, isSource bool) error {
	return c.send(signal.TypeICECandidate, signal.CandidatePayload{
		Code:      c.Code(),
		Candidate: candidate,
		IsSource:  isSource,
	})
}

// Callback registration. Each slot holds a single handler; registering
// again replaces the previous one.

func (c *Client) OnOffer(fn func(sdp string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onOffer = fn
}

func (c *Client) OnAnswer(fn func(sdp string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onAnswer = fn
}

func (c *Client) OnCandidate(fn func(candidate string)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onCandidate = fn
}

func (c *Client) OnPeerJoined(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onPeerJoined = fn
}

func (c *Client) OnPeerDisconnected(fn func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onPeerDisconnected = fn
}

// Close tears down the relay connection and clears all callbacks. It is
// safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cbMu.Lock()
	c.onOffer = nil
	c.onAnswer = nil
	c.onCandidate = nil
	c.onPeerJoined = nil
	c.onPeerDisconnected = nil
	c.cbMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) send(msgType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return ErrNotConnected
	}

	env := signal.Envelope{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", msgType, err)
		}
		env.Payload = data
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("sending %s: %w", msgType, err)
	}
	return nil
}

func (c *Client) awaitAck(ctx context.Context, want string) (signal.Envelope, error) {
	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	for {
		select {
		case env := <-c.pending:
			if env.Type != want {
				continue
			}
			return env, nil
		case <-timer.C:
			return signal.Envelope{}, ErrAckTimeout
		case <-ctx.Done():
			return signal.Envelope{}, ctx.Err()
		case <-c.done:
			return signal.Envelope{}, ErrNotConnected
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		var env signal.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warnw("relay connection lost", "error", err)
				c.dispatchPeerDisconnected()
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env signal.Envelope) {
	switch env.Type {
	case signal.TypeRegisterResult, signal.TypeJoinResult:
		select {
		case c.pending <- env:
		default:
			c.logger.Warnw("dropping unexpected ack frame", "type", env.Type)
		}

	case signal.TypeOffer:
		var p signal.SDPPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warnw("malformed offer from relay", "error", err)
			return
		}
		if fn := c.offerCallback(); fn != nil {
			fn(p.SDP)
		}

	case signal.TypeAnswer:
		var p signal.SDPPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warnw("malformed answer from relay", "error", err)
			return
		}
		if fn := c.answerCallback(); fn != nil {
			fn(p.SDP)
		}

	case signal.TypeICECandidate:
		var p signal.CandidatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warnw("malformed candidate from relay", "error", err)
			return
		}
		if fn := c.candidateCallback(); fn != nil {
			fn(p.Candidate)
		}

	case signal.TypePeerJoined:
		c.cbMu.Lock()
		fn := c.onPeerJoined
		c.cbMu.Unlock()
		if fn != nil {
			fn()
		}

	case signal.TypePeerDisconnected:
		c.dispatchPeerDisconnected()

	default:
		c.logger.Debugw("ignoring unknown relay message", "type", env.Type)
	}
}

func (c *Client) offerCallback() func(string) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return c.onOffer
}

func (c *Client) answerCallback() func(string) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return c.onAnswer
}

func (c *Client) candidateCallback() func(string) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return c.onCandidate
}

func (c *Client) dispatchPeerDisconnected() {
	c.cbMu.Lock()
	fn := c.onPeerDisconnected
	c.cbMu.Unlock()
	if fn != nil {
		fn()
	}
}
