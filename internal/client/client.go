package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lingolink/pkg/types"
)

// State is the client connection lifecycle. Transitions only move forward
// within one connection attempt; a drop resets to StateConnecting and the
// registration is replayed, so callers never re-register by hand.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a client for one role.
type Options struct {
	URL          string
	Role         string
	LanguageCode string
	Name         string
	// ClassroomCode is required for students. For teachers it is set
	// automatically after the first successful registration, so a
	// reconnect reclaims the same classroom.
	ClassroomCode string

	PingInterval time.Duration
	DialTimeout  time.Duration
	// MaxReconnects bounds the retry loop per outage; 0 means retry
	// until the context is done.
	MaxReconnects uint

	Logger *zap.Logger
}

// Handlers are the application callbacks. Nil handlers are skipped.
// Callbacks run on the client's read goroutine; do not block in them.
type Handlers struct {
	OnTranslation    func(types.TranslationFrame)
	OnTranscription  func(types.TranscriptionFrame)
	OnStudentRequest func(types.StudentRequestFrame)
	OnRoster         func(types.RosterFrame)
	OnClassroomCode  func(code string, reclaimed bool)
	OnError          func(types.ErrorFrame)
	OnStateChange    func(State)
}

// Client is a reconnecting wrapper over the wire protocol, used by
// headless teacher bridges and by integration tooling. One goroutine
// reads, writes are serialized by a mutex.
type Client struct {
	opts     Options
	handlers Handlers
	logger   *zap.Logger

	mu        sync.RWMutex
	state     State
	sessionID string
	classroom string

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeOnce sync.Once
	closed    chan struct{}
}

func New(opts Options, handlers Handlers) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("client url is required")
	}
	if !types.IsValidRole(opts.Role) {
		return nil, types.ErrInvalidRole
	}
	if !types.IsValidLanguageCode(opts.LanguageCode) {
		return nil, types.ErrInvalidLanguageCode
	}
	if opts.Role == types.RoleStudent && opts.ClassroomCode == "" {
		return nil, fmt.Errorf("students need a classroom code")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Client{
		opts:      opts,
		handlers:  handlers,
		logger:    opts.Logger,
		state:     StateDisconnected,
		classroom: types.NormalizeClassroomCode(opts.ClassroomCode),
		closed:    make(chan struct{}),
	}, nil
}

// Run connects and keeps the session alive until ctx is done or Close is
// called. Each outage triggers a fresh dial-and-register cycle with
// exponential backoff; rejections that retrying cannot fix (bad code,
// full classroom) end the run instead.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		conn, err := c.connect(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			return err
		}

		err = c.serve(ctx, conn)
		_ = conn.Close()
		c.setState(StateDisconnected)

		if err != nil && isPermanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-c.closed:
			return nil
		default:
		}
		c.logger.Info("connection lost, reconnecting", zap.Error(err))
	}
}

// connect dials and registers with backoff, returning an open socket that
// has been acknowledged by the server.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.setState(StateConnecting)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 15 * time.Second

	opts := []backoff.RetryOption{backoff.WithBackOff(expo)}
	if c.opts.MaxReconnects > 0 {
		opts = append(opts, backoff.WithMaxTries(c.opts.MaxReconnects))
	}

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, err := c.dialAndRegister(ctx)
		if err != nil {
			if isPermanent(err) {
				return nil, backoff.Permanent(err)
			}
			c.logger.Debug("connection attempt failed", zap.Error(err))
			return nil, err
		}
		return conn, nil
	}, opts...)
}

func (c *Client) dialAndRegister(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.DialTimeout))
	var ack types.ConnectionAck
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read connection ack: %w", err)
	}
	if ack.Type != types.MessageTypeConnection {
		_ = conn.Close()
		return nil, fmt.Errorf("expected connection ack, got %q", ack.Type)
	}

	c.mu.Lock()
	c.sessionID = ack.SessionID
	code := c.classroom
	c.mu.Unlock()
	c.setState(StateConnected)

	register := map[string]interface{}{
		"type":         types.MessageTypeRegister,
		"role":         c.opts.Role,
		"languageCode": c.opts.LanguageCode,
		"name":         c.opts.Name,
	}
	if code != "" {
		register["classroomCode"] = code
	}
	if err := conn.WriteJSON(register); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send register: %w", err)
	}

	// Teachers wait for their classroom code before the socket counts as
	// usable; students are bound unless the server objects.
	if c.opts.Role == types.RoleTeacher {
		if err := c.awaitClassroomCode(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	} else {
		c.setState(StateBound)
	}

	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

func (c *Client) awaitClassroomCode(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.DialTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await classroom code: %w", err)
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			continue
		}

		switch head.Type {
		case types.MessageTypeClassroomCode:
			var frame types.ClassroomCodeFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				return fmt.Errorf("malformed classroom code frame: %w", err)
			}
			c.mu.Lock()
			c.classroom = frame.Code
			c.mu.Unlock()
			c.setState(StateBound)
			if c.handlers.OnClassroomCode != nil {
				c.handlers.OnClassroomCode(frame.Code, frame.Reclaimed)
			}
			return nil
		case types.MessageTypeError:
			var frame types.ErrorFrame
			_ = json.Unmarshal(data, &frame)
			return &registrationError{frame}
		}
	}
}

// serve runs the read loop and ping loop for one live connection.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	defer func() {
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
	}()

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.pingLoop(pingCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.handleFrame(data); err != nil {
			return err
		}
	}
}

func (c *Client) handleFrame(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.logger.Debug("dropping malformed frame", zap.Error(err))
		return nil
	}

	switch head.Type {
	case types.MessageTypeTranslation:
		var frame types.TranslationFrame
		if err := json.Unmarshal(data, &frame); err == nil && c.handlers.OnTranslation != nil {
			c.handlers.OnTranslation(frame)
		}
	case types.MessageTypeTranscription:
		var frame types.TranscriptionFrame
		if err := json.Unmarshal(data, &frame); err == nil && c.handlers.OnTranscription != nil {
			c.handlers.OnTranscription(frame)
		}
	case types.MessageTypeStudentRequest:
		var frame types.StudentRequestFrame
		if err := json.Unmarshal(data, &frame); err == nil && c.handlers.OnStudentRequest != nil {
			c.handlers.OnStudentRequest(frame)
		}
	case types.MessageTypeRoster:
		var frame types.RosterFrame
		if err := json.Unmarshal(data, &frame); err == nil && c.handlers.OnRoster != nil {
			c.handlers.OnRoster(frame)
		}
	case types.MessageTypeError:
		var frame types.ErrorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil
		}
		if c.handlers.OnError != nil {
			c.handlers.OnError(frame)
		}
		if fatalCode(frame.Code) {
			return &registrationError{frame}
		}
	case types.MessageTypePong, types.MessageTypeConnection:
		// Liveness and replay markers need no client action here.
	}
	return nil
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.send(map[string]interface{}{
				"type":      types.MessageTypePing,
				"timestamp": time.Now().UnixMilli(),
			})
		case <-ctx.Done():
			return
		}
	}
}

// SendAudioChunk streams one fragment of teacher speech.
func (c *Client) SendAudioChunk(data []byte, isFirst, isFinal bool) error {
	return c.send(map[string]interface{}{
		"type":         types.MessageTypeAudio,
		"data":         base64.StdEncoding.EncodeToString(data),
		"isFirstChunk": isFirst,
		"isFinalChunk": isFinal,
	})
}

// SendTranscript submits a transcript segment (manual mode or recognizer
// output). Only final segments are fanned out by the server.
func (c *Client) SendTranscript(text string, isFinal bool) error {
	return c.send(map[string]interface{}{
		"type":    types.MessageTypeTranscription,
		"text":    text,
		"isFinal": isFinal,
	})
}

// SendStudentRequest sends a text message to the teacher.
func (c *Client) SendStudentRequest(text, visibility string) error {
	return c.send(map[string]interface{}{
		"type":       types.MessageTypeStudentRequest,
		"text":       text,
		"visibility": visibility,
	})
}

// SendStudentAudio sends an audio message to the teacher.
func (c *Client) SendStudentAudio(data []byte, visibility string) error {
	return c.send(map[string]interface{}{
		"type":       types.MessageTypeStudentAudio,
		"data":       base64.StdEncoding.EncodeToString(data),
		"visibility": visibility,
	})
}

// SetMode switches the classroom teaching mode (teacher only).
func (c *Client) SetMode(mode string) error {
	return c.send(map[string]interface{}{
		"type": types.MessageTypeSettings,
		"mode": mode,
	})
}

func (c *Client) send(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(v)
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionID is the server-assigned connection id, empty until connected.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ClassroomCode is the bound classroom, empty until bound.
func (c *Client) ClassroomCode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.classroom
}

// Close ends the run loop and drops the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.writeMu.Unlock()
		c.setState(StateClosed)
	})
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed && c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(s)
	}
}

// registrationError is a server rejection that retrying cannot fix.
type registrationError struct {
	frame types.ErrorFrame
}

func (e *registrationError) Error() string {
	return fmt.Sprintf("registration rejected: %s (%s)", e.frame.Message, e.frame.Code)
}

func isPermanent(err error) bool {
	var regErr *registrationError
	return errors.As(err, &regErr)
}

// fatalCode reports whether an error frame ends the session rather than
// being advisory (rate limiting, a failed delivery).
func fatalCode(code types.ErrorCode) bool {
	switch code {
	case types.CodeClassroomNotFound,
		types.CodeClassroomExpired,
		types.CodeClassroomFull,
		types.CodeRegistrationRejected:
		return true
	default:
		return false
	}
}
