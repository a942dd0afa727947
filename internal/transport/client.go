package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	authTimeout    = 30 * time.Second
	requestTimeout = 30 * time.Second
	eventBuffer    = 256

	deviceType = "DESKTOP"
	appVersion = "25.12.13"
)

// Frame types exchanged with the gateway.
const (
	frameAuth       = "auth"
	frameAuthOK     = "auth_ok"
	frameLoginCode  = "login_code"
	frameQR         = "qr"
	frameError      = "error"
	frameResponse   = "response"
	frameMessage    = "message"
	frameChatUpdate = "chat_update"
	frameListChats  = "list_chats"
	frameGetChat    = "get_chat"
)

type frame struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type authPayload struct {
	Phone      string `json:"phone"`
	LoginMode  string `json:"login_mode"`
	DeviceType string `json:"device_type"`
	AppVersion string `json:"app_version"`
	WorkDir    string `json:"work_dir,omitempty"`
}

type qrPayload struct {
	URL string `json:"url"`
}

// Client is a websocket connection to the messenger gateway. Dial performs
// the login handshake and starts the read loop; ListChats and GetChat may
// be called from any goroutine afterwards, including from event handlers.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex // gorilla allows one concurrent writer

	seqMu sync.Mutex
	seq   int64

	pendingMu sync.Mutex
	pending   map[int64]chan frame

	events  chan frame
	readErr chan error
}

// Options configures Dial.
type Options struct {
	URL       string
	Phone     string
	LoginMode string // "phone_code" or "qr"
	WorkDir   string // session cache directory, forwarded to the gateway
	Logger    *slog.Logger
}

// Dial connects, logs in, and starts reading events. The returned client
// buffers events until Run drains them.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("transport: url is required")
	}
	if opts.Phone == "" {
		return nil, errors.New("transport: phone is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", opts.URL, err)
	}

	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan frame),
		events:  make(chan frame, eventBuffer),
		readErr: make(chan error, 1),
	}

	if err := c.login(opts); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()

	return c, nil
}

// login runs the auth handshake synchronously, before the read loop owns
// the connection.
func (c *Client) login(opts Options) error {
	payload, err := json.Marshal(authPayload{
		Phone:      opts.Phone,
		LoginMode:  opts.LoginMode,
		DeviceType: deviceType,
		AppVersion: appVersion,
		WorkDir:    opts.WorkDir,
	})
	if err != nil {
		return fmt.Errorf("transport: marshal auth payload: %w", err)
	}

	if err := c.writeFrame(frame{Type: frameAuth, Payload: payload}); err != nil {
		return fmt.Errorf("transport: send auth: %w", err)
	}

	deadline := time.Now().Add(authTimeout)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("transport: set auth deadline: %w", err)
		}

		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("transport: read auth response: %w", err)
		}

		switch f.Type {
		case frameAuthOK:
			if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
				return fmt.Errorf("transport: clear read deadline: %w", err)
			}
			c.logger.Info("transport login complete", "phone", opts.Phone)
			return nil
		case frameLoginCode:
			c.logger.Info("confirmation code sent, waiting for approval", "phone", opts.Phone)
		case frameQR:
			var qr qrPayload
			if err := json.Unmarshal(f.Payload, &qr); err != nil {
				return fmt.Errorf("transport: decode qr payload: %w", err)
			}
			c.logger.Info("scan the QR code to log in", "url", qr.URL)
		case frameError:
			return fmt.Errorf("transport: login rejected: %s", f.Error)
		default:
			return fmt.Errorf("transport: unexpected frame %q during login", f.Type)
		}
	}
}

func (c *Client) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.readErr <- fmt.Errorf("transport: read: %w", err)
			close(c.events)
			return
		}

		switch f.Type {
		case frameResponse, frameError:
			c.pendingMu.Lock()
			ch, ok := c.pending[f.Seq]
			if ok {
				delete(c.pending, f.Seq)
			}
			c.pendingMu.Unlock()
			if !ok {
				c.logger.Warn("response for unknown request", "seq", f.Seq, "type", f.Type)
				continue
			}
			ch <- f
		case frameMessage, frameChatUpdate:
			select {
			case c.events <- f:
			default:
				// The pipeline is behind; dropping one event is preferable
				// to unbounded memory growth. Duplicate suppression in the
				// store makes redelivery safe.
				c.logger.Warn("event buffer full, dropping event", "type", f.Type)
			}
		default:
			c.logger.Warn("unknown frame type", "type", f.Type)
		}
	}
}

// Run dispatches buffered and live events to h until ctx is cancelled or
// the read loop fails. The in-flight handler call always completes.
func (c *Client) Run(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.readErr:
			return err
		case f, ok := <-c.events:
			if !ok {
				return <-c.readErr
			}
			c.dispatch(ctx, f, h)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, f frame, h Handler) {
	switch f.Type {
	case frameMessage:
		var msg Message
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			c.logger.Warn("malformed message event", "error", err)
			return
		}
		h.HandleMessage(ctx, msg)
	case frameChatUpdate:
		var chat Chat
		if err := json.Unmarshal(f.Payload, &chat); err != nil {
			c.logger.Warn("malformed chat_update event", "error", err)
			return
		}
		h.HandleChatUpdate(ctx, chat)
	}
}

// ListChats returns all chats visible to the account.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	resp, err := c.request(ctx, frameListChats, nil)
	if err != nil {
		return nil, err
	}

	var chats []Chat
	if err := json.Unmarshal(resp, &chats); err != nil {
		return nil, fmt.Errorf("transport: decode chat list: %w", err)
	}
	return chats, nil
}

type getChatPayload struct {
	ID int64 `json:"id"`
}

// GetChat resolves a single chat by id.
func (c *Client) GetChat(ctx context.Context, id int64) (Chat, error) {
	payload, err := json.Marshal(getChatPayload{ID: id})
	if err != nil {
		return Chat{}, fmt.Errorf("transport: marshal get_chat payload: %w", err)
	}

	resp, err := c.request(ctx, frameGetChat, payload)
	if err != nil {
		return Chat{}, err
	}

	var chat Chat
	if err := json.Unmarshal(resp, &chat); err != nil {
		return Chat{}, fmt.Errorf("transport: decode chat: %w", err)
	}
	return chat, nil
}

func (c *Client) request(ctx context.Context, frameType string, payload json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	c.seqMu.Lock()
	c.seq++
	seq := c.seq
	c.seqMu.Unlock()

	ch := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	if err := c.writeFrame(frame{Type: frameType, Seq: seq, Payload: payload}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("transport: send %s: %w", frameType, err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("transport: %s: %w", frameType, ctx.Err())
	case f := <-ch:
		if f.Type == frameError {
			return nil, fmt.Errorf("transport: %s failed: %s", frameType, f.Error)
		}
		return f.Payload, nil
	}
}

func (c *Client) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// Close releases the websocket connection. Safe to call after Run returns.
func (c *Client) Close() error {
	return c.conn.Close()
}
