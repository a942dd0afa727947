// Package transport connects to the messenger's websocket gateway and
// delivers channel events to a handler.
package transport

import "context"

// ChatTypeChannel marks broadcast-style sources. Other chat types
// (dialogs, group chats) are ignored by the monitor.
const ChatTypeChannel = "channel"

// Chat is a conversation entity known to the transport.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"chat_type"`
	Title    string `json:"title"`
	Username string `json:"username,omitempty"`
	Link     string `json:"link,omitempty"`
}

// Message is one inbound post event.
type Message struct {
	ID     int64  `json:"id"`
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
	Time   int64  `json:"time"` // epoch seconds; 0 when the source omits it
}

// Handler receives transport events. Events are dispatched one at a time;
// the next event is not delivered until the handler returns.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandleChatUpdate(ctx context.Context, chat Chat)
}

// Conn is the seam between the monitor and the transport implementation.
type Conn interface {
	// ListChats returns all chats visible to the logged-in account.
	ListChats(ctx context.Context) ([]Chat, error)

	// GetChat resolves a single chat by id.
	GetChat(ctx context.Context, id int64) (Chat, error)

	// Run dispatches events to h until ctx is cancelled (returns nil) or
	// the connection fails (returns the error).
	Run(ctx context.Context, h Handler) error

	// Close releases the underlying connection.
	Close() error
}
