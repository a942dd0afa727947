// Package monitor drives inbound channel messages through classification
// and storage for the lifetime of the process.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"newsmon/internal/gigachat"
	"newsmon/internal/store"
	"newsmon/internal/transport"
)

const untitledChannel = "Без названия"

// PostStore is the slice of the store the monitor needs.
type PostStore interface {
	SavePost(ctx context.Context, in store.PostInput) (bool, error)
	DistinctThemes(ctx context.Context) ([]string, error)
}

// Classifier labels post text against a vocabulary. Implementations never
// fail outward; degraded results carry the sentinel label.
type Classifier interface {
	Classify(ctx context.Context, text string, vocabulary []string) []string
}

// Sweeper runs one retention pass.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// Monitor subscribes to the channel transport and persists classified
// posts. It implements transport.Handler; events arrive serially, so the
// channel map needs no locking.
type Monitor struct {
	conn          transport.Conn
	store         PostStore
	classifier    Classifier
	sweeper       Sweeper
	defaultThemes []string
	logger        *slog.Logger

	channels map[int64]transport.Chat
}

// New creates a monitor. defaultThemes is the vocabulary fallback used
// when the user-themes collaborator is empty or unreachable; it must end
// with the sentinel label.
func New(conn transport.Conn, st PostStore, classifier Classifier, sweeper Sweeper, defaultThemes []string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		conn:          conn,
		store:         st,
		classifier:    classifier,
		sweeper:       sweeper,
		defaultThemes: defaultThemes,
		logger:        logger,
		channels:      make(map[int64]transport.Chat),
	}
}

// Run loads the channel list, triggers one retention sweep, and consumes
// transport events until ctx is cancelled or the transport fails.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.loadChannels(ctx); err != nil {
		// Channels are also discovered lazily per message, so a failed
		// bulk listing degrades startup rather than aborting it.
		m.logger.Warn("channel listing failed", "error", err)
	}

	if m.sweeper != nil {
		m.sweeper.Sweep(ctx)
	}

	m.logger.Info("channel monitoring started", "channels", len(m.channels))
	return m.conn.Run(ctx, m)
}

func (m *Monitor) loadChannels(ctx context.Context) error {
	chats, err := m.conn.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	m.channels = make(map[int64]transport.Chat)
	for _, chat := range chats {
		if chat.Type != transport.ChatTypeChannel {
			continue
		}
		m.channels[chat.ID] = normalizeChannel(chat)
		m.logger.Info("monitoring channel", "id", chat.ID, "title", m.channels[chat.ID].Title)
	}

	if len(m.channels) == 0 {
		m.logger.Warn("no channels found; the account may not be subscribed to any")
	}

	return nil
}

// HandleMessage runs one message through the classify-filter-save pipeline.
// Failures are logged and the message is dropped; ingestion continues.
func (m *Monitor) HandleMessage(ctx context.Context, msg transport.Message) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	channel, ok := m.resolveChannel(ctx, msg.ChatID)
	if !ok {
		return
	}

	m.logger.Debug("post received",
		"channel", channel.Title, "preview", firstNRunes(msg.Text, 50))

	labels := m.classifier.Classify(ctx, msg.Text, m.vocabulary(ctx))
	if len(labels) == 1 && labels[0] == gigachat.LabelUnclassified {
		m.logger.Debug("post skipped: no matching theme", "channel", channel.Title)
		return
	}

	var publishedAt time.Time
	if msg.Time > 0 {
		publishedAt = time.Unix(msg.Time, 0)
	}

	saved, err := m.store.SavePost(ctx, store.PostInput{
		ChannelID:       strconv.FormatInt(channel.ID, 10),
		ChannelTitle:    channel.Title,
		ChannelUsername: channel.Username,
		Permalink:       buildPermalink(channel, msg.ID),
		Text:            msg.Text,
		Labels:          labels,
		Tags:            []string{},
		PublishedAt:     publishedAt,
	})
	if err != nil {
		m.logger.Error("failed to save post", "channel", channel.Title, "error", err)
		return
	}

	if saved {
		m.logger.Info("post saved",
			"channel", channel.Title, "labels", labels, "preview", firstNRunes(msg.Text, 30))
	} else {
		m.logger.Debug("post skipped: duplicate", "channel", channel.Title)
	}
}

// HandleChatUpdate refreshes cached channel metadata in place. The cache
// key never changes; only title, username, and link are updated.
func (m *Monitor) HandleChatUpdate(_ context.Context, chat transport.Chat) {
	if chat.Type != transport.ChatTypeChannel {
		return
	}
	if _, ok := m.channels[chat.ID]; !ok {
		return
	}

	m.channels[chat.ID] = normalizeChannel(chat)
	m.logger.Debug("channel metadata updated", "id", chat.ID, "title", chat.Title)
}

// resolveChannel returns the cached channel for chatID, registering
// previously-unseen channels on the fly. Messages from non-channel chats
// resolve to false.
func (m *Monitor) resolveChannel(ctx context.Context, chatID int64) (transport.Chat, bool) {
	if channel, ok := m.channels[chatID]; ok {
		return channel, true
	}

	chat, err := m.conn.GetChat(ctx, chatID)
	if err != nil {
		m.logger.Debug("chat lookup failed", "chat_id", chatID, "error", err)
		return transport.Chat{}, false
	}
	if chat.Type != transport.ChatTypeChannel {
		return transport.Chat{}, false
	}

	channel := normalizeChannel(chat)
	m.channels[chat.ID] = channel
	m.logger.Info("new channel discovered", "id", chat.ID, "title", channel.Title)
	return channel, true
}

// vocabulary returns the current theme vocabulary, re-read per message so
// newly added user themes take effect without a restart.
func (m *Monitor) vocabulary(ctx context.Context) []string {
	themes, err := m.store.DistinctThemes(ctx)
	if err != nil {
		m.logger.Warn("failed to load themes, using defaults", "error", err)
		return m.defaultThemes
	}
	if len(themes) == 0 {
		return m.defaultThemes
	}

	for _, theme := range themes {
		if theme == gigachat.LabelUnclassified {
			return themes
		}
	}
	return append(themes, gigachat.LabelUnclassified)
}

func normalizeChannel(chat transport.Chat) transport.Chat {
	if strings.TrimSpace(chat.Title) == "" {
		chat.Title = untitledChannel
	}
	return chat
}

// buildPermalink derives the canonical post URL used as half of the dedup
// key: username form first, then the chat's own link, then the internal-id
// form. Deterministic for a given channel state.
func buildPermalink(channel transport.Chat, messageID int64) string {
	switch {
	case channel.Username != "":
		return fmt.Sprintf("https://max.ru/%s/%d", channel.Username, messageID)
	case channel.Link != "":
		return fmt.Sprintf("%s/%d", strings.TrimSuffix(channel.Link, "/"), messageID)
	default:
		return fmt.Sprintf("https://max.ru/c/%d/%d", channel.ID, messageID)
	}
}

func firstNRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
