package monitor

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"newsmon/internal/gigachat"
	"newsmon/internal/store"
	"newsmon/internal/transport"
)

type fakeConn struct {
	chats    []transport.Chat
	listErr  error
	getErr   error
	getCalls int
}

func (f *fakeConn) ListChats(_ context.Context) ([]transport.Chat, error) {
	return f.chats, f.listErr
}

func (f *fakeConn) GetChat(_ context.Context, id int64) (transport.Chat, error) {
	f.getCalls++
	if f.getErr != nil {
		return transport.Chat{}, f.getErr
	}
	for _, chat := range f.chats {
		if chat.ID == id {
			return chat, nil
		}
	}
	return transport.Chat{}, errors.New("chat not found")
}

func (f *fakeConn) Run(_ context.Context, _ transport.Handler) error { return nil }
func (f *fakeConn) Close() error                                     { return nil }

type fakeStore struct {
	saves     []store.PostInput
	existing  map[string]bool
	saveErr   error
	themes    []string
	themesErr error
}

func (f *fakeStore) SavePost(_ context.Context, in store.PostInput) (bool, error) {
	if f.saveErr != nil {
		return false, f.saveErr
	}
	key := in.ChannelID + "|" + in.Permalink
	if f.existing == nil {
		f.existing = make(map[string]bool)
	}
	if f.existing[key] {
		return false, nil
	}
	f.existing[key] = true
	f.saves = append(f.saves, in)
	return true, nil
}

func (f *fakeStore) DistinctThemes(_ context.Context) ([]string, error) {
	return f.themes, f.themesErr
}

type fakeClassifier struct {
	labels    []string
	calls     int
	lastText  string
	lastVocab []string
}

func (f *fakeClassifier) Classify(_ context.Context, text string, vocabulary []string) []string {
	f.calls++
	f.lastText = text
	f.lastVocab = vocabulary
	return f.labels
}

type fakeSweeper struct {
	calls int
}

func (f *fakeSweeper) Sweep(_ context.Context) { f.calls++ }

var defaultThemes = []string{"экономика", "медицина", gigachat.LabelUnclassified}

func newTestMonitor(conn *fakeConn, st *fakeStore, cls *fakeClassifier, sw *fakeSweeper) *Monitor {
	return New(conn, st, cls, sw, defaultThemes, nil)
}

func TestRunLoadsChannelsAndSweeps(t *testing.T) {
	conn := &fakeConn{chats: []transport.Chat{
		{ID: 1, Type: transport.ChatTypeChannel, Title: "Новости", Username: "news"},
		{ID: 2, Type: "dialog", Title: "ЛС"},
		{ID: 3, Type: transport.ChatTypeChannel},
	}}
	sw := &fakeSweeper{}
	m := newTestMonitor(conn, &fakeStore{}, &fakeClassifier{}, sw)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if sw.calls != 1 {
		t.Fatalf("expected 1 startup sweep, got %d", sw.calls)
	}
	if len(m.channels) != 2 {
		t.Fatalf("expected 2 monitored channels, got %d", len(m.channels))
	}
	if _, ok := m.channels[2]; ok {
		t.Fatal("expected dialog chats to be excluded")
	}
	if m.channels[3].Title != untitledChannel {
		t.Fatalf("expected untitled fallback, got %q", m.channels[3].Title)
	}
}

func TestRunSurvivesChannelListingFailure(t *testing.T) {
	conn := &fakeConn{listErr: errors.New("gateway busy")}
	sw := &fakeSweeper{}
	m := newTestMonitor(conn, &fakeStore{}, &fakeClassifier{}, sw)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("expected listing failure to degrade, got %v", err)
	}
	if sw.calls != 1 {
		t.Fatalf("expected the sweep to run anyway, got %d calls", sw.calls)
	}
}

func TestHandleMessageSavesClassifiedPost(t *testing.T) {
	conn := &fakeConn{}
	st := &fakeStore{}
	cls := &fakeClassifier{labels: []string{"экономика"}}
	m := newTestMonitor(conn, st, cls, nil)
	m.channels[1] = transport.Chat{ID: 1, Type: transport.ChatTypeChannel, Title: "Новости", Username: "news"}

	publishedAt := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	m.HandleMessage(context.Background(), transport.Message{
		ID:     10,
		ChatID: 1,
		Text:   "курс рубля вырос",
		Time:   publishedAt.Unix(),
	})

	if len(st.saves) != 1 {
		t.Fatalf("expected 1 save, got %d", len(st.saves))
	}
	saved := st.saves[0]
	if saved.ChannelID != "1" || saved.ChannelTitle != "Новости" {
		t.Fatalf("unexpected channel fields: %+v", saved)
	}
	if saved.Permalink != "https://max.ru/news/10" {
		t.Fatalf("unexpected permalink: %s", saved.Permalink)
	}
	if !reflect.DeepEqual(saved.Labels, []string{"экономика"}) {
		t.Fatalf("unexpected labels: %v", saved.Labels)
	}
	if !saved.PublishedAt.Equal(time.Unix(publishedAt.Unix(), 0)) {
		t.Fatalf("unexpected published_at: %s", saved.PublishedAt)
	}
	if cls.lastText != "курс рубля вырос" {
		t.Fatalf("unexpected classified text: %q", cls.lastText)
	}
	if !reflect.DeepEqual(cls.lastVocab, defaultThemes) {
		t.Fatalf("unexpected vocabulary: %v", cls.lastVocab)
	}
}

func TestHandleMessageSkipsEmptyText(t *testing.T) {
	cls := &fakeClassifier{labels: []string{"экономика"}}
	st := &fakeStore{}
	m := newTestMonitor(&fakeConn{}, st, cls, nil)
	m.channels[1] = transport.Chat{ID: 1, Type: transport.ChatTypeChannel, Title: "Новости"}

	m.HandleMessage(context.Background(), transport.Message{ID: 10, ChatID: 1, Text: "   "})

	if cls.calls != 0 || len(st.saves) != 0 {
		t.Fatal("expected empty messages to be skipped before classification")
	}
}

func TestHandleMessageSkipsNonChannelChats(t *testing.T) {
	conn := &fakeConn{chats: []transport.Chat{{ID: 5, Type: "dialog", Title: "ЛС"}}}
	cls := &fakeClassifier{labels: []string{"экономика"}}
	st := &fakeStore{}
	m := newTestMonitor(conn, st, cls, nil)

	m.HandleMessage(context.Background(), transport.Message{ID: 1, ChatID: 5, Text: "привет"})

	if cls.calls != 0 || len(st.saves) != 0 {
		t.Fatal("expected non-channel messages to be dropped")
	}
}

func TestHandleMessageDiscoversNewChannel(t *testing.T) {
	conn := &fakeConn{chats: []transport.Chat{
		{ID: 7, Type: transport.ChatTypeChannel, Title: "Наука", Username: "science"},
	}}
	st := &fakeStore{}
	cls := &fakeClassifier{labels: []string{"медицина"}}
	m := newTestMonitor(conn, st, cls, nil)

	m.HandleMessage(context.Background(), transport.Message{ID: 3, ChatID: 7, Text: "открытие"})

	if len(st.saves) != 1 {
		t.Fatalf("expected the post to be saved, got %d saves", len(st.saves))
	}
	if _, ok := m.channels[7]; !ok {
		t.Fatal("expected the channel to be cached after discovery")
	}

	// A second message must not hit the transport again.
	m.HandleMessage(context.Background(), transport.Message{ID: 4, ChatID: 7, Text: "ещё открытие"})
	if conn.getCalls != 1 {
		t.Fatalf("expected 1 chat lookup, got %d", conn.getCalls)
	}
}

func TestHandleMessageDropsUnclassifiedOnly(t *testing.T) {
	st := &fakeStore{}
	cls := &fakeClassifier{labels: []string{gigachat.LabelUnclassified}}
	m := newTestMonitor(&fakeConn{}, st, cls, nil)
	m.channels[1] = transport.Chat{ID: 1, Type: transport.ChatTypeChannel, Title: "Новости"}

	m.HandleMessage(context.Background(), transport.Message{ID: 1, ChatID: 1, Text: "реклама"})

	if len(st.saves) != 0 {
		t.Fatal("expected sentinel-only posts to be dropped")
	}
}

func TestHandleMessageContinuesAfterStoreError(t *testing.T) {
	st := &fakeStore{saveErr: errors.New("disk full")}
	cls := &fakeClassifier{labels: []string{"экономика"}}
	m := newTestMonitor(&fakeConn{}, st, cls, nil)
	m.channels[1] = transport.Chat{ID: 1, Type: transport.ChatTypeChannel, Title: "Новости"}

	// Must not panic; the error is logged and the message dropped.
	m.HandleMessage(context.Background(), transport.Message{ID: 1, ChatID: 1, Text: "текст"})

	st.saveErr = nil
	m.HandleMessage(context.Background(), transport.Message{ID: 2, ChatID: 1, Text: "текст"})
	if len(st.saves) != 1 {
		t.Fatalf("expected ingestion to continue after a store error, got %d saves", len(st.saves))
	}
}

func TestHandleChatUpdateRefreshesInPlace(t *testing.T) {
	m := newTestMonitor(&fakeConn{}, &fakeStore{}, &fakeClassifier{}, nil)
	m.channels[1] = transport.Chat{ID: 1, Type: transport.ChatTypeChannel, Title: "Старое"}

	m.HandleChatUpdate(context.Background(), transport.Chat{
		ID: 1, Type: transport.ChatTypeChannel, Title: "Новое", Username: "fresh",
	})

	updated := m.channels[1]
	if updated.Title != "Новое" || updated.Username != "fresh" {
		t.Fatalf("expected metadata refresh, got %+v", updated)
	}

	// Updates for unknown or non-channel chats are ignored.
	m.HandleChatUpdate(context.Background(), transport.Chat{ID: 2, Type: transport.ChatTypeChannel, Title: "Чужой"})
	if _, ok := m.channels[2]; ok {
		t.Fatal("expected unknown channels to stay uncached")
	}
}

func TestVocabularyFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()

	m := newTestMonitor(&fakeConn{}, &fakeStore{}, &fakeClassifier{}, nil)
	if got := m.vocabulary(ctx); !reflect.DeepEqual(got, defaultThemes) {
		t.Fatalf("expected defaults for empty themes, got %v", got)
	}

	m = newTestMonitor(&fakeConn{}, &fakeStore{themesErr: errors.New("down")}, &fakeClassifier{}, nil)
	if got := m.vocabulary(ctx); !reflect.DeepEqual(got, defaultThemes) {
		t.Fatalf("expected defaults on store error, got %v", got)
	}
}

func TestVocabularyAppendsSentinel(t *testing.T) {
	st := &fakeStore{themes: []string{"политика", "наука"}}
	m := newTestMonitor(&fakeConn{}, st, &fakeClassifier{}, nil)

	got := m.vocabulary(context.Background())
	want := []string{"политика", "наука", gigachat.LabelUnclassified}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected sentinel to terminate the vocabulary, got %v", got)
	}

	st.themes = []string{"политика", gigachat.LabelUnclassified}
	got = m.vocabulary(context.Background())
	if !reflect.DeepEqual(got, st.themes) {
		t.Fatalf("expected vocabulary to pass through unchanged, got %v", got)
	}
}

func TestBuildPermalink(t *testing.T) {
	cases := []struct {
		name    string
		channel transport.Chat
		want    string
	}{
		{
			"username preferred",
			transport.Chat{ID: 1, Username: "news", Link: "https://max.ru/join/abc"},
			"https://max.ru/news/42",
		},
		{
			"link fallback",
			transport.Chat{ID: 1, Link: "https://max.ru/join/abc"},
			"https://max.ru/join/abc/42",
		},
		{
			"link trailing slash trimmed",
			transport.Chat{ID: 1, Link: "https://max.ru/join/abc/"},
			"https://max.ru/join/abc/42",
		},
		{
			"opaque id fallback",
			transport.Chat{ID: 987},
			"https://max.ru/c/987/42",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildPermalink(tc.channel, 42); got != tc.want {
				t.Fatalf("buildPermalink = %q, want %q", got, tc.want)
			}
		})
	}
}
