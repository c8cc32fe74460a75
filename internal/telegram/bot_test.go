package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newReplyServer captures every sendMessage text the bot emits.
func newReplyServer(t *testing.T) (*Client, func() []string) {
	t.Helper()

	var (
		mu      sync.Mutex
		replies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		replies = append(replies, payload.Text)
		mu.Unlock()
		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClientWithBase("test-token", srv.URL)
	return client, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), replies...)
	}
}

func incoming(userID, chatID int64, text string) *IncomingMessage {
	return &IncomingMessage{
		From: &User{ID: userID, FirstName: "Test"},
		Chat: Chat{ID: chatID},
		Text: text,
	}
}

func TestBotStartIsPublic(t *testing.T) {
	client, replies := newReplyServer(t)
	bot := NewBot(client, []int64{1}, nil, nil, nil, nil)

	bot.handleMessage(context.Background(), incoming(999, 999, "/start"))

	got := replies()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "running")
}

func TestBotRejectsNonAdminCommands(t *testing.T) {
	client, replies := newReplyServer(t)
	bot := NewBot(client, []int64{1}, nil, nil, nil, nil)

	bot.handleMessage(context.Background(), incoming(999, 999, "/recent"))

	got := replies()
	require.Len(t, got, 1)
	assert.Equal(t, "Access denied.", got[0])
}

func TestBotStripsBotNameSuffix(t *testing.T) {
	client, replies := newReplyServer(t)
	bot := NewBot(client, []int64{1}, nil, nil, nil, nil)

	bot.handleMessage(context.Background(), incoming(999, 999, "/help@otpfwd_bot"))

	got := replies()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "/status")
}

func TestBotRecentWithoutArchive(t *testing.T) {
	client, replies := newReplyServer(t)
	bot := NewBot(client, []int64{1}, nil, nil, nil, nil)

	bot.handleMessage(context.Background(), incoming(1, 1, "/recent"))

	got := replies()
	require.Len(t, got, 1)
	assert.Equal(t, "No local archive configured.", got[0])
}

func TestBotIgnoresPlainText(t *testing.T) {
	client, replies := newReplyServer(t)
	bot := NewBot(client, []int64{1}, nil, nil, nil, nil)

	bot.handleMessage(context.Background(), incoming(1, 1, "hello there"))

	assert.Empty(t, replies())
}

func TestParseDateRange(t *testing.T) {
	start, end, ok := parseDateRange([]string{"2026-08-01", "2026-08-07"})
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 7, 23, 59, 59, 0, time.UTC), end)

	_, _, ok = parseDateRange([]string{"2026-08-01"})
	assert.False(t, ok)

	_, _, ok = parseDateRange([]string{"yesterday", "today"})
	assert.False(t, ok)
}
