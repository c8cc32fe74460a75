package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/otp-forwarder/internal/deliver"
	"github.com/nhle/otp-forwarder/internal/model"
)

func TestMain(m *testing.M) {
	// we do not need logging during the tests
	zerolog.SetGlobalLevel(zerolog.Disabled)

	os.Exit(m.Run())
}

// newAPIServer serves a canned Bot API envelope for every request and
// records the last request body.
func newAPIServer(t *testing.T, status int, envelope string) (*Client, *http.Request, *[]byte) {
	t.Helper()

	var (
		lastReq  http.Request
		lastBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastReq = *r
		lastBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, envelope)
	}))
	t.Cleanup(srv.Close)

	return NewClientWithBase("test-token", srv.URL), &lastReq, &lastBody
}

func TestSendMessageSuccess(t *testing.T) {
	client, req, body := newAPIServer(t, http.StatusOK, `{"ok":true,"result":{}}`)

	err := client.SendMessage(context.Background(), 42, "hello")
	require.NoError(t, err)

	assert.Equal(t, "/bottest-token/sendMessage", req.URL.Path)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(*body, &payload))
	assert.Equal(t, float64(42), payload["chat_id"])
	assert.Equal(t, "hello", payload["text"])
}

func TestSendMessageClientErrorIsPermanent(t *testing.T) {
	client, _, _ := newAPIServer(t, http.StatusBadRequest,
		`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)

	err := client.SendMessage(context.Background(), 42, "hello")
	require.Error(t, err)
	assert.True(t, deliver.IsPermanent(err))
	assert.Contains(t, err.Error(), "chat not found")
}

func TestSendMessageRateLimitIsTransient(t *testing.T) {
	client, _, _ := newAPIServer(t, http.StatusTooManyRequests,
		`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5"}`)

	err := client.SendMessage(context.Background(), 42, "hello")
	require.Error(t, err)
	assert.False(t, deliver.IsPermanent(err))
}

func TestSendMessageServerErrorIsTransient(t *testing.T) {
	client, _, _ := newAPIServer(t, http.StatusBadGateway,
		`{"ok":false,"error_code":502,"description":"Bad Gateway"}`)

	err := client.SendMessage(context.Background(), 42, "hello")
	require.Error(t, err)
	assert.False(t, deliver.IsPermanent(err))
}

func TestSendMessageNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := NewClientWithBase("test-token", srv.URL)
	err := client.SendMessage(context.Background(), 42, "hello")
	require.Error(t, err)
	assert.False(t, deliver.IsPermanent(err))
}

func TestSendDocumentUploadsMultipart(t *testing.T) {
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "42", r.FormValue("chat_id"))
		assert.Equal(t, "weekly export", r.FormValue("caption"))

		file, header, err := r.FormFile("document")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "history.csv", header.Filename)

		fmt.Fprint(w, `{"ok":true,"result":{}}`)
	}))
	t.Cleanup(srv.Close)

	client := NewClientWithBase("test-token", srv.URL)
	err := client.SendDocument(context.Background(), 42, "history.csv", []byte("id,sender\n"), "weekly export")
	require.NoError(t, err)
	assert.Contains(t, contentType, "multipart/form-data")
}

func TestGetUpdatesDecodesMessages(t *testing.T) {
	envelope := `{"ok":true,"result":[
		{"update_id":100,"message":{"message_id":1,"from":{"id":7,"first_name":"Ada"},"chat":{"id":7},"text":"/status"}},
		{"update_id":101,"message":{"message_id":2,"chat":{"id":8},"text":"/recent 5"}}
	]}`
	client, _, _ := newAPIServer(t, http.StatusOK, envelope)

	updates, err := client.GetUpdates(context.Background(), 100, 0)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, int64(100), updates[0].UpdateID)
	assert.Equal(t, "/status", updates[0].Message.Text)
	assert.Equal(t, int64(7), updates[0].Message.From.ID)
	assert.Nil(t, updates[1].Message.From)
}

func TestGetUpdatesAPIFailure(t *testing.T) {
	client, _, _ := newAPIServer(t, http.StatusUnauthorized,
		`{"ok":false,"error_code":401,"description":"Unauthorized"}`)

	_, err := client.GetUpdates(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
}

func TestFormatMessage(t *testing.T) {
	receivedAt := time.Date(2026, 8, 20, 10, 15, 0, 0, time.UTC)
	msg := model.NewMessage("447700900001", "Your code is 482910", receivedAt, receivedAt)

	text := FormatMessage(msg)
	assert.Contains(t, text, "447700900001")
	assert.Contains(t, text, "Your code is 482910")
	assert.Contains(t, text, "2026-08-20")
}

func TestSinkSendsThroughClient(t *testing.T) {
	client, req, _ := newAPIServer(t, http.StatusOK, `{"ok":true,"result":{}}`)
	sink := NewSink(client)

	err := sink.Send(context.Background(), 42, "payload")
	require.NoError(t, err)
	assert.Equal(t, "/bottest-token/sendMessage", req.URL.Path)
}
