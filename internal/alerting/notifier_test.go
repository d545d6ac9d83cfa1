package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNote() Notification {
	return Notification{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Kind:      KindDepeg,
		Asset:     "USDX",
		Message:   "price 0.92 below threshold 0.95",
	}
}

func TestTelegramNotify(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		payload, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(payload, &gotBody))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("bot-token", "chat-42", server.URL, time.Second, zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), testNote()))

	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-42", gotBody["chat_id"])
	assert.Contains(t, gotBody["text"], "Kind: depeg")
	assert.Contains(t, gotBody["text"], "Asset: USDX")
	assert.Contains(t, gotBody["text"], "price 0.92 below threshold 0.95")
}

func TestTelegramNotifyAPIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier("bot-token", "chat-42", server.URL, time.Second, zerolog.Nop())
	require.Error(t, n.Notify(context.Background(), testNote()))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer broken.Close()

	n = NewTelegramNotifier("bot-token", "chat-42", broken.URL, time.Second, zerolog.Nop())
	require.Error(t, n.Notify(context.Background(), testNote()))
}

func TestWebhookFanOut(t *testing.T) {
	var hits int
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		payload, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(payload, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	note := testNote()
	note.Contacts = []string{server.URL + "/a", server.URL + "/b"}

	n := NewWebhookNotifier(time.Second, zerolog.Nop())
	require.NoError(t, n.Notify(context.Background(), note))

	assert.Equal(t, 2, hits)
	assert.Equal(t, "depeg", gotBody["kind"])
	assert.Equal(t, "USDX", gotBody["asset"])
}

func TestWebhookPartialFailureStillDelivers(t *testing.T) {
	var okHits int
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okHits++
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	note := testNote()
	note.Contacts = []string{failing.URL, ok.URL}

	n := NewWebhookNotifier(time.Second, zerolog.Nop())
	err := n.Notify(context.Background(), note)
	require.Error(t, err, "failing contact surfaces as the returned error")
	assert.Equal(t, 1, okHits, "healthy contact is still delivered to")
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, Notification) error {
	c.calls++
	return c.err
}

func TestMultiNotifierDeliversToAll(t *testing.T) {
	a := &countingNotifier{err: errors.New("telegram down")}
	b := &countingNotifier{}

	m := MultiNotifier{a, b}
	err := m.Notify(context.Background(), testNote())
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	assert.NoError(t, MultiNotifier{}.Notify(context.Background(), testNote()))
}
