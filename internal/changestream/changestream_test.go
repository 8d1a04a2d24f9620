package changestream

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	p := New(discardLogger())
	ts := httptest.NewServer(p)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return p.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	p.Publish(Event{Type: EventJobUpdated, Payload: map[string]string{"id": "j1"}})

	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventJobUpdated, got.Type)
}

func TestPublishDisconnectsSlowSubscriber(t *testing.T) {
	p := New(discardLogger())
	ts := httptest.NewServer(p)
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return p.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	for i := 0; i < subscriberQueueDepth+10; i++ {
		p.Publish(Event{Type: EventJobUpdated, Payload: i})
	}

	require.Eventually(t, func() bool { return p.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}
