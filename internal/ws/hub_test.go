package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return &Client{UserID: 1, Role: "parent", Send: make(chan []byte, 8)}
}

func TestNotifyStatusReachesSubscribers(t *testing.T) {
	hub := NewPaymentHub()
	subscribed := newTestClient()
	other := newTestClient()
	hub.Register(subscribed)
	hub.Register(other)
	hub.Subscribe(subscribed, "txn_1")
	hub.Subscribe(other, "txn_2")

	hub.NotifyStatus("txn_1", "completed", "")

	select {
	case data := <-subscribed.Send:
		var update StatusUpdate
		require.NoError(t, json.Unmarshal(data, &update))
		assert.Equal(t, "payment_status", update.Type)
		assert.Equal(t, "txn_1", update.TransactionID)
		assert.Equal(t, "completed", update.Status)
	default:
		t.Fatal("subscriber received nothing")
	}
	assert.Empty(t, other.Send, "unrelated subscriber must not be notified")
}

func TestCloseUnsubscribes(t *testing.T) {
	hub := NewPaymentHub()
	c := newTestClient()
	hub.Register(c)
	hub.Subscribe(c, "txn_1")
	require.Equal(t, 1, hub.ClientCount())

	c.Close()
	assert.Equal(t, 0, hub.ClientCount())
	// Notifying after close must not panic on the closed channel.
	hub.NotifyStatus("txn_1", "failed", "card declined")

	// Close is idempotent.
	c.Close()
}

func TestSubscribeUnregisteredClientIgnored(t *testing.T) {
	hub := NewPaymentHub()
	c := newTestClient()
	hub.Subscribe(c, "txn_1")
	hub.NotifyStatus("txn_1", "completed", "")
	assert.Empty(t, c.Send)
}
