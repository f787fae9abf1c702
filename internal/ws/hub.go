package ws

import (
	"encoding/json"
	"sync"
)

// Client represents a single WebSocket connection waiting on payment
// status updates.
type Client struct {
	UserID uint
	Role   string
	Send   chan []byte
	hub    *PaymentHub
	mu     sync.Mutex
	closed bool
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	if c.hub != nil {
		c.hub.unregister(c)
	}
}

// StatusUpdate is the frame pushed when a transaction reaches a terminal
// state.
type StatusUpdate struct {
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// PaymentHub fans payment status changes out to subscribed connections.
// Clients subscribe per transaction id; a checkout page typically holds one
// subscription for the transaction it is waiting on.
type PaymentHub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// transactionID -> subscribed clients
	byTxn map[string]map[*Client]struct{}
	// reverse index so unregister can clean up subscriptions
	subs map[*Client]map[string]struct{}
}

func NewPaymentHub() *PaymentHub {
	return &PaymentHub{
		clients: make(map[*Client]struct{}),
		byTxn:   make(map[string]map[*Client]struct{}),
		subs:    make(map[*Client]map[string]struct{}),
	}
}

func (h *PaymentHub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.hub = h
	h.clients[c] = struct{}{}
	h.subs[c] = make(map[string]struct{})
}

func (h *PaymentHub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for txnID := range h.subs[c] {
		if m := h.byTxn[txnID]; m != nil {
			delete(m, c)
			if len(m) == 0 {
				delete(h.byTxn, txnID)
			}
		}
	}
	delete(h.subs, c)
}

// Subscribe adds the client to the update feed for one transaction.
func (h *PaymentHub) Subscribe(c *Client, transactionID string) {
	if transactionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if h.byTxn[transactionID] == nil {
		h.byTxn[transactionID] = make(map[*Client]struct{})
	}
	h.byTxn[transactionID][c] = struct{}{}
	h.subs[c][transactionID] = struct{}{}
}

// NotifyStatus implements the notifier surface the payment service pushes
// terminal transitions through.
func (h *PaymentHub) NotifyStatus(transactionID, status, failureReason string) {
	data, _ := json.Marshal(StatusUpdate{
		Type:          "payment_status",
		TransactionID: transactionID,
		Status:        status,
		FailureReason: failureReason,
	})
	h.mu.RLock()
	m := h.byTxn[transactionID]
	if m == nil {
		h.mu.RUnlock()
		return
	}
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		select {
		case c.Send <- data:
		default:
		}
	}
}

func (h *PaymentHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
