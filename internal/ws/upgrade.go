package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"schoolpay/config"
	"schoolpay/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UpgradePaymentWS upgrades the connection for the payment status feed.
// The client authenticates via the token query parameter, optionally
// subscribes to one transaction up front (?transaction_id=...), and can
// subscribe to more by sending {"action":"subscribe","transaction_id":"..."}.
func UpgradePaymentWS(cfg *config.JWTConfig, hub *PaymentHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		token := c.Query("token")
		if token == "" {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"token required"}`))
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
			return
		}
		client := &Client{
			UserID: claims.UserID,
			Role:   claims.Role,
			Send:   make(chan []byte, 256),
		}
		hub.Register(client)
		defer client.Close()
		if txnID := c.Query("transaction_id"); txnID != "" {
			hub.Subscribe(client, txnID)
		}
		go writePump(client, conn)
		readPump(hub, client, conn)
	}
}

func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes subscribe messages until the connection drops.
func readPump(hub *PaymentHub, c *Client, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg struct {
			Action        string `json:"action"`
			TransactionID string `json:"transaction_id"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Action == "subscribe" {
			hub.Subscribe(c, msg.TransactionID)
		}
	}
}
