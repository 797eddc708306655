package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"pool-backend/internal/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadDeadline  = 60 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsPingInterval  = 54 * time.Second
)

// WebSocketHandler upgrades client connections and bridges them onto the
// push service and the subscription manager. All writes for one connection go
// through a single loop; the read goroutine never writes to the socket.
type WebSocketHandler struct {
	push          *services.WebSocketPushService
	subscriptions *services.WebSocketSubscriptionManager
	upgrader      websocket.Upgrader
}

func NewWebSocketHandler(
	push *services.WebSocketPushService,
	subscriptions *services.WebSocketSubscriptionManager,
) *WebSocketHandler {
	return &WebSocketHandler{
		push:          push,
		subscriptions: subscriptions,
		upgrader: websocket.Upgrader{
			// Origin is enforced by the CORS middleware in front of the upgrade.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SubscriptionMessage is a client's subscribe/unsubscribe request.
type SubscriptionMessage struct {
	Action     string                    `json:"action"` // "subscribe" or "unsubscribe"
	Type       services.SubscriptionType `json:"type"`
	AccountKey string                    `json:"account_key,omitempty"` // for accounts/session/proofs
	Scopes     []string                  `json:"scopes,omitempty"`      // for ragequits
	Timestamp  int64                     `json:"timestamp"`
}

// HandleWebSocket authenticates, upgrades and serves one client connection.
// The optional account_key query parameter binds the connection for targeted
// pushes; subscriptions can be adjusted over the socket afterwards.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	address := h.extractAddressFromToken(r)
	if address == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountKey := r.URL.Query().Get("account_key")
	if accountKey != "" {
		if _, err := parseHash32("account_key", accountKey); err != nil {
			http.Error(w, "Invalid account_key parameter", http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientID := uuid.New().String()
	messageChan := make(chan interface{}, 256)
	// Pong replies cross from the read goroutine to the write loop here so
	// the socket never sees two writers.
	pongChan := make(chan map[string]interface{}, 10)

	h.subscriptions.RegisterClient(clientID, accountKey, messageChan)
	defer h.subscriptions.UnregisterClient(clientID)

	// Register the delivery channel only; this handler owns the socket and
	// its write loop, the push service never writes directly.
	pushConnection := &services.Connection{
		ID:         clientID,
		AccountKey: accountKey,
		Conn:       conn,
		Send:       make(chan []byte, 256),
		LastPing:   time.Now(),
	}
	h.push.RegisterConnectionMapping(pushConnection)
	defer h.push.UnregisterConnectionMapping(pushConnection)

	log.Printf("📡 WebSocket client connected: %s (account: %s)", clientID, address)

	conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	conn.WriteJSON(map[string]interface{}{
		"type":      "connected",
		"client_id": clientID,
		"timestamp": time.Now(),
	})

	readDone := make(chan struct{})
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("❌ WebSocket read goroutine panic for client %s: %v", clientID, rec)
			}
			close(readDone)
		}()

		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
			return nil
		})

		for {
			conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

			messageType, messageBytes, err := conn.ReadMessage()
			if err != nil {
				if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
					// Probe before giving up on a silent client.
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						return
					}
					continue
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("🔌 WebSocket connection closed for client %s: %v", clientID, err)
					return
				}
				log.Printf("⚠️ WebSocket read error for client %s: %v", clientID, err)
				return
			}

			if messageType != websocket.TextMessage {
				continue
			}

			var msg SubscriptionMessage
			if err := json.Unmarshal(messageBytes, &msg); err != nil {
				log.Printf("⚠️ WebSocket message parse failed for client %s: %v", clientID, err)
				continue
			}

			// Application-level keepalive.
			if msg.Action == "" {
				var raw map[string]interface{}
				if json.Unmarshal(messageBytes, &raw) == nil {
					if msgType, ok := raw["type"].(string); ok && msgType == "ping" {
						select {
						case pongChan <- map[string]interface{}{"type": "pong", "timestamp": time.Now()}:
						default:
						}
						continue
					}
				}
				log.Printf("⚠️ WebSocket message without action from client %s", clientID)
				continue
			}

			h.handleSubscriptionMessage(clientID, &msg)
		}
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case message, ok := <-messageChan:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteJSON(message); err != nil {
				log.Printf("❌ WebSocket write error for client %s: %v", clientID, err)
				return
			}
		case message, ok := <-pushConnection.Send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("❌ WebSocket write error for client %s: %v", clientID, err)
				return
			}
		case pongMsg := <-pongChan:
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteJSON(pongMsg); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readDone:
			return
		}
	}
}

// handleSubscriptionMessage applies one subscribe/unsubscribe request and
// queues a confirmation.
func (h *WebSocketHandler) handleSubscriptionMessage(clientID string, msg *SubscriptionMessage) {
	switch msg.Action {
	case "subscribe":
		filter := &services.SubscriptionFilter{
			Type:       msg.Type,
			AccountKey: msg.AccountKey,
			Scopes:     msg.Scopes,
			Timestamp:  time.Now().Unix(),
		}

		if err := h.subscriptions.Subscribe(clientID, filter); err != nil {
			log.Printf("❌ Subscription failed for %s: %v", clientID, err)
			h.queueConfirmation(clientID, map[string]interface{}{
				"type":      "subscription_rejected",
				"sub_type":  msg.Type,
				"error":     err.Error(),
				"timestamp": time.Now(),
			})
			return
		}

		log.Printf("✅ Client %s subscribed to %s", clientID, msg.Type)
		h.queueConfirmation(clientID, map[string]interface{}{
			"type":      "subscription_confirmed",
			"sub_type":  msg.Type,
			"message":   fmt.Sprintf("Subscribed to %s", msg.Type),
			"timestamp": time.Now(),
		})

	case "unsubscribe":
		if err := h.subscriptions.Unsubscribe(clientID, msg.Type); err != nil {
			log.Printf("❌ Unsubscription failed for %s: %v", clientID, err)
			return
		}

		log.Printf("✅ Client %s unsubscribed from %s", clientID, msg.Type)
		h.queueConfirmation(clientID, map[string]interface{}{
			"type":      "unsubscription_confirmed",
			"sub_type":  msg.Type,
			"message":   fmt.Sprintf("Unsubscribed from %s", msg.Type),
			"timestamp": time.Now(),
		})

	default:
		log.Printf("⚠️ Unknown WebSocket action %q from client %s", msg.Action, clientID)
	}
}

// queueConfirmation sends through the manager channel; a full channel drops
// the confirmation rather than blocking the read goroutine.
func (h *WebSocketHandler) queueConfirmation(clientID string, message map[string]interface{}) {
	client, exists := h.subscriptions.GetClient(clientID)
	if !exists {
		return
	}
	select {
	case client.MessageChan <- message:
	default:
	}
}

// GetConnectionStatus reports push-service connection counts.
func (h *WebSocketHandler) GetConnectionStatus(w http.ResponseWriter, r *http.Request) {
	address := h.extractAddressFromToken(r)
	if address == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": h.push.ConnectionCount(),
		"address":     address,
	})
}

// extractAddressFromToken pulls the wallet JWT from the query string or the
// Authorization header. Browsers cannot set headers on websocket upgrades, so
// the query parameter is the primary path.
func (h *WebSocketHandler) extractAddressFromToken(r *http.Request) string {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}

	if token == "" {
		return ""
	}

	claims, err := ValidateJWTToken(token)
	if err != nil {
		log.Printf("❌ WebSocket JWT validation failed: %v", err)
		return ""
	}
	return claims.Address
}
