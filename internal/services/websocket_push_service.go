package services

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pool-backend/internal/metrics"
	"pool-backend/internal/models"
	"pool-backend/internal/types"
)

// Upgrader shared by the websocket handler.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS middleware in front of the upgrade
		return true
	},
}

// Connection is one live websocket attached to the push service.
type Connection struct {
	ID         string          `json:"id"`
	AccountKey string          `json:"account_key"`
	Conn       *websocket.Conn `json:"-"`
	Send       chan []byte     `json:"-"`
	LastPing   time.Time       `json:"last_ping"`
}

// PushMessage is the envelope every push shares.
type PushMessage struct {
	Type       string      `json:"type"`
	Timestamp  string      `json:"timestamp"`
	MessageID  string      `json:"message_id"`
	AccountKey string      `json:"account_key"`
	Data       interface{} `json:"data"`
}

// AccountsReconciledData announces a fresh reconciliation result.
type AccountsReconciledData struct {
	ChainID       uint64 `json:"chain_id"`
	AccountCount  int    `json:"account_count"`
	GroupCount    int    `json:"group_count"`
	MalformedSets int    `json:"malformed_sets"`
	DurationMs    int64  `json:"duration_ms"`
}

// SessionUpdateData announces a signing session state change.
type SessionUpdateData struct {
	Snapshot types.OrchestratorSnapshot `json:"snapshot"`
}

// ProofTaskUpdateData announces a proof task lifecycle change.
type ProofTaskUpdateData struct {
	TaskID        string                 `json:"task_id"`
	TaskType      models.ProofTaskType   `json:"task_type"`
	Status        models.ProofTaskStatus `json:"status"`
	NullifierHash string                 `json:"nullifier_hash,omitempty"`
	Error         string                 `json:"error,omitempty"`
	RetryCount    int                    `json:"retry_count,omitempty"`
}

// RagequitRecordedData announces a newly ingested ragequit event.
type RagequitRecordedData struct {
	ChainID        uint64 `json:"chain_id"`
	Scope          string `json:"scope"`
	CommitmentHash string `json:"commitment_hash"`
	BlockNumber    uint64 `json:"block_number"`
}

// WebSocketPushService fans push messages out to each account's live
// connections.
type WebSocketPushService struct {
	connections  map[string]*Connection   // key: connectionID
	accountConns map[string][]*Connection // key: accountKey
	hub          chan PushMessage
	register     chan *Connection
	unregister   chan *Connection
	mutex        sync.RWMutex
}

// NewWebSocketPushService creates the push service and starts its hub loop.
func NewWebSocketPushService() *WebSocketPushService {
	service := &WebSocketPushService{
		connections:  make(map[string]*Connection),
		accountConns: make(map[string][]*Connection),
		hub:          make(chan PushMessage, 256),
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
	}

	go service.run()
	return service
}

func (s *WebSocketPushService) run() {
	for {
		select {
		case conn := <-s.register:
			s.handleRegister(conn)

		case conn := <-s.unregister:
			s.handleUnregister(conn)

		case message := <-s.hub:
			s.handleBroadcast(message)
		}
	}
}

// RegisterConnection registers a connection with the push service.
func (s *WebSocketPushService) RegisterConnection(conn *Connection) {
	s.register <- conn
}

// UnregisterConnection unregisters a connection from the push service.
func (s *WebSocketPushService) UnregisterConnection(conn *Connection) {
	s.unregister <- conn
}

// RegisterConnectionMapping registers only the connection mapping; the
// websocket handler keeps managing the connection's read/write goroutines.
func (s *WebSocketPushService) RegisterConnectionMapping(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections[conn.ID] = conn
	s.accountConns[conn.AccountKey] = append(s.accountConns[conn.AccountKey], conn)

	metrics.WebsocketConnections.Inc()
	log.Printf("📱 WebSocket connection mapping registered: account=%s, connID=%s", conn.AccountKey, conn.ID)
}

// UnregisterConnectionMapping removes only the connection mapping without
// closing the connection.
func (s *WebSocketPushService) UnregisterConnectionMapping(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.connections[conn.ID]; !exists {
		return
	}
	delete(s.connections, conn.ID)
	s.removeAccountConn(conn)

	metrics.WebsocketConnections.Dec()
	log.Printf("📱 WebSocket connection mapping unregistered: account=%s, connID=%s", conn.AccountKey, conn.ID)
}

func (s *WebSocketPushService) handleRegister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.connections[conn.ID] = conn
	s.accountConns[conn.AccountKey] = append(s.accountConns[conn.AccountKey], conn)

	metrics.WebsocketConnections.Inc()
	log.Printf("📱 WebSocket connection registered: account=%s, connID=%s", conn.AccountKey, conn.ID)

	if conn.Send != nil {
		confirmMsg := PushMessage{
			Type:       "connection_established",
			Timestamp:  time.Now().Format(time.RFC3339),
			MessageID:  generateMessageID(),
			AccountKey: conn.AccountKey,
			Data: map[string]interface{}{
				"account_key":   conn.AccountKey,
				"connection_id": conn.ID,
				"message":       "Real-time status connection established",
			},
		}
		s.sendToConnection(conn, confirmMsg)
	}
}

func (s *WebSocketPushService) handleUnregister(conn *Connection) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.connections[conn.ID]; !exists {
		return
	}
	delete(s.connections, conn.ID)
	s.removeAccountConn(conn)

	if conn.Send != nil {
		close(conn.Send)
	}
	if conn.Conn != nil {
		conn.Conn.Close()
	}

	metrics.WebsocketConnections.Dec()
	log.Printf("📱 WebSocket connection unregistered: account=%s, connID=%s", conn.AccountKey, conn.ID)
}

// removeAccountConn drops one connection from the per-account list.
// Caller holds the mutex.
func (s *WebSocketPushService) removeAccountConn(conn *Connection) {
	accountConns, exists := s.accountConns[conn.AccountKey]
	if !exists {
		return
	}
	for i, c := range accountConns {
		if c.ID == conn.ID {
			s.accountConns[conn.AccountKey] = append(accountConns[:i], accountConns[i+1:]...)
			break
		}
	}
	if len(s.accountConns[conn.AccountKey]) == 0 {
		delete(s.accountConns, conn.AccountKey)
	}
}

func (s *WebSocketPushService) handleBroadcast(message PushMessage) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	accountConns, exists := s.accountConns[message.AccountKey]
	if !exists {
		return
	}

	log.Printf("🔔 [WebSocket] push type=%s account=%s messageID=%s", message.Type, message.AccountKey, message.MessageID)

	successCount := 0
	for _, conn := range accountConns {
		if s.sendToConnection(conn, message) {
			successCount++
		}
	}
	log.Printf("🔔 [WebSocket] delivered to %d/%d connections", successCount, len(accountConns))
}

// sendToConnection writes one message to a connection without blocking.
func (s *WebSocketPushService) sendToConnection(conn *Connection, message PushMessage) bool {
	if conn.Send == nil {
		return false
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("❌ Failed to marshal push message: %v", err)
		return false
	}

	select {
	case conn.Send <- data:
		return true
	default:
		log.Printf("⚠️ WebSocket send buffer full, dropping message: connID=%s", conn.ID)
		return false
	}
}

// PushAccountsReconciled notifies an account's connections about a completed
// reconciliation pass.
func (s *WebSocketPushService) PushAccountsReconciled(accountKey string, data AccountsReconciledData) {
	s.push(PushMessage{
		Type:       "accounts_reconciled",
		Timestamp:  time.Now().Format(time.RFC3339),
		MessageID:  generateMessageID(),
		AccountKey: accountKey,
		Data:       data,
	})
}

// PushSessionUpdate notifies an account's connections about a signing session
// state change.
func (s *WebSocketPushService) PushSessionUpdate(accountKey string, snapshot types.OrchestratorSnapshot) {
	s.push(PushMessage{
		Type:       "session_update",
		Timestamp:  time.Now().Format(time.RFC3339),
		MessageID:  generateMessageID(),
		AccountKey: accountKey,
		Data:       SessionUpdateData{Snapshot: snapshot},
	})
}

// PushProofTaskUpdate notifies an account's connections about a proof task
// change.
func (s *WebSocketPushService) PushProofTaskUpdate(accountKey string, data ProofTaskUpdateData) {
	s.push(PushMessage{
		Type:       "proof_task_update",
		Timestamp:  time.Now().Format(time.RFC3339),
		MessageID:  generateMessageID(),
		AccountKey: accountKey,
		Data:       data,
	})
}

// PushRagequitRecorded notifies an account's connections that a ragequit
// event landed on one of its scopes.
func (s *WebSocketPushService) PushRagequitRecorded(accountKey string, data RagequitRecordedData) {
	s.push(PushMessage{
		Type:       "ragequit_recorded",
		Timestamp:  time.Now().Format(time.RFC3339),
		MessageID:  generateMessageID(),
		AccountKey: accountKey,
		Data:       data,
	})
}

// push queues a message to the hub without blocking the caller.
func (s *WebSocketPushService) push(message PushMessage) {
	select {
	case s.hub <- message:
	default:
		log.Printf("⚠️ WebSocket hub full, dropping message: type=%s account=%s", message.Type, message.AccountKey)
	}
}

// ConnectionCount returns the number of live connections.
func (s *WebSocketPushService) ConnectionCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.connections)
}

func generateMessageID() string {
	return fmt.Sprintf("msg_%s", uuid.New().String()[:8])
}
