package services

import (
	"errors"
	"sync"
)

// SubscriptionType defines the type of subscription
type SubscriptionType string

const (
	SubscriptionTypeAccounts  SubscriptionType = "accounts"  // reconciliation snapshots per account key
	SubscriptionTypeSession   SubscriptionType = "session"   // signing session state per account address
	SubscriptionTypeProofs    SubscriptionType = "proofs"    // proof task lifecycle per account key
	SubscriptionTypeRagequits SubscriptionType = "ragequits" // ragequit events per scope
)

// SubscriptionFilter contains filters for a subscription
type SubscriptionFilter struct {
	Type       SubscriptionType `json:"type"`
	AccountKey string           `json:"account_key,omitempty"` // for accounts/session/proofs
	Scopes     []string         `json:"scopes,omitempty"`      // for ragequits
	Timestamp  int64            `json:"timestamp"`
}

// ClientSubscription represents a client's subscriptions
type ClientSubscription struct {
	ClientID      string
	AccountKey    string // account identity from the connection handshake
	Subscriptions map[SubscriptionType]*SubscriptionFilter
	MessageChan   chan interface{}
	mu            sync.RWMutex
}

// WebSocketSubscriptionManager manages all active subscriptions
type WebSocketSubscriptionManager struct {
	clients map[string]*ClientSubscription
	mu      sync.RWMutex

	// Subscription indexes for fast lookup: criteria -> clientID set
	accountSubscriptions  map[string]map[string]bool // account key -> clientID set
	sessionSubscriptions  map[string]map[string]bool // account key -> clientID set
	proofSubscriptions    map[string]map[string]bool // account key -> clientID set
	ragequitSubscriptions map[string]map[string]bool // scope -> clientID set
	subscriptionMu        sync.RWMutex
}

// NewWebSocketSubscriptionManager creates a new subscription manager
func NewWebSocketSubscriptionManager() *WebSocketSubscriptionManager {
	return &WebSocketSubscriptionManager{
		clients:               make(map[string]*ClientSubscription),
		accountSubscriptions:  make(map[string]map[string]bool),
		sessionSubscriptions:  make(map[string]map[string]bool),
		proofSubscriptions:    make(map[string]map[string]bool),
		ragequitSubscriptions: make(map[string]map[string]bool),
	}
}

// RegisterClient registers a new client connection
func (m *WebSocketSubscriptionManager) RegisterClient(clientID, accountKey string, messageChan chan interface{}) *ClientSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	client := &ClientSubscription{
		ClientID:      clientID,
		AccountKey:    accountKey,
		Subscriptions: make(map[SubscriptionType]*SubscriptionFilter),
		MessageChan:   messageChan,
	}
	m.clients[clientID] = client
	return client
}

// UnregisterClient removes a client and all its subscriptions
func (m *WebSocketSubscriptionManager) UnregisterClient(clientID string) {
	m.mu.Lock()
	_, exists := m.clients[clientID]
	delete(m.clients, clientID)
	m.mu.Unlock()

	if !exists {
		return
	}

	m.subscriptionMu.Lock()
	defer m.subscriptionMu.Unlock()

	for key := range m.accountSubscriptions {
		delete(m.accountSubscriptions[key], clientID)
	}
	for key := range m.sessionSubscriptions {
		delete(m.sessionSubscriptions[key], clientID)
	}
	for key := range m.proofSubscriptions {
		delete(m.proofSubscriptions[key], clientID)
	}
	for scope := range m.ragequitSubscriptions {
		delete(m.ragequitSubscriptions[scope], clientID)
	}
}

// Subscribe adds a subscription for a client
func (m *WebSocketSubscriptionManager) Subscribe(clientID string, filter *SubscriptionFilter) error {
	m.mu.RLock()
	client, exists := m.clients[clientID]
	m.mu.RUnlock()

	if !exists {
		return ErrClientNotFound
	}

	client.mu.Lock()
	client.Subscriptions[filter.Type] = filter
	client.mu.Unlock()

	m.subscriptionMu.Lock()
	defer m.subscriptionMu.Unlock()

	switch filter.Type {
	case SubscriptionTypeAccounts:
		if m.accountSubscriptions[filter.AccountKey] == nil {
			m.accountSubscriptions[filter.AccountKey] = make(map[string]bool)
		}
		m.accountSubscriptions[filter.AccountKey][clientID] = true

	case SubscriptionTypeSession:
		if m.sessionSubscriptions[filter.AccountKey] == nil {
			m.sessionSubscriptions[filter.AccountKey] = make(map[string]bool)
		}
		m.sessionSubscriptions[filter.AccountKey][clientID] = true

	case SubscriptionTypeProofs:
		if m.proofSubscriptions[filter.AccountKey] == nil {
			m.proofSubscriptions[filter.AccountKey] = make(map[string]bool)
		}
		m.proofSubscriptions[filter.AccountKey][clientID] = true

	case SubscriptionTypeRagequits:
		for _, scope := range filter.Scopes {
			if m.ragequitSubscriptions[scope] == nil {
				m.ragequitSubscriptions[scope] = make(map[string]bool)
			}
			m.ragequitSubscriptions[scope][clientID] = true
		}
	}

	return nil
}

// Unsubscribe removes a subscription for a client
func (m *WebSocketSubscriptionManager) Unsubscribe(clientID string, subType SubscriptionType) error {
	m.mu.RLock()
	client, exists := m.clients[clientID]
	m.mu.RUnlock()

	if !exists {
		return ErrClientNotFound
	}

	client.mu.Lock()
	filter, exists := client.Subscriptions[subType]
	delete(client.Subscriptions, subType)
	client.mu.Unlock()

	if !exists {
		return ErrSubscriptionNotFound
	}

	m.subscriptionMu.Lock()
	defer m.subscriptionMu.Unlock()

	switch subType {
	case SubscriptionTypeAccounts:
		delete(m.accountSubscriptions[filter.AccountKey], clientID)
	case SubscriptionTypeSession:
		delete(m.sessionSubscriptions[filter.AccountKey], clientID)
	case SubscriptionTypeProofs:
		delete(m.proofSubscriptions[filter.AccountKey], clientID)
	case SubscriptionTypeRagequits:
		for _, scope := range filter.Scopes {
			delete(m.ragequitSubscriptions[scope], clientID)
		}
	}

	return nil
}

// GetClientsForAccount returns all clients subscribed to reconciliation
// results for an account key
func (m *WebSocketSubscriptionManager) GetClientsForAccount(accountKey string) []string {
	m.subscriptionMu.RLock()
	defer m.subscriptionMu.RUnlock()

	var clientIDs []string
	for clientID := range m.accountSubscriptions[accountKey] {
		clientIDs = append(clientIDs, clientID)
	}
	return clientIDs
}

// GetClientsForSession returns all clients subscribed to session changes for
// an account key
func (m *WebSocketSubscriptionManager) GetClientsForSession(accountKey string) []string {
	m.subscriptionMu.RLock()
	defer m.subscriptionMu.RUnlock()

	var clientIDs []string
	for clientID := range m.sessionSubscriptions[accountKey] {
		clientIDs = append(clientIDs, clientID)
	}
	return clientIDs
}

// GetClientsForProofs returns all clients subscribed to proof task changes
// for an account key
func (m *WebSocketSubscriptionManager) GetClientsForProofs(accountKey string) []string {
	m.subscriptionMu.RLock()
	defer m.subscriptionMu.RUnlock()

	var clientIDs []string
	for clientID := range m.proofSubscriptions[accountKey] {
		clientIDs = append(clientIDs, clientID)
	}
	return clientIDs
}

// GetClientsForRagequit returns all clients subscribed to ragequit events on
// a scope
func (m *WebSocketSubscriptionManager) GetClientsForRagequit(scope string) []string {
	m.subscriptionMu.RLock()
	defer m.subscriptionMu.RUnlock()

	var clientIDs []string
	for clientID := range m.ragequitSubscriptions[scope] {
		clientIDs = append(clientIDs, clientID)
	}
	return clientIDs
}

// GetClient returns a client by ID
func (m *WebSocketSubscriptionManager) GetClient(clientID string) (*ClientSubscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[clientID]
	return client, exists
}

// SendMessageToClients sends a message to multiple clients
func (m *WebSocketSubscriptionManager) SendMessageToClients(clientIDs []string, message interface{}) {
	m.mu.RLock()
	clients := make([]*ClientSubscription, 0, len(clientIDs))
	for _, id := range clientIDs {
		if client, exists := m.clients[id]; exists {
			clients = append(clients, client)
		}
	}
	m.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.MessageChan <- message:
		default:
			// Channel full, skip to avoid blocking
		}
	}
}

var (
	ErrClientNotFound       = errors.New("client not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
