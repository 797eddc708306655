package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"pool-backend/internal/config"
	"pool-backend/internal/metrics"
)

// NATS subjects for pool events. Chain ID occupies the second token.
const (
	SubjectCommitmentRecorded = "pools.*.commitment.recorded"
	SubjectRagequitRecorded   = "pools.*.ragequit.recorded"
	SubjectProofCompleted     = "pools.proof.completed"
)

// ===== Event type definitions (indexer NATS payloads) =====

// CommitmentRecordedEvent is published by the indexer whenever a deposit or
// spend lands a new commitment in a pool.
type CommitmentRecordedEvent struct {
	ChainID         uint64    `json:"chainId"`
	Scope           string    `json:"scope"`
	EventName       string    `json:"eventName"`
	BlockNumber     uint64    `json:"blockNumber"`
	TransactionHash string    `json:"transactionHash"`
	BlockTimestamp  time.Time `json:"blockTimestamp"`
	EventData       struct {
		Label             string `json:"label"`
		CommitmentHash    string `json:"commitmentHash"`
		PrecommitmentHash string `json:"precommitmentHash"`
		Value             string `json:"value"`
	} `json:"eventData"`
}

// RagequitRecordedEvent is published by the indexer when an account exits a
// pool outside the normal withdrawal path.
type RagequitRecordedEvent struct {
	ChainID         uint64    `json:"chainId"`
	Scope           string    `json:"scope"`
	EventName       string    `json:"eventName"`
	BlockNumber     uint64    `json:"blockNumber"`
	TransactionHash string    `json:"transactionHash"`
	BlockTimestamp  time.Time `json:"blockTimestamp"`
	EventData       struct {
		Label          string `json:"label"`
		CommitmentHash string `json:"commitmentHash"`
	} `json:"eventData"`
}

// AccountsReconciledEvent announces a completed reconciliation pass.
type AccountsReconciledEvent struct {
	ChainID      uint64    `json:"chainId"`
	AccountKey   string    `json:"accountKey"`
	AccountCount int       `json:"accountCount"`
	GroupCount   int       `json:"groupCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProofCompletedEvent announces a proof task reaching a terminal state.
type ProofCompletedEvent struct {
	TaskID        string    `json:"taskId"`
	TaskType      string    `json:"taskType"`
	Status        string    `json:"status"`
	NullifierHash string    `json:"nullifierHash,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NATSClient wraps the NATS connection and JetStream context.
type NATSClient struct {
	conn         *nats.Conn
	js           nats.JetStreamContext
	streamName   string
	consumerName string
}

// NewNATSClient connects to the NATS server and prepares the pool event
// stream.
func NewNATSClient(url, streamName, consumerName string) (*NATSClient, error) {
	var connectTimeout time.Duration = 10 * time.Second
	if config.AppConfig != nil && config.AppConfig.NATS.Timeout > 0 {
		connectTimeout = time.Duration(config.AppConfig.NATS.Timeout) * time.Second
		log.Printf("🔌 Using configured NATS timeout: %v", connectTimeout)
	} else {
		log.Printf("🔌 Using default NATS timeout: %v", connectTimeout)
	}

	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &NATSClient{
		conn:         conn,
		js:           js,
		streamName:   streamName,
		consumerName: consumerName,
	}

	if err := client.ensureStream(); err != nil {
		log.Printf("⚠️ JetStream stream unavailable, falling back to core NATS: %v", err)
	}

	metrics.NATSConnectionStatus.Set(1)
	return client, nil
}

// ensureStream creates the pool event stream when it does not exist yet.
func (c *NATSClient) ensureStream() error {
	_, err := c.js.StreamInfo(c.streamName)
	if err == nil {
		log.Printf("✅ Stream %s already exists", c.streamName)
		return nil
	}

	streamConfig := &nats.StreamConfig{
		Name: c.streamName,
		Subjects: []string{
			"pools.>",
		},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	}

	_, err = c.js.AddStream(streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", c.streamName, err)
	}

	log.Printf("✅ Stream %s created", c.streamName)
	return nil
}

// SubscribeToCommitmentRecorded subscribes to commitment recorded events on
// every chain.
func (c *NATSClient) SubscribeToCommitmentRecorded(handler func(*CommitmentRecordedEvent, string)) error {
	return c.subscribe(SubjectCommitmentRecorded, "commitment-recorded", func(msg *nats.Msg) {
		var event CommitmentRecordedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("❌ Parse CommitmentRecorded event failed: %v", err)
			return
		}
		handler(&event, msg.Subject)
		msg.Ack()
	})
}

// SubscribeToRagequitRecorded subscribes to ragequit events on every chain.
func (c *NATSClient) SubscribeToRagequitRecorded(handler func(*RagequitRecordedEvent, string)) error {
	return c.subscribe(SubjectRagequitRecorded, "ragequit-recorded", func(msg *nats.Msg) {
		var event RagequitRecordedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("❌ Parse RagequitRecorded event failed: %v", err)
			return
		}
		handler(&event, msg.Subject)
		msg.Ack()
	})
}

// subscribe attaches a handler, preferring a durable JetStream consumer and
// falling back to a core NATS subscription when JetStream is unavailable.
func (c *NATSClient) subscribe(subject, durableSuffix string, handler nats.MsgHandler) error {
	durable := fmt.Sprintf("%s-%s", c.consumerName, durableSuffix)
	_, err := c.js.Subscribe(subject, handler,
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckWait(30*time.Second),
	)
	if err == nil {
		log.Printf("✅ JetStream subscription active: %s (durable=%s)", subject, durable)
		return nil
	}

	log.Printf("⚠️ JetStream subscription failed for %s, trying core NATS: %v", subject, err)

	_, err = c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	log.Printf("✅ Core NATS subscription active: %s", subject)
	return nil
}

// PublishAccountsReconciled publishes a reconciliation completion event.
func (c *NATSClient) PublishAccountsReconciled(event *AccountsReconciledEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation event: %w", err)
	}

	subject := fmt.Sprintf("pools.%d.accounts.reconciled", event.ChainID)
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish reconciliation event: %w", err)
	}

	log.Printf("📤 Published reconciliation event: %s", subject)
	return nil
}

// PublishProofCompleted publishes a proof task completion event.
func (c *NATSClient) PublishProofCompleted(event *ProofCompletedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal proof completion event: %w", err)
	}

	if _, err := c.js.Publish(SubjectProofCompleted, data); err != nil {
		return fmt.Errorf("failed to publish proof completion event: %w", err)
	}

	log.Printf("📤 Published proof completion event: task=%s status=%s", event.TaskID, event.Status)
	return nil
}

// ChainIDFromSubject extracts the chain ID token from a pool event subject
// such as "pools.8453.ragequit.recorded".
func ChainIDFromSubject(subject string) (uint64, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 2 {
		return 0, fmt.Errorf("subject %q has no chain token", subject)
	}
	chainID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subject %q carries a non-numeric chain token: %w", subject, err)
	}
	return chainID, nil
}

// IsConnected reports whether the underlying connection is live.
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close closes the NATS connection.
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Close()
		metrics.NATSConnectionStatus.Set(0)
	}
}
