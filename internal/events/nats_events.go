// Package events wires NATS pool-event subscriptions to the backend services.
package events

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"pool-backend/internal/clients"
	"pool-backend/internal/config"
	"pool-backend/internal/metrics"
	"pool-backend/internal/models"
	"pool-backend/internal/repository"
	"pool-backend/internal/services"
)

const (
	streamName   = "POOL_EVENTS"
	consumerName = "pool-backend-consumer"

	// handlers run against a detached context; event processing must not
	// outlive this budget
	handlerTimeout = 15 * time.Second
)

var (
	natsClient     *clients.NATSClient
	ragequitRepo   repository.RagequitRepository
	subscriptions  *services.WebSocketSubscriptionManager
	reconciliation *services.ReconciliationService
	natsOnce       sync.Once
)

// Connect establishes the shared NATS connection. NATS is optional: an empty
// URL skips initialization, and a connection failure is returned for the
// caller to log and continue without event ingestion.
func Connect() error {
	var initErr error
	natsOnce.Do(func() {
		if config.AppConfig == nil || config.AppConfig.NATS.URL == "" {
			log.Println("NATS not configured, skipping initialization")
			return
		}

		client, err := clients.NewNATSClient(config.AppConfig.NATS.URL, streamName, consumerName)
		if err != nil {
			initErr = fmt.Errorf("failed to create NATS client: %w", err)
			return
		}
		natsClient = client
		log.Printf("✅ NATS client initialized successfully")
	})

	return initErr
}

// InstallSubscriptions registers the pool event handlers against the shared
// connection. Call after Connect once the backing services exist; a nil
// client (NATS unconfigured) is a no-op.
func InstallSubscriptions(
	repo repository.RagequitRepository,
	subs *services.WebSocketSubscriptionManager,
	recon *services.ReconciliationService,
) error {
	if natsClient == nil {
		return nil
	}

	ragequitRepo = repo
	subscriptions = subs
	reconciliation = recon

	if err := SubscribeToEvents(); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	log.Printf("✅ NATS event subscriptions initialized")
	return nil
}

// SubscribeToEvents installs the pool event subscriptions.
func SubscribeToEvents() error {
	if natsClient == nil {
		return fmt.Errorf("NATS client not initialized")
	}

	if err := natsClient.SubscribeToCommitmentRecorded(handleCommitmentRecordedEvent); err != nil {
		return fmt.Errorf("failed to subscribe to commitment recorded: %w", err)
	}

	if err := natsClient.SubscribeToRagequitRecorded(handleRagequitRecordedEvent); err != nil {
		return fmt.Errorf("failed to subscribe to ragequit recorded: %w", err)
	}

	return nil
}

// GetNATSClient exposes the shared client for publishers. nil when NATS is
// not configured.
func GetNATSClient() *clients.NATSClient {
	return natsClient
}

// CloseNATS shuts the connection down during server teardown.
func CloseNATS() {
	if natsClient != nil {
		natsClient.Close()
	}
}

// handleCommitmentRecordedEvent marks the affected chain stale so cached
// reconciliation results report that newer pool data exists.
func handleCommitmentRecordedEvent(event *clients.CommitmentRecordedEvent, subject string) {
	eventType := "CommitmentRecorded"
	metrics.NATSMessagesReceived.WithLabelValues(eventType).Inc()

	chainID := event.ChainID
	if chainID == 0 {
		parsed, err := clients.ChainIDFromSubject(subject)
		if err != nil {
			log.Printf("❌ [NATS] CommitmentRecorded carries no chain ID (subject=%s): %v", subject, err)
			metrics.NATSMessagesFailed.WithLabelValues(eventType, "missing_chain_id").Inc()
			return
		}
		chainID = parsed
	}

	log.Printf("📨 [NATS] CommitmentRecorded: chain=%d scope=%s commitment=%s block=%d",
		chainID, event.Scope, event.EventData.CommitmentHash, event.BlockNumber)

	if reconciliation != nil {
		reconciliation.MarkChainStale(chainID)
	}

	metrics.NATSMessagesProcessed.WithLabelValues(eventType).Inc()
}

// handleRagequitRecordedEvent persists the exit, marks the chain stale and
// notifies scope subscribers.
func handleRagequitRecordedEvent(event *clients.RagequitRecordedEvent, subject string) {
	eventType := "RagequitRecorded"
	metrics.NATSMessagesReceived.WithLabelValues(eventType).Inc()

	chainID := event.ChainID
	if chainID == 0 {
		parsed, err := clients.ChainIDFromSubject(subject)
		if err != nil {
			log.Printf("❌ [NATS] RagequitRecorded carries no chain ID (subject=%s): %v", subject, err)
			metrics.NATSMessagesFailed.WithLabelValues(eventType, "missing_chain_id").Inc()
			return
		}
		chainID = parsed
	}

	log.Printf("📨 [NATS] RagequitRecorded: chain=%d scope=%s commitment=%s block=%d",
		chainID, event.Scope, event.EventData.CommitmentHash, event.BlockNumber)

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	record := &models.RagequitRecord{
		ChainID:        chainID,
		Scope:          event.Scope,
		Label:          event.EventData.Label,
		CommitmentHash: event.EventData.CommitmentHash,
		BlockNumber:    event.BlockNumber,
		TxHash:         event.TransactionHash,
		Source:         "nats",
	}
	if ragequitRepo != nil {
		if err := ragequitRepo.Upsert(ctx, record); err != nil {
			log.Printf("❌ [NATS] Ragequit record upsert failed: %v", err)
			metrics.NATSMessagesFailed.WithLabelValues(eventType, "persist_error").Inc()
			return
		}
	}

	if reconciliation != nil {
		reconciliation.MarkChainStale(chainID)
	}

	if subscriptions != nil {
		clientIDs := subscriptions.GetClientsForRagequit(event.Scope)
		if len(clientIDs) > 0 {
			subscriptions.SendMessageToClients(clientIDs, map[string]interface{}{
				"type":      "ragequit_recorded",
				"timestamp": time.Now().Format(time.RFC3339),
				"data": services.RagequitRecordedData{
					ChainID:        chainID,
					Scope:          event.Scope,
					CommitmentHash: event.EventData.CommitmentHash,
					BlockNumber:    event.BlockNumber,
				},
			})
			log.Printf("🔔 [NATS] Ragequit pushed to %d scope subscribers", len(clientIDs))
		}
	}

	metrics.NATSMessagesProcessed.WithLabelValues(eventType).Inc()
}
