package app

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pool-backend/internal/clients"
	"pool-backend/internal/config"
	"pool-backend/internal/db"
	"pool-backend/internal/events"
	"pool-backend/internal/repository"
	"pool-backend/internal/services"
	"pool-backend/internal/utils"
)

// ServiceContainer owns every long-lived collaborator and hands them to the
// router fully constructed. Handlers never reach for globals; everything they
// need arrives through here.
type ServiceContainer struct {
	// Database
	DB *gorm.DB

	// Repositories
	ProofTaskRepo         repository.ProofTaskRepository
	RagequitRepo          repository.RagequitRepository
	ReconciliationRunRepo repository.ReconciliationRunRepository

	// External service clients
	IndexerClient   *clients.IndexerClient
	ProverClient    *clients.ProverClient
	AllowListClient *clients.ASPClient
	GasPriceClient  *clients.GasPriceClient

	// Chain access
	Registry     *utils.ChainRegistry
	ChainClients *services.ChainClientPool
	BlockTimes   *services.BlockTimeService
	AccountState *services.AccountStateService

	// Reconciliation pipeline
	CommitmentResolver *services.CommitmentChainResolver
	Reconciler         *services.PoolAccountReconciler
	Reconciliation     *services.ReconciliationService

	// Session pipeline
	PaymasterResolver *services.ConfigPaymasterResolver
	SessionFactory    *services.EVMSigningSessionFactory
	Orchestrators     *services.OrchestratorManager

	// Proof pipeline
	ProofOrchestrator *services.ProofOrchestrator
	ProofTasks        *services.ProofTaskService

	// Push services
	PushService         *services.WebSocketPushService
	SubscriptionManager *services.WebSocketSubscriptionManager

	Logger *logrus.Logger
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container exactly once.
func InitializeContainer(logger *logrus.Logger) (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		log.Println("🚀 Initializing Service Container...")

		if logger == nil {
			logger = logrus.StandardLogger()
		}

		container := &ServiceContainer{
			DB:       db.DB,
			Registry: utils.GlobalChainRegistry,
			Logger:   logger,
		}

		container.initRepositories()
		container.initClients()

		// NATS connects before the services that publish through it; a
		// failure here degrades to polling-only operation.
		if err := events.Connect(); err != nil {
			log.Printf("⚠️ NATS connection failed, continuing without event ingestion: %v", err)
		}

		container.initServices()

		if err := events.InstallSubscriptions(container.RagequitRepo, container.SubscriptionManager, container.Reconciliation); err != nil {
			log.Printf("⚠️ NATS subscriptions failed, continuing without event ingestion: %v", err)
		}

		Container = container
		log.Println("✅ Service Container initialized successfully")
	})

	if Container == nil {
		return nil, fmt.Errorf("service container initialization failed: %w", initErr)
	}
	return Container, initErr
}

func (c *ServiceContainer) initRepositories() {
	log.Println("📦 Initializing Repositories...")

	c.ProofTaskRepo = repository.NewProofTaskRepository(c.DB)
	c.RagequitRepo = repository.NewRagequitRepository(c.DB)
	c.ReconciliationRunRepo = repository.NewReconciliationRunRepository(c.DB)

	log.Println("✅ Repositories initialized")
}

func (c *ServiceContainer) initClients() {
	log.Println("🔗 Initializing Service Clients...")

	c.IndexerClient = clients.NewIndexerClient(config.GetIndexerURL())
	c.ProverClient = clients.NewProverClient(config.GetProverURL())
	c.AllowListClient = clients.NewASPClient(config.GetAllowListURL())
	c.GasPriceClient = clients.NewGasPriceClient()

	log.Println("✅ Service Clients initialized")
}

func (c *ServiceContainer) initServices() {
	log.Println("🔧 Initializing Core Services...")

	natsClient := events.GetNATSClient()

	// Chain access layer
	c.ChainClients = services.NewChainClientPool(c.Registry, c.Logger)
	c.BlockTimes = services.NewBlockTimeService(c.ChainClients, c.Logger)
	c.AccountState = services.NewAccountStateService(c.ChainClients, c.Logger)

	// Reconciliation pipeline. The resolver serves as both the commitment
	// and the ragequit source: both come from the same indexer.
	c.CommitmentResolver = services.NewCommitmentChainResolver(c.IndexerClient, c.Logger)
	c.Reconciler = services.NewPoolAccountReconciler(c.Registry, c.BlockTimes, c.Logger)

	// Push services
	c.PushService = services.NewWebSocketPushService()
	c.SubscriptionManager = services.NewWebSocketSubscriptionManager()

	c.Reconciliation = services.NewReconciliationService(
		c.Registry,
		c.Reconciler,
		c.CommitmentResolver,
		c.CommitmentResolver,
		c.AllowListClient,
		c.RagequitRepo,
		c.ReconciliationRunRepo,
		natsClient,
		c.PushService,
		c.Logger,
	)

	// Session pipeline
	reestimate := time.Duration(config.AppConfig.Orchestrator.ReestimateSeconds) * time.Second
	if reestimate <= 0 {
		reestimate = 30 * time.Second
	}
	c.PaymasterResolver = services.NewConfigPaymasterResolver(c.Logger)
	c.SessionFactory = services.NewEVMSigningSessionFactory(c.ChainClients, c.GasPriceClient, c.Logger)
	c.Orchestrators = services.NewOrchestratorManager(
		c.Registry,
		c.AccountState,
		c.PaymasterResolver,
		c.SessionFactory,
		reestimate,
		c.Logger,
	)

	// Proof pipeline
	c.ProofOrchestrator = services.NewProofOrchestrator(c.ProverClient, c.Logger)
	c.ProofTasks = services.NewProofTaskService(
		c.ProofTaskRepo,
		c.ProofOrchestrator,
		c.PushService,
		natsClient,
		c.Logger,
	)

	log.Println("✅ Core Services initialized")
}

// Cleanup tears down background work in reverse dependency order.
func (c *ServiceContainer) Cleanup() {
	log.Println("🧹 Cleaning up Service Container...")

	if c.Orchestrators != nil {
		c.Orchestrators.TeardownAll()
	}

	if c.ProofTasks != nil {
		c.ProofTasks.Stop()
	}

	events.CloseNATS()

	if c.ChainClients != nil {
		c.ChainClients.Close()
	}

	log.Println("✅ Service Container cleaned up")
}
