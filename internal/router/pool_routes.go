// Pool API route registration.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/app"
	"pool-backend/internal/handlers"
	"pool-backend/internal/middleware"
)

// registerPoolRoutes mounts the pool API. Wallet endpoints sit behind the
// wallet JWT; the operator surface additionally requires the IP whitelist and
// the admin JWT.
func registerPoolRoutes(r *gin.Engine, container *app.ServiceContainer, localhostOnly *middleware.LocalhostOnly, logger *logrus.Logger) {
	authMiddleware := middleware.NewAuthMiddleware(logger)
	adminAuthMiddleware := middleware.NewAdminAuthMiddleware(logger)

	authHandler := handlers.NewAuthHandler()
	adminAuthHandler := handlers.NewAdminAuthHandler()
	accountsHandler := handlers.NewAccountsHandler(container.Reconciliation, container.ReconciliationRunRepo, logger)
	sessionHandler := handlers.NewSessionHandler(container.Orchestrators, logger)
	proofHandler := handlers.NewProofHandler(container.ProofTasks, container.ProofOrchestrator, logger)
	adminPoolHandler := handlers.NewAdminPoolHandler(
		container.ProofTasks,
		container.Orchestrators,
		container.Reconciliation,
		container.RagequitRepo,
		container.PushService,
		container.Registry,
		logger,
	)
	wsHandler := handlers.NewWebSocketHandler(container.PushService, container.SubscriptionManager)

	api := r.Group("/api")
	{
		// ============ Wallet Authentication ============
		auth := api.Group("/auth")
		{
			auth.GET("/nonce", authHandler.GenerateNonceHandler)
			auth.POST("/login", authHandler.AuthenticateHandler)
		}

		// ============ Supported Chains (public) ============
		api.GET("/chains", handlers.SupportedChainsHandler)
		api.GET("/health", handlers.HealthCheckHandler)

		// ============ Account Reconciliation (wallet JWT) ============
		accounts := api.Group("/accounts")
		accounts.Use(authMiddleware.RequireAuth())
		{
			accounts.POST("/reconcile", accountsHandler.ReconcileHandler)
			accounts.GET("/reconciliation/:accountKey", accountsHandler.CachedReconciliationHandler)
			accounts.GET("/runs/:accountKey", accountsHandler.LatestRunHandler)
		}

		// ============ Signing Sessions (wallet JWT) ============
		session := api.Group("/session")
		session.Use(authMiddleware.RequireAuth())
		{
			session.POST("/sync", sessionHandler.SyncOperationHandler)
			session.GET("/status", sessionHandler.StatusHandler)
			session.POST("/signature", sessionHandler.AttachSignatureHandler)
			session.POST("/teardown", sessionHandler.TeardownHandler)
			session.POST("/reset", sessionHandler.ResetHandler)
		}

		// ============ Proofs (wallet JWT) ============
		proofs := api.Group("/proofs")
		proofs.Use(authMiddleware.RequireAuth())
		{
			proofs.POST("/commitment", proofHandler.EnqueueCommitmentProofHandler)
			proofs.POST("/withdrawal", proofHandler.EnqueueWithdrawalProofHandler)
			proofs.GET("/tasks/:id", proofHandler.TaskStatusHandler)
			proofs.POST("/verify/commitment", proofHandler.VerifyCommitmentHandler)
			proofs.POST("/verify/withdrawal", proofHandler.VerifyWithdrawalHandler)
		}

		// ============ Admin Authentication ============
		adminAuth := api.Group("/admin/auth")
		{
			adminAuth.POST("/login", adminAuthHandler.AdminLoginHandler)
			// Initial TOTP setup never leaves the host.
			adminAuth.GET("/totp/secret", localhostOnly.Restrict(), adminAuthHandler.GenerateTOTPSecretHandler)
		}

		// ============ Operator Endpoints (IP whitelist + admin JWT) ============
		admin := api.Group("/admin")
		admin.Use(localhostOnly.Restrict())
		admin.Use(adminAuthMiddleware.RequireAdminAuth())
		{
			admin.GET("/proof-tasks", adminPoolHandler.ListProofTasksHandler)
			admin.POST("/proof-tasks/requeue", adminPoolHandler.RequeueStuckTasksHandler)
			admin.POST("/chains/:chainId/stale", adminPoolHandler.MarkChainStaleHandler)
			admin.GET("/ragequits", adminPoolHandler.RagequitSummaryHandler)
			admin.GET("/reconciliation-runs", accountsHandler.RunsByChainHandler)
			admin.GET("/status", adminPoolHandler.ServiceStatusHandler)
		}
	}

	// ============ WebSocket ============
	// api.GET registers /api/ws; the root path stays for older clients.
	api.GET("/ws", gin.WrapH(http.HandlerFunc(wsHandler.HandleWebSocket)))
	r.GET("/ws", gin.WrapH(http.HandlerFunc(wsHandler.HandleWebSocket)))

	api.GET("/ws/status", gin.WrapH(http.HandlerFunc(wsHandler.GetConnectionStatus)))
}
