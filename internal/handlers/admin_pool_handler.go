package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"pool-backend/internal/db"
	"pool-backend/internal/dto"
	"pool-backend/internal/events"
	"pool-backend/internal/repository"
	"pool-backend/internal/services"
	"pool-backend/internal/utils"
)

// AdminPoolHandler exposes the operator endpoints mounted behind the
// localhost restriction and the admin JWT.
type AdminPoolHandler struct {
	tasks          *services.ProofTaskService
	sessions       *services.OrchestratorManager
	reconciliation *services.ReconciliationService
	ragequits      repository.RagequitRepository
	push           *services.WebSocketPushService
	registry       *utils.ChainRegistry
	logger         *logrus.Logger
}

// NewAdminPoolHandler creates an AdminPoolHandler with explicit dependencies.
func NewAdminPoolHandler(
	tasks *services.ProofTaskService,
	sessions *services.OrchestratorManager,
	reconciliation *services.ReconciliationService,
	ragequits repository.RagequitRepository,
	push *services.WebSocketPushService,
	registry *utils.ChainRegistry,
	logger *logrus.Logger,
) *AdminPoolHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdminPoolHandler{
		tasks:          tasks,
		sessions:       sessions,
		reconciliation: reconciliation,
		ragequits:      ragequits,
		push:           push,
		registry:       registry,
		logger:         logger,
	}
}

// ============================================================================
// Proof task operations
// ============================================================================

// ListProofTasksHandler lists recent proof tasks across all accounts.
// GET /api/admin/proof-tasks?page=1&limit=20
func (h *AdminPoolHandler) ListProofTasksHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	tasks, total, err := h.tasks.ListRecent(c.Request.Context(), page, limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to list proof tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list proof tasks",
		})
		return
	}

	views := make([]dto.ProofTaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, taskView(task))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    views,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// RequeueStuckTasksHandler pushes tasks stuck in the processing state back to
// pending so a worker picks them up again.
// POST /api/admin/proof-tasks/requeue?older_than_minutes=10
func (h *AdminPoolHandler) RequeueStuckTasksHandler(c *gin.Context) {
	minutes, err := strconv.Atoi(c.DefaultQuery("older_than_minutes", "10"))
	if err != nil || minutes < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "older_than_minutes must be a positive integer",
		})
		return
	}

	requeued, err := h.tasks.RequeueStuck(c.Request.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		h.logger.WithError(err).Error("failed to requeue stuck proof tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to requeue stuck proof tasks",
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"requeued":   requeued,
		"older_than": minutes,
	}).Info("requeued stuck proof tasks")

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"requeued": requeued,
	})
}

// ============================================================================
// Reconciliation cache
// ============================================================================

// MarkChainStaleHandler flags every cached reconciliation on a chain as
// stale, forcing wallets to rerun their next pass. Reconciliation itself
// cannot be triggered server-side: it needs the wallet's viewing key.
// POST /api/admin/chains/:chainId/stale
func (h *AdminPoolHandler) MarkChainStaleHandler(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Param("chainId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid chain ID",
		})
		return
	}
	if !h.registry.IsSupported(chainID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Unsupported chain ID",
		})
		return
	}

	h.reconciliation.MarkChainStale(chainID)
	h.logger.WithField("chain_id", chainID).Info("chain marked stale by operator")

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"chain_id": chainID,
	})
}

// ============================================================================
// Ragequit records
// ============================================================================

// RagequitSummaryHandler reports observed ragequits. Without chain_id it
// returns per-chain counts for every registered deployment; with chain_id it
// returns the full record list for that chain.
// GET /api/admin/ragequits?chain_id=1
func (h *AdminPoolHandler) RagequitSummaryHandler(c *gin.Context) {
	chainParam := c.Query("chain_id")
	if chainParam == "" {
		counts := make([]gin.H, 0)
		for _, d := range h.registry.AllDeployments() {
			count, err := h.ragequits.CountByChain(c.Request.Context(), d.ChainID)
			if err != nil {
				h.logger.WithError(err).WithField("chain_id", d.ChainID).Error("failed to count ragequits")
				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Failed to count ragequit records",
				})
				return
			}
			counts = append(counts, gin.H{
				"chain_id": d.ChainID,
				"name":     d.Name,
				"count":    count,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    counts,
		})
		return
	}

	chainID, err := strconv.ParseUint(chainParam, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid chain_id",
		})
		return
	}

	records, err := h.ragequits.FindByChain(c.Request.Context(), chainID)
	if err != nil {
		h.logger.WithError(err).WithField("chain_id", chainID).Error("failed to list ragequits")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list ragequit records",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"chain_id": chainID,
		"count":    len(records),
		"data":     records,
	})
}

// ============================================================================
// Service status
// ============================================================================

// ServiceStatusHandler reports the health of the backing services as seen
// from inside the process.
// GET /api/admin/status
func (h *AdminPoolHandler) ServiceStatusHandler(c *gin.Context) {
	dbHealthy := true
	dbError := ""
	if err := db.Ping(); err != nil {
		dbHealthy = false
		dbError = err.Error()
	}

	natsConnected := false
	if nc := events.GetNATSClient(); nc != nil {
		natsConnected = nc.IsConnected()
	}

	status := gin.H{
		"success": true,
		"database": gin.H{
			"healthy": dbHealthy,
		},
		"nats": gin.H{
			"connected": natsConnected,
		},
		"websocket": gin.H{
			"connections": h.push.ConnectionCount(),
		},
		"sessions": gin.H{
			"active": h.sessions.ActiveCount(),
		},
		"timestamp": time.Now().Unix(),
	}
	if dbError != "" {
		status["database"].(gin.H)["error"] = dbError
	}

	httpStatus := http.StatusOK
	if !dbHealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, status)
}
