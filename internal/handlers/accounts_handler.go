package handlers

import (
	"net/http"
	"strconv"

	"pool-backend/internal/dto"
	"pool-backend/internal/repository"
	"pool-backend/internal/services"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AccountsHandler serves pool account reconciliation.
type AccountsHandler struct {
	reconciliation *services.ReconciliationService
	runRepo        repository.ReconciliationRunRepository
	logger         *logrus.Logger
}

func NewAccountsHandler(
	reconciliation *services.ReconciliationService,
	runRepo repository.ReconciliationRunRepository,
	logger *logrus.Logger,
) *AccountsHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AccountsHandler{
		reconciliation: reconciliation,
		runRepo:        runRepo,
		logger:         logger,
	}
}

// ReconcileHandler runs a full reconciliation pass for the caller's viewing
// key and returns the reconstructed accounts.
// POST /api/accounts/reconcile
func (h *AccountsHandler) ReconcileHandler(c *gin.Context) {
	var req dto.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	viewingKey, err := parseHash32("viewing_key", req.ViewingKey)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	if !utils.GlobalChainRegistry.IsSupported(req.ChainID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Unsupported chain ID",
		})
		return
	}

	material := types.SecretMaterial{ViewingKey: viewingKey}
	result, err := h.reconciliation.ReconcileAccounts(c.Request.Context(), req.ChainID, material)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"chain_id": req.ChainID,
			"error":    err.Error(),
		}).Error("Reconciliation failed")

		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   "Reconciliation failed: " + err.Error(),
		})
		return
	}

	accountKey := utils.ComputeAccountKey(viewingKey)
	cached, _ := h.reconciliation.LastResult(accountKey)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    buildReconcileResponse(accountKey.Hex(), result, cached),
	})
}

// CachedReconciliationHandler returns the retained outcome of the account's
// latest pass. The Stale flag reports pool events newer than the pass.
// GET /api/accounts/reconciliation/:accountKey
func (h *AccountsHandler) CachedReconciliationHandler(c *gin.Context) {
	accountKey, err := parseHash32("accountKey", c.Param("accountKey"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	cached, ok := h.reconciliation.LastResult(accountKey)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "No reconciliation cached for this account key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    buildReconcileResponse(accountKey.Hex(), cached.Result, cached),
	})
}

// LatestRunHandler returns the most recent audit row for an account key.
// GET /api/accounts/runs/:accountKey
func (h *AccountsHandler) LatestRunHandler(c *gin.Context) {
	accountKey, err := parseHash32("accountKey", c.Param("accountKey"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	run, err := h.runRepo.FindLatestByAccountKey(c.Request.Context(), accountKey.Hex())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "No reconciliation runs recorded for this account key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": dto.ReconciliationRunView{
			ID:              run.ID,
			ChainID:         run.ChainID,
			AccountKey:      run.AccountKey,
			ScopeCount:      run.ScopeCount,
			ChainCount:      run.ChainCount,
			AccountCount:    run.AccountCount,
			MalformedLabels: run.MalformedLabels,
			DurationMs:      run.DurationMs,
			ErrorSummary:    run.ErrorSummary,
			CreatedAt:       run.CreatedAt.Unix(),
		},
	})
}

// RunsByChainHandler lists audit rows for one chain, paginated.
// GET /api/admin/reconciliation-runs?chain_id=1&page=1&limit=20
func (h *AccountsHandler) RunsByChainHandler(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.Query("chain_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "chain_id query parameter is required",
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	runs, total, err := h.runRepo.FindByChain(c.Request.Context(), chainID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list reconciliation runs: " + err.Error(),
		})
		return
	}

	views := make([]dto.ReconciliationRunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, dto.ReconciliationRunView{
			ID:              run.ID,
			ChainID:         run.ChainID,
			AccountKey:      run.AccountKey,
			ScopeCount:      run.ScopeCount,
			ChainCount:      run.ChainCount,
			AccountCount:    run.AccountCount,
			MalformedLabels: run.MalformedLabels,
			DurationMs:      run.DurationMs,
			ErrorSummary:    run.ErrorSummary,
			CreatedAt:       run.CreatedAt.Unix(),
		})
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

// buildReconcileResponse maps a reconcile result onto the wire shape.
func buildReconcileResponse(accountKey string, result *types.ReconcileResult, cached *services.CachedReconciliation) dto.ReconcileResponse {
	resp := dto.ReconcileResponse{
		ChainID:         result.ChainID,
		AccountKey:      accountKey,
		Accounts:        accountViews(result.AccountsForChain),
		AccountsByScope: make(map[string][]dto.PoolAccountView, len(result.AccountsByChainScope)),
	}

	for key, accounts := range result.AccountsByChainScope {
		resp.AccountsByScope[key] = accountViews(accounts)
	}

	for _, chainErr := range result.ChainErrors {
		resp.MalformedChains = append(resp.MalformedChains, dto.MalformedChainView{
			Scope:      chainErr.Scope.Hex(),
			ChainIndex: chainErr.ChainIndex,
			Reason:     chainErr.Reason,
		})
	}

	if cached != nil {
		resp.Stale = cached.Stale
		resp.ReconciledAt = cached.Reconciled.Unix()
	}
	return resp
}

func accountViews(accounts []*types.PoolAccount) []dto.PoolAccountView {
	views := make([]dto.PoolAccountView, 0, len(accounts))
	for _, account := range accounts {
		view := dto.PoolAccountView{
			ChainID:        account.Scope.ChainID,
			Scope:          account.Scope.ScopeHash.Hex(),
			SequenceNumber: account.SequenceNumber,
			ReviewStatus:   string(account.ReviewStatus),
			Ragequit:       account.Ragequit != nil,
		}
		if deployment, ok := utils.GlobalChainRegistry.GetByChainID(account.Scope.ChainID); ok {
			view.AssetName = deployment.Name
			view.AssetSymbol = deployment.Symbol
		}
		if account.Chain != nil && account.Chain.Root != nil {
			view.Label = account.Chain.Root.Label.Hex()
		}
		if account.Balance != nil {
			view.Balance = account.Balance.String()
		} else {
			view.Balance = "0"
		}
		if account.LastCommitment != nil {
			view.LastCommitment = account.LastCommitment.Hash.Hex()
		}
		views = append(views, view)
	}
	return views
}
