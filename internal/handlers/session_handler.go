package handlers

import (
	"math/big"
	"net/http"

	"pool-backend/internal/dto"
	"pool-backend/internal/services"
	"pool-backend/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SessionHandler exposes the signing-session lifecycle: sync calls in, watch
// the estimate, attach the signature, tear down.
type SessionHandler struct {
	manager *services.OrchestratorManager
	logger  *logrus.Logger
}

func NewSessionHandler(manager *services.OrchestratorManager, logger *logrus.Logger) *SessionHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionHandler{
		manager: manager,
		logger:  logger,
	}
}

// authedAccount reads the wallet address the auth middleware stored.
func authedAccount(c *gin.Context) (common.Address, bool) {
	raw, ok := c.Get("account_address")
	if !ok {
		return common.Address{}, false
	}
	addr, ok := raw.(string)
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}

// SyncOperationHandler folds a batch of calls into the caller's session and
// returns the resulting snapshot. An empty batch is accepted and changes
// nothing.
// POST /api/session/sync
func (h *SessionHandler) SyncOperationHandler(c *gin.Context) {
	account, ok := authedAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication context missing",
		})
		return
	}

	var req dto.SyncOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	calls, err := parseCalls(req.Calls)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	orchestrator := h.manager.GetOrCreate(account)
	orchestrator.SyncOperation(c.Request.Context(), calls)

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"snapshot": orchestrator.Snapshot(),
	})
}

// StatusHandler returns the caller's current session snapshot. With no
// session the snapshot reports the idle state.
// GET /api/session/status
func (h *SessionHandler) StatusHandler(c *gin.Context) {
	account, ok := authedAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication context missing",
		})
		return
	}

	orchestrator, exists := h.manager.Get(account)
	if !exists {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"snapshot": types.OrchestratorSnapshot{
				State:   types.OrchestratorIdle,
				Account: account.Hex(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"snapshot": orchestrator.Snapshot(),
	})
}

// AttachSignatureHandler finalizes the estimated operation with the wallet
// signature.
// POST /api/session/signature
func (h *SessionHandler) AttachSignatureHandler(c *gin.Context) {
	account, ok := authedAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication context missing",
		})
		return
	}

	var req dto.AttachSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	signature, err := parseHexBytes("signature", req.Signature)
	if err != nil || len(signature) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "signature must be non-empty hex",
		})
		return
	}

	orchestrator, exists := h.manager.Get(account)
	if !exists {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "No active signing session",
		})
		return
	}

	if !orchestrator.AttachSignature(signature) {
		c.JSON(http.StatusConflict, gin.H{
			"success":  false,
			"error":    "Signature rejected",
			"snapshot": orchestrator.Snapshot(),
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"account": account.Hex(),
	}).Info("Signature attached to signing session")

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"snapshot": orchestrator.Snapshot(),
	})
}

// TeardownHandler releases the caller's session. Idempotent.
// POST /api/session/teardown
func (h *SessionHandler) TeardownHandler(c *gin.Context) {
	account, ok := authedAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication context missing",
		})
		return
	}

	if orchestrator, exists := h.manager.Get(account); exists {
		orchestrator.Teardown()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Session torn down",
	})
}

// ResetHandler is teardown plus clearing the caller-visible error.
// POST /api/session/reset
func (h *SessionHandler) ResetHandler(c *gin.Context) {
	account, ok := authedAccount(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication context missing",
		})
		return
	}

	if orchestrator, exists := h.manager.Get(account); exists {
		orchestrator.ResetForm()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Session reset",
	})
}

// parseCalls converts wire call inputs into domain calls.
func parseCalls(inputs []dto.CallInput) ([]types.PoolCall, error) {
	calls := make([]types.PoolCall, 0, len(inputs))
	for _, in := range inputs {
		to, err := parseAddress("to", in.To)
		if err != nil {
			return nil, err
		}

		value := new(big.Int)
		if in.Value != "" {
			value, err = parseUint256("value", in.Value)
			if err != nil {
				return nil, err
			}
		}

		data, err := parseHexBytes("data", in.Data)
		if err != nil {
			return nil, err
		}

		calls = append(calls, types.PoolCall{
			ChainID: in.ChainID,
			To:      to,
			Value:   value,
			Data:    data,
		})
	}
	return calls, nil
}
