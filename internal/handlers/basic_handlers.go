package handlers

import (
	"net/http"

	"pool-backend/internal/db"
	"pool-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// HealthCheckHandler reports liveness.
// GET /health
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pool-backend",
		"api":     "healthy",
	})
}

// ReadyCheckHandler reports readiness: the database must answer.
// GET /ready
func ReadyCheckHandler(c *gin.Context) {
	if err := db.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// SupportedChainsHandler lists the pool deployments this backend serves.
// GET /api/chains
func SupportedChainsHandler(c *gin.Context) {
	deployments := utils.GlobalChainRegistry.AllDeployments()

	chains := make([]gin.H, 0, len(deployments))
	for _, d := range deployments {
		chains = append(chains, gin.H{
			"chain_id":         d.ChainID,
			"name":             d.Name,
			"symbol":           d.Symbol,
			"pool_address":     d.PoolAddress.Hex(),
			"entrypoint":       d.EntrypointAddr.Hex(),
			"deployment_block": d.DeploymentBlock,
			"scope":            d.ScopeHash.Hex(),
			"explorer_url":     d.ExplorerURL,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"chains":  chains,
	})
}
