package server

import (
	"github.com/gin-gonic/gin"

	"github.com/nammalakes/nodeup/pkg/metrics"
)

// SetupRoutes registers the service endpoints on router. reg may be nil,
// in which case /metrics is not served.
func SetupRoutes(router *gin.Engine, u Updater, nodes NodeLister, reg *metrics.Registry) {
	router.GET("/healthz", HealthCheck)
	router.GET("/nodes", HandleListNodes(nodes))

	// both spellings have been in use by callers
	router.POST("/update-node", HandleUpdateNode(u))
	router.POST("/update-node/", HandleUpdateNode(u))
	router.POST("/update-multiple-nodes", HandleUpdateMultipleNodes(u))
	router.POST("/update-multiple-nodes/", HandleUpdateMultipleNodes(u))

	if reg != nil {
		router.GET("/metrics", gin.WrapH(reg.Handler()))
	}
}
