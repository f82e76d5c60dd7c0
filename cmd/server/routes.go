package main

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/nodebridge/internal/httpapi"
)

const (
	healthRoute       = "/healthz"
	nodeProxyPrefix   = "/api/node"
	nodeProxyWildcard = "/*" + httpapi.NodeProxyPathParam
	nodeURIRoute      = "/api/node-uri"
)

func newNodeCORS(allowedOrigins []string) gin.HandlerFunc {
	allowCredentials := true
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, corsOriginWildcard) {
		allowedOrigins = []string{corsOriginWildcard}
		allowCredentials = false
	}
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	})
}

func registerRoutes(
	router *gin.Engine,
	nodeCORS gin.HandlerFunc,
	healthHandlers *httpapi.HealthHandlers,
	nodeProxyHandlers *httpapi.NodeProxyHandlers,
) {
	router.GET(healthRoute, healthHandlers.Health)
	router.GET(nodeURIRoute, nodeProxyHandlers.Resolve)

	nodeGroup := router.Group(nodeProxyPrefix)
	nodeGroup.Use(nodeCORS)
	nodeGroup.Any(nodeProxyWildcard, nodeProxyHandlers.Forward)
}
