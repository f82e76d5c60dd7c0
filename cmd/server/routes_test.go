package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/nodebridge/internal/config"
	"github.com/MarkoPoloResearchLab/nodebridge/internal/httpapi"
	"github.com/MarkoPoloResearchLab/nodebridge/internal/nodeservice"
)

func newTestRouter(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	builder := nodeservice.NewURIBuilder(config.JSExecutorConfig{Host: "http://node:8080"})
	registerRoutes(
		router,
		newNodeCORS(allowedOrigins),
		httpapi.NewHealthHandlers(nil),
		httpapi.NewNodeProxyHandlers(builder, zap.NewNop(), nil),
	)
	return router
}

func sendPreflight(router *gin.Engine, origin string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodOptions, "/api/node/run/js", nil)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "content-type")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestNodeProxyPreflightUsesWildcardByDefault(testingT *testing.T) {
	router := newTestRouter(nil)

	recorder := sendPreflight(router, "http://widget.example")

	require.Equal(testingT, http.StatusNoContent, recorder.Code)
	require.Equal(testingT, corsOriginWildcard, recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(testingT, recorder.Header().Get("Access-Control-Allow-Credentials"))
}

func TestNodeProxyPreflightAllowsConfiguredOrigin(testingT *testing.T) {
	allowedOrigin := "http://localhost:8090"
	router := newTestRouter([]string{allowedOrigin})

	recorder := sendPreflight(router, allowedOrigin)

	require.Equal(testingT, http.StatusNoContent, recorder.Code)
	require.Equal(testingT, allowedOrigin, recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(testingT, "true", recorder.Header().Get("Access-Control-Allow-Credentials"))
}

func TestNodeProxyPreflightRejectsUnknownOrigin(testingT *testing.T) {
	router := newTestRouter([]string{"http://localhost:8090"})

	recorder := sendPreflight(router, "http://evil.example")

	require.Equal(testingT, http.StatusForbidden, recorder.Code)
}

func TestWildcardOriginDisablesCredentials(testingT *testing.T) {
	router := newTestRouter([]string{"http://localhost:8090", corsOriginWildcard})

	recorder := sendPreflight(router, "http://other.example")

	require.Equal(testingT, http.StatusNoContent, recorder.Code)
	require.Equal(testingT, corsOriginWildcard, recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthRouteRegistered(testingT *testing.T) {
	router := newTestRouter(nil)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, healthRoute, nil))

	require.Equal(testingT, http.StatusServiceUnavailable, recorder.Code)
}
