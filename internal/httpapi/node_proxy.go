package httpapi

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/nodebridge/internal/nodeservice"
)

const (
	// NodeProxyPathParam names the wildcard holding the relative node service path.
	NodeProxyPathParam       = "path"
	nodeURIQueryPath         = "path"
	errorInvalidNodePath     = "invalid node service path"
	errorNodeServiceUpstream = "node service unavailable"
)

// NodeURIBuilder resolves relative paths to node service URIs.
type NodeURIBuilder interface {
	CreateURI(relativePath string) (*url.URL, error)
}

// NodeProxyHandlers forwards API traffic to the node service.
type NodeProxyHandlers struct {
	builder   NodeURIBuilder
	logger    *zap.Logger
	transport http.RoundTripper
}

// NewNodeProxyHandlers constructs proxy handlers. A nil transport uses http.DefaultTransport.
func NewNodeProxyHandlers(builder NodeURIBuilder, logger *zap.Logger, transport http.RoundTripper) *NodeProxyHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &NodeProxyHandlers{
		builder:   builder,
		logger:    logger,
		transport: transport,
	}
}

// Forward proxies the request to the node service URI derived from the wildcard path.
func (handlers *NodeProxyHandlers) Forward(context *gin.Context) {
	relativePath := escapedWildcardPath(context)
	target, buildErr := handlers.builder.CreateURI(relativePath)
	if buildErr != nil {
		handlers.respondBuildError(context, relativePath, buildErr)
		return
	}

	requestID := RequestIDFromContext(context)
	proxy := &httputil.ReverseProxy{
		Transport: handlers.transport,
		Rewrite: func(proxyRequest *httputil.ProxyRequest) {
			outgoing := *target
			outgoing.RawQuery = joinQuery(target.RawQuery, proxyRequest.In.URL.RawQuery)
			proxyRequest.Out.URL = &outgoing
			proxyRequest.Out.Host = outgoing.Host
			proxyRequest.SetXForwarded()
			if requestID != "" {
				proxyRequest.Out.Header.Set(HeaderRequestID, requestID)
			}
		},
		ErrorHandler: handlers.upstreamErrorHandler(context, target.String(), requestID),
	}
	proxy.ServeHTTP(context.Writer, context.Request)
}

// upstreamErrorHandler answers 502 unless part of the upstream response was already sent.
func (handlers *NodeProxyHandlers) upstreamErrorHandler(context *gin.Context, targetURI string, requestID string) func(http.ResponseWriter, *http.Request, error) {
	return func(_ http.ResponseWriter, _ *http.Request, proxyErr error) {
		handlers.logger.Warn("node_proxy_upstream",
			zap.String("uri", targetURI),
			zap.String("request_id", requestID),
			zap.Bool("response_started", context.Writer.Written()),
			zap.Error(proxyErr),
		)
		if context.Writer.Written() {
			context.Abort()
			return
		}
		context.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": errorNodeServiceUpstream})
	}
}

// escapedWildcardPath returns the wildcard part of the request path with the
// client's percent-encoding intact. Param yields the decoded form, which would
// turn %2F into a segment separator.
func escapedWildcardPath(context *gin.Context) string {
	routePrefix := strings.TrimSuffix(context.FullPath(), "/*"+NodeProxyPathParam)
	escapedPath := context.Request.URL.EscapedPath()
	if routePrefix == "" || routePrefix == context.FullPath() || !strings.HasPrefix(escapedPath, routePrefix) {
		return context.Param(NodeProxyPathParam)
	}
	return strings.TrimPrefix(escapedPath, routePrefix)
}

// Resolve reports the node service URI for the path query parameter.
func (handlers *NodeProxyHandlers) Resolve(context *gin.Context) {
	relativePath := context.Query(nodeURIQueryPath)
	target, buildErr := handlers.builder.CreateURI(relativePath)
	if buildErr != nil {
		handlers.respondBuildError(context, relativePath, buildErr)
		return
	}
	context.JSON(http.StatusOK, gin.H{"uri": target.String()})
}

func (handlers *NodeProxyHandlers) respondBuildError(context *gin.Context, relativePath string, buildErr error) {
	if errors.Is(buildErr, nodeservice.ErrInvalidURI) {
		handlers.logger.Info("node_proxy_invalid_path", zap.String("path", relativePath), zap.Error(buildErr))
		context.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorInvalidNodePath})
		return
	}
	handlers.logger.Error("node_proxy_build_uri", zap.String("path", relativePath), zap.Error(buildErr))
	context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorNodeServiceUpstream})
}

func joinQuery(baseQuery string, incomingQuery string) string {
	switch {
	case baseQuery == "":
		return incomingQuery
	case incomingQuery == "":
		return baseQuery
	default:
		return baseQuery + "&" + incomingQuery
	}
}
