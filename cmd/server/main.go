package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/nodebridge/internal/config"
	"github.com/MarkoPoloResearchLab/nodebridge/internal/httpapi"
	"github.com/MarkoPoloResearchLab/nodebridge/internal/nodeservice"
	"github.com/MarkoPoloResearchLab/nodebridge/internal/task"
)

const (
	commandUseName                   = "server"
	commandShortDescription          = "Run the node service bridge"
	commandLongDescription           = "Launch the HTTP server that forwards API calls to the node service"
	missingConfigurationMessage      = "missing required configuration"
	invalidConfigurationMessage      = "invalid configuration"
	loggerCreationErrorMessage       = "logger"
	logEventListening                = "listening"
	logEventShutdown                 = "shutdown"
	logFieldAddress                  = "addr"
	logFieldNodeServiceHost          = "node_service_host"
	flagNameApplicationAddress       = "app-addr"
	flagNameConfigurationFile        = "config"
	flagNameNodeServiceHost          = "node-service-host"
	flagNameCORSOrigins              = "cors-origins"
	flagNameHealthInterval           = "health-interval"
	flagUsageApplicationAddress      = "address for the HTTP server to listen on"
	flagUsageConfigurationFile       = "path to a YAML file with the common configuration"
	flagUsageNodeServiceHost         = "base URI of the node service, overrides common.jsExecutor.host"
	flagUsageCORSOrigins             = "comma separated origins allowed to call the node proxy"
	flagUsageHealthInterval          = "interval between node service health probes"
	environmentKeyApplicationAddress = "APP_ADDR"
	environmentKeyConfigurationFile  = "NODEBRIDGE_CONFIG"
	environmentKeyNodeServiceHost    = "NODE_SERVICE_HOST"
	environmentKeyCORSOrigins        = "CORS_ORIGINS"
	environmentKeyHealthInterval     = "HEALTH_INTERVAL"
	defaultApplicationAddress        = ":8080"
	defaultHealthInterval            = 30 * time.Second
	corsOriginWildcard               = "*"
	corsHeaderAuthorization          = "Authorization"
	corsHeaderContentType            = "Content-Type"
	httpMethodGet                    = "GET"
	httpMethodOptions                = "OPTIONS"
	httpMethodPost                   = "POST"
	httpMethodPut                    = "PUT"
	httpMethodDelete                 = "DELETE"
	loggerContextServer              = "server"
	readHeaderTimeoutSeconds         = 5
	shutdownTimeout                  = 10 * time.Second
	unexpectedArgumentsMessage       = "unexpected command arguments"
	commandInitializationFailure     = "failed to configure command"
	flagNotDefinedMessage            = "flag %s not defined"
	environmentConfigurationError    = "failed to apply environment configuration"
)

var (
	corsAllowedMethods = []string{httpMethodGet, httpMethodPost, httpMethodPut, httpMethodDelete, httpMethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType, httpapi.HeaderRequestID}
	corsExposedHeaders = []string{corsHeaderContentType, httpapi.HeaderRequestID}
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress string
	Common             config.CommonConfig
	CORSOrigins        []string
	HealthInterval     time.Duration
}

// ServerRunner serves httpServer until ctx is cancelled.
type ServerRunner func(ctx context.Context, httpServer *http.Server, logger *zap.Logger) error

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	serverRunner        ServerRunner
	loggerFactory       func() (*zap.Logger, error)
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		serverRunner:        listenAndServe,
		loggerFactory:       func() (*zap.Logger, error) { return zap.NewProduction() },
	}
}

// WithServerRunner overrides how the HTTP server is run.
func (application *ServerApplication) WithServerRunner(serverRunner ServerRunner) *ServerApplication {
	application.serverRunner = serverRunner
	return application
}

// WithLoggerFactory overrides the logger constructor.
func (application *ServerApplication) WithLoggerFactory(loggerFactory func() (*zap.Logger, error)) *ServerApplication {
	application.loggerFactory = loggerFactory
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

type flagBinding struct {
	environmentKey string
	flagName       string
}

var flagBindings = []flagBinding{
	{environmentKey: environmentKeyApplicationAddress, flagName: flagNameApplicationAddress},
	{environmentKey: environmentKeyConfigurationFile, flagName: flagNameConfigurationFile},
	{environmentKey: environmentKeyNodeServiceHost, flagName: flagNameNodeServiceHost},
	{environmentKey: environmentKeyCORSOrigins, flagName: flagNameCORSOrigins},
	{environmentKey: environmentKeyHealthInterval, flagName: flagNameHealthInterval},
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyApplicationAddress, defaultApplicationAddress)
	application.configurationLoader.SetDefault(environmentKeyConfigurationFile, "")
	application.configurationLoader.SetDefault(environmentKeyNodeServiceHost, "")
	application.configurationLoader.SetDefault(environmentKeyCORSOrigins, corsOriginWildcard)
	application.configurationLoader.SetDefault(environmentKeyHealthInterval, defaultHealthInterval)
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, flagUsageApplicationAddress)
	commandFlags.String(flagNameConfigurationFile, "", flagUsageConfigurationFile)
	commandFlags.String(flagNameNodeServiceHost, "", flagUsageNodeServiceHost)
	commandFlags.String(flagNameCORSOrigins, corsOriginWildcard, flagUsageCORSOrigins)
	commandFlags.Duration(flagNameHealthInterval, defaultHealthInterval, flagUsageHealthInterval)

	for _, binding := range flagBindings {
		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
	}

	for _, binding := range flagBindings {
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	commonConfig, loadErr := config.LoadFile(application.configurationLoader.GetString(environmentKeyConfigurationFile))
	if loadErr != nil {
		return ServerConfig{}, loadErr
	}
	commonConfig = commonConfig.WithNodeServiceHost(application.configurationLoader.GetString(environmentKeyNodeServiceHost))

	return ServerConfig{
		ApplicationAddress: application.configurationLoader.GetString(environmentKeyApplicationAddress),
		Common:             commonConfig,
		CORSOrigins:        parseOrigins(application.configurationLoader.GetString(environmentKeyCORSOrigins)),
		HealthInterval:     application.configurationLoader.GetDuration(environmentKeyHealthInterval),
	}, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configErr := application.loadServerConfig()
	if configErr != nil {
		return fmt.Errorf("%s: %w", invalidConfigurationMessage, configErr)
	}

	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := application.loggerFactory()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	uriBuilder := nodeservice.NewURIBuilder(serverConfig.Common.JSExecutor)
	nodeClient := nodeservice.NewClient(uriBuilder, logger)
	healthMonitor := task.NewNodeHealthMonitor(serverConfig.HealthInterval, nodeClient.Ping, logger)

	router := newRouter(logger, serverConfig, uriBuilder, healthMonitor)

	runtimeContext, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthMonitor.Start(runtimeContext)
	defer healthMonitor.Stop()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	logger.Info(logEventListening,
		zap.String(logFieldAddress, serverConfig.ApplicationAddress),
		zap.String(logFieldNodeServiceHost, uriBuilder.Host()),
	)
	if serveErr := application.serverRunner(runtimeContext, httpServer, logger); serveErr != nil {
		logger.Error(loggerContextServer, zap.Error(serveErr))
		return serveErr
	}

	return nil
}

func newRouter(logger *zap.Logger, serverConfig ServerConfig, uriBuilder *nodeservice.URIBuilder, healthMonitor *task.NodeHealthMonitor) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestID())
	router.Use(httpapi.RequestLogger(logger))

	registerRoutes(
		router,
		newNodeCORS(serverConfig.CORSOrigins),
		httpapi.NewHealthHandlers(healthMonitor),
		httpapi.NewNodeProxyHandlers(uriBuilder, logger, nil),
	)
	return router
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	validationErr := configuration.Common.Validate()
	if errors.Is(validationErr, config.ErrMissingNodeServiceHost) {
		return fmt.Errorf("%s: %s", missingConfigurationMessage, flagNameNodeServiceHost)
	}
	if validationErr != nil {
		return fmt.Errorf("%s: %w", invalidConfigurationMessage, validationErr)
	}
	if _, buildErr := nodeservice.BuildURI("", configuration.Common.JSExecutor.Host); buildErr != nil {
		return fmt.Errorf("%s: %w", invalidConfigurationMessage, buildErr)
	}
	return nil
}

func parseOrigins(rawOrigins string) []string {
	var origins []string
	for _, origin := range strings.Split(rawOrigins, ",") {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		origins = append(origins, trimmed)
	}
	return origins
}

func listenAndServe(ctx context.Context, httpServer *http.Server, logger *zap.Logger) error {
	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrors:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	case <-ctx.Done():
	}

	logger.Info(logEventShutdown)
	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownContext)
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
