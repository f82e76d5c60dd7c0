package nodeservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultClientTimeout  = 10 * time.Second
	healthPath            = "health"
	contentTypeJSON       = "application/json"
	headerContentType     = "Content-Type"
	headerAccept          = "Accept"
	errorBodyExcerptLimit = 512
)

// ErrUnexpectedStatus reports a node service reply outside the 2xx range.
var ErrUnexpectedStatus = errors.New("unexpected node service status")

// Client issues requests against the node service.
type Client struct {
	builder    *URIBuilder
	logger     *zap.Logger
	httpClient *http.Client
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		if timeout > 0 {
			client.httpClient.Timeout = timeout
		}
	}
}

// NewClient creates a node service client that resolves paths with builder.
func NewClient(builder *URIBuilder, logger *zap.Logger, options ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		builder:    builder,
		logger:     logger,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// Builder exposes the URI builder used by the client.
func (client *Client) Builder() *URIBuilder {
	return client.builder
}

// Do sends a request to the node service path. The caller closes the response body.
func (client *Client) Do(ctx context.Context, method string, relativePath string, body io.Reader, header http.Header) (*http.Response, error) {
	target, buildErr := client.builder.CreateURI(relativePath)
	if buildErr != nil {
		return nil, buildErr
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, target.String(), body)
	if requestErr != nil {
		return nil, fmt.Errorf("create node service request: %w", requestErr)
	}
	for name, values := range header {
		for _, value := range values {
			request.Header.Add(name, value)
		}
	}
	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		client.logger.Warn("node_service_request", zap.String("method", method), zap.String("uri", target.String()), zap.Error(doErr))
		return nil, fmt.Errorf("node service %s %s: %w", method, target.Path, doErr)
	}
	client.logger.Debug("node_service_request", zap.String("method", method), zap.String("uri", target.String()), zap.Int("status", response.StatusCode))
	return response, nil
}

// PostJSON posts payload as JSON and decodes the reply into response when it is not nil.
func (client *Client) PostJSON(ctx context.Context, relativePath string, payload any, response any) error {
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return fmt.Errorf("encode node service payload: %w", marshalErr)
	}
	header := http.Header{}
	header.Set(headerContentType, contentTypeJSON)
	header.Set(headerAccept, contentTypeJSON)

	reply, doErr := client.Do(ctx, http.MethodPost, relativePath, bytes.NewReader(encoded), header)
	if doErr != nil {
		return doErr
	}
	defer func() {
		_ = reply.Body.Close()
	}()

	if statusErr := checkStatus(reply); statusErr != nil {
		return statusErr
	}
	if response == nil {
		_, _ = io.Copy(io.Discard, reply.Body)
		return nil
	}
	if decodeErr := json.NewDecoder(reply.Body).Decode(response); decodeErr != nil {
		return fmt.Errorf("decode node service response: %w", decodeErr)
	}
	return nil
}

// Ping checks the node service health endpoint.
func (client *Client) Ping(ctx context.Context) error {
	reply, doErr := client.Do(ctx, http.MethodGet, healthPath, nil, nil)
	if doErr != nil {
		return doErr
	}
	defer func() {
		_ = reply.Body.Close()
	}()
	if statusErr := checkStatus(reply); statusErr != nil {
		return statusErr
	}
	_, _ = io.Copy(io.Discard, reply.Body)
	return nil
}

func checkStatus(reply *http.Response) error {
	if reply.StatusCode >= http.StatusOK && reply.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	excerpt, _ := io.ReadAll(io.LimitReader(reply.Body, errorBodyExcerptLimit))
	return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, reply.StatusCode, strings.TrimSpace(string(excerpt)))
}
