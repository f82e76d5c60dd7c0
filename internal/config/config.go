package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingNodeServiceHost indicates that no node service host was configured.
	ErrMissingNodeServiceHost = errors.New("node service host is required")
	// ErrInvalidNodeServiceHost indicates a host that is not an absolute URI.
	ErrInvalidNodeServiceHost = errors.New("node service host must be an absolute uri")
)

// JSExecutorConfig locates the node service that executes JavaScript.
type JSExecutorConfig struct {
	Host string `yaml:"host"`
}

// CommonConfig is the configuration shared across the backend.
type CommonConfig struct {
	JSExecutor JSExecutorConfig `yaml:"jsExecutor"`
}

type configurationFile struct {
	Common CommonConfig `yaml:"common"`
}

// LoadFile reads CommonConfig from a YAML file. An empty path yields an empty configuration.
func LoadFile(path string) (CommonConfig, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return CommonConfig{}, nil
	}
	contents, readErr := os.ReadFile(trimmedPath)
	if readErr != nil {
		return CommonConfig{}, fmt.Errorf("read config %s: %w", trimmedPath, readErr)
	}
	configuration, decodeErr := Decode(contents)
	if decodeErr != nil {
		return CommonConfig{}, fmt.Errorf("decode config %s: %w", trimmedPath, decodeErr)
	}
	return configuration, nil
}

// Decode parses YAML contents, rejecting unknown fields.
func Decode(contents []byte) (CommonConfig, error) {
	var file configurationFile
	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)
	if decodeErr := decoder.Decode(&file); decodeErr != nil {
		if errors.Is(decodeErr, io.EOF) {
			return CommonConfig{}, nil
		}
		return CommonConfig{}, decodeErr
	}
	file.Common.JSExecutor.Host = strings.TrimSpace(file.Common.JSExecutor.Host)
	return file.Common, nil
}

// WithNodeServiceHost returns a copy with the host replaced when override is not blank.
func (configuration CommonConfig) WithNodeServiceHost(override string) CommonConfig {
	trimmed := strings.TrimSpace(override)
	if trimmed != "" {
		configuration.JSExecutor.Host = trimmed
	}
	return configuration
}

// Validate checks that the node service host is present and absolute.
func (configuration CommonConfig) Validate() error {
	host := configuration.JSExecutor.Host
	if host == "" {
		return ErrMissingNodeServiceHost
	}
	parsed, parseErr := url.Parse(host)
	if parseErr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidNodeServiceHost, parseErr)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidNodeServiceHost, host)
	}
	return nil
}
