package nodeservice

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/MarkoPoloResearchLab/nodebridge/internal/config"
)

// PathPrefix is inserted between the node service host and every relative path.
const PathPrefix = "node-service/api"

const (
	pathSeparator          = "/"
	allowedPathPunctuation = "-._~!$&'()*+,;=:@/%"
)

// ErrInvalidURI reports a base host or composed path that cannot form a valid URI.
var ErrInvalidURI = errors.New("invalid node service uri")

// URIBuilder composes node service URIs against a configured host.
type URIBuilder struct {
	host string
}

// NewURIBuilder creates a builder bound to the configured node service host.
func NewURIBuilder(configuration config.JSExecutorConfig) *URIBuilder {
	return &URIBuilder{host: configuration.Host}
}

// Host returns the configured node service host.
func (builder *URIBuilder) Host() string {
	return builder.host
}

// CreateURI returns the absolute node service URI for the relative path.
func (builder *URIBuilder) CreateURI(relativePath string) (*url.URL, error) {
	return BuildURI(relativePath, builder.host)
}

// BuildURI appends PathPrefix and the normalized relative path to baseHost.
// One leading and one trailing slash are removed from relativePath; nothing
// else is normalized. Existing escapes are kept as given and only non-ASCII
// characters are percent-encoded.
func BuildURI(relativePath string, baseHost string) (*url.URL, error) {
	baseURL, parseErr := url.Parse(baseHost)
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidURI, baseHost, parseErr)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" || baseURL.Opaque != "" {
		return nil, fmt.Errorf("%w: %q is not an absolute host", ErrInvalidURI, baseHost)
	}

	composedPath := composePath(baseURL.EscapedPath(), PathPrefix, normalizePath(relativePath))
	if validationErr := validatePath(composedPath); validationErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, validationErr)
	}
	composedPath = encodeNonASCII(composedPath)
	decodedPath, unescapeErr := url.PathUnescape(composedPath)
	if unescapeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, unescapeErr)
	}

	result := *baseURL
	result.Path = decodedPath
	result.RawPath = composedPath
	return &result, nil
}

func normalizePath(relativePath string) string {
	normalized := strings.TrimPrefix(relativePath, pathSeparator)
	return strings.TrimSuffix(normalized, pathSeparator)
}

// composePath drops one trailing slash from basePath and appends the
// non-empty segments, each introduced by a single slash.
func composePath(basePath string, segments ...string) string {
	builder := &strings.Builder{}
	builder.WriteString(strings.TrimSuffix(basePath, pathSeparator))
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		builder.WriteString(pathSeparator)
		builder.WriteString(segment)
	}
	return builder.String()
}

// encodeNonASCII percent-encodes the UTF-8 bytes of non-ASCII characters so
// the raw path stays a valid encoding and url.URL keeps it verbatim.
func encodeNonASCII(rawPath string) string {
	builder := &strings.Builder{}
	for index := 0; index < len(rawPath); index++ {
		character := rawPath[index]
		if character > unicode.MaxASCII {
			fmt.Fprintf(builder, "%%%02X", character)
			continue
		}
		builder.WriteByte(character)
	}
	return builder.String()
}

func validatePath(rawPath string) error {
	for index, character := range rawPath {
		switch {
		case character >= 'a' && character <= 'z',
			character >= 'A' && character <= 'Z',
			character >= '0' && character <= '9',
			strings.ContainsRune(allowedPathPunctuation, character):
		case character > unicode.MaxASCII && !unicode.IsSpace(character) && !unicode.IsControl(character):
		default:
			return fmt.Errorf("illegal character %q at index %d in path %q", character, index, rawPath)
		}
	}
	return nil
}
