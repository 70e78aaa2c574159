package realtime

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// DialerOptions carries what every feed transport may need. Transports
// ignore fields that do not apply to them.
type DialerOptions struct {
	Token       string
	HouseholdID string
	// Channel names the LISTEN channel for database feeds.
	Channel    string
	HTTPClient *http.Client
}

type DialerFactory func(rawURL string, opts DialerOptions) (Dialer, error)

var dialerFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]DialerFactory
}{
	factories: map[string]DialerFactory{},
}

// RegisterDialerFactory makes BuildDialerFromURL use factory for URLs with
// the given scheme. Registered factories take precedence over built-in ones.
func RegisterDialerFactory(scheme string, factory DialerFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	dialerFactoryRegistry.mu.Lock()
	defer dialerFactoryRegistry.mu.Unlock()
	dialerFactoryRegistry.factories[scheme] = factory
}

func lookupDialerFactory(scheme string) (DialerFactory, bool) {
	scheme = normalizeScheme(scheme)
	dialerFactoryRegistry.mu.RLock()
	defer dialerFactoryRegistry.mu.RUnlock()
	factory, ok := dialerFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

// BuildDialerFromURL picks a feed transport from the URL scheme.
func BuildDialerFromURL(rawURL string, opts DialerOptions) (Dialer, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupDialerFactory(scheme); ok {
		return factory(rawURL, opts)
	}
	switch scheme {
	case "ws", "wss", "http", "https":
		return NewWebSocketDialer(WebSocketOptions{
			URL:         rawURL,
			Token:       opts.Token,
			HouseholdID: opts.HouseholdID,
			HTTPClient:  opts.HTTPClient,
		})
	case "postgres", "postgresql":
		return NewPostgresDialer(rawURL, opts.Channel, opts.HouseholdID)
	case "":
		return nil, fmt.Errorf("feed url %q has no scheme", rawURL)
	default:
		return nil, fmt.Errorf("unsupported feed scheme: %s", scheme)
	}
}
