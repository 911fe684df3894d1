package payments

import (
	"net/http"
	"sort"
	"sync"
)

// Processor identifiers.
const (
	ProcessorOrders   = "orders"
	ProcessorIntents  = "intents"
	ProcessorREST     = "rest"
	ProcessorDisabled = "disabled"
)

// Settings is what a Constructor needs to build a processor.
type Settings struct {
	Processor    string
	BaseURL      string
	APIKey       string
	ClientID     string
	ClientSecret string
	// HTTPClient is optional; a client on the default transport is used when nil.
	HTTPClient *http.Client
}

func (s Settings) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{}
}

// Constructor builds a Processor or returns a *ConfigurationError.
type Constructor func(Settings) (Processor, error)

// Registry maps processor identifiers to constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry knows every processor shipped in this package.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(ProcessorOrders, NewOrdersProcessor)
	r.Register(ProcessorIntents, NewIntentsProcessor)
	r.Register(ProcessorREST, NewRESTProcessor)
	r.Register(ProcessorDisabled, func(Settings) (Processor, error) { return Disabled{}, nil })
	return r
}

// Register adds or replaces the constructor for name.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// Names lists registered identifiers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for n := range r.constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build constructs the processor named in s.
func (r *Registry) Build(s Settings) (Processor, error) {
	r.mu.RLock()
	c, ok := r.constructors[s.Processor]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Processor: s.Processor, Reason: "unknown processor"}
	}
	return c(s)
}

// NewGateway builds the configured processor. If it cannot be built the
// gateway falls back to Disabled and logs the degradation instead of failing.
func NewGateway(r *Registry, s Settings, opts ...GatewayOption) *Gateway {
	g := NewGatewayFor(Disabled{}, opts...)

	p, err := r.Build(s)
	if err != nil {
		g.logger.Warn("payment processor unavailable, real-money payments disabled",
			"processor", s.Processor,
			"error", err,
		)
		return g
	}
	g.processor = p
	g.logger.Info("payment processor configured", "processor", p.Name())
	return g
}
