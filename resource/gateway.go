package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"temporal-fulfillment/cache"
	"temporal-fulfillment/health"
)

// Availability decides whether a service may be called right now
type Availability interface {
	Available(service string) bool
}

type alwaysAvailable struct{}

func (alwaysAvailable) Available(string) bool { return true }

var errServiceDown = errors.New("service is in backoff after failed health checks")

// Gateway is the read-through entry point to every downstream service.
// Reads consult the cache, then the availability gate, then the service.
// Writes always go to the service and, once confirmed, invalidate the
// cached entries of the written resource.
type Gateway struct {
	clients  map[string]*Client
	cache    *cache.Cache
	gate     Availability
	cacheTTL time.Duration
	logger   *slog.Logger
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithAvailability gates reads on gate
func WithAvailability(gate Availability) GatewayOption {
	return func(g *Gateway) { g.gate = gate }
}

// WithCacheTTL sets the TTL of cached reads
func WithCacheTTL(ttl time.Duration) GatewayOption {
	return func(g *Gateway) { g.cacheTTL = ttl }
}

// WithGatewayLogger sets the logger
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// NewGateway creates a Gateway over clients. A nil cache disables caching.
func NewGateway(clients []*Client, c *cache.Cache, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		clients:  make(map[string]*Client, len(clients)),
		cache:    c,
		gate:     alwaysAvailable{},
		cacheTTL: cache.DefaultTTL,
		logger:   slog.Default(),
	}
	for _, client := range clients {
		g.clients[client.Name()] = client
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Services returns the names of all configured services
func (g *Gateway) Services() []string {
	names := make([]string, 0, len(g.clients))
	for name := range g.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Client returns the client of service
func (g *Gateway) Client(service string) (*Client, error) {
	client, ok := g.clients[service]
	if !ok {
		return nil, fmt.Errorf("unknown service %q", service)
	}
	return client, nil
}

// Probe implements health.Prober
func (g *Gateway) Probe(ctx context.Context, service string) (health.ProbeResult, error) {
	client, err := g.Client(service)
	if err != nil {
		return health.ProbeResult{}, err
	}
	report, status, latency, err := client.Health(ctx)
	if err != nil {
		return health.ProbeResult{}, err
	}
	return health.ProbeResult{
		StatusCode: status,
		Latency:    latency,
		Version:    report.Version,
		ReleaseID:  report.ReleaseID,
	}, nil
}

// Get reads /{service}/{id} into out
func (g *Gateway) Get(ctx context.Context, service, id string, out any) error {
	client, err := g.Client(service)
	if err != nil {
		return err
	}
	return g.read(ctx, client, client.EntityURL(id), nil, out, func(ctx context.Context, raw *json.RawMessage) error {
		return client.Get(ctx, id, raw)
	})
}

// List reads /{service}/ with query into out
func (g *Gateway) List(ctx context.Context, service string, query url.Values, out any) error {
	client, err := g.Client(service)
	if err != nil {
		return err
	}
	return g.read(ctx, client, client.CollectionURL(), query, out, func(ctx context.Context, raw *json.RawMessage) error {
		return client.List(ctx, query, raw)
	})
}

// Create posts body to /{service}/
func (g *Gateway) Create(ctx context.Context, service string, body, out any) error {
	client, err := g.Client(service)
	if err != nil {
		return err
	}
	if err := client.Create(ctx, body, out); err != nil {
		return err
	}
	g.invalidate(ctx, client, "")
	return nil
}

// Update puts body to /{service}/{id}
func (g *Gateway) Update(ctx context.Context, service, id string, body, out any) error {
	client, err := g.Client(service)
	if err != nil {
		return err
	}
	if err := client.Update(ctx, id, body, out); err != nil {
		return err
	}
	g.invalidate(ctx, client, id)
	return nil
}

// Delete removes /{service}/{id}
func (g *Gateway) Delete(ctx context.Context, service, id string) error {
	client, err := g.Client(service)
	if err != nil {
		return err
	}
	if err := client.Delete(ctx, id); err != nil {
		return err
	}
	g.invalidate(ctx, client, id)
	return nil
}

// Aggregate returns the derived view of service named view, calling build
// on a miss. The view is cached under the service's aggregate key, so any
// confirmed write to service clears it.
func (g *Gateway) Aggregate(ctx context.Context, service, view string, out any, build func(context.Context) (any, error)) error {
	key := cache.AggregateKey(service, view)
	if g.cache != nil {
		if cached, ok := g.cache.Get(ctx, key); ok {
			if err := json.Unmarshal(cached, out); err == nil {
				return nil
			}
			g.logger.Warn("discarding undecodable cache entry", "key", key)
		}
	}

	v, err := build(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s view: %w", service, view, err)
	}
	if g.cache != nil {
		g.cache.Set(ctx, key, raw, g.cacheTTL)
	}
	return json.Unmarshal(raw, out)
}

func (g *Gateway) read(ctx context.Context, client *Client, rawURL string, query url.Values, out any,
	fetch func(context.Context, *json.RawMessage) error) error {
	key, _ := cache.RESTKey(http.MethodGet, rawURL, query)

	if g.cache != nil {
		if cached, ok := g.cache.Get(ctx, key); ok {
			if err := json.Unmarshal(cached, out); err == nil {
				return nil
			}
			g.logger.Warn("discarding undecodable cache entry", "key", key)
		}
	}

	if !g.gate.Available(client.Name()) {
		return &Error{Service: client.Name(), Method: http.MethodGet, URL: rawURL, Cause: errServiceDown}
	}

	var raw json.RawMessage
	if err := fetch(ctx, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if g.cache != nil {
		g.cache.Set(ctx, key, raw, g.cacheTTL)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", client.Name(), err)
	}
	return nil
}

func (g *Gateway) invalidate(ctx context.Context, client *Client, id string) {
	if g.cache == nil {
		return
	}
	prefixes := cache.InvalidationPrefixes(client.BaseURL(), client.Name(), id)
	removed := g.cache.Invalidate(ctx, prefixes...)
	g.logger.Debug("cache invalidated", "service", client.Name(), "id", id, "removed", removed)
}
