// Package cache is a two-tier read-through cache: a bounded in-process LRU
// and an optional shared Redis tier that is authoritative while reachable.
package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RESTKey builds the key for a REST read. Only GET requests are cacheable;
// ok is false for every other method. Query parameters are sorted by name
// so the key does not depend on their order.
func RESTKey(method, rawURL string, query url.Values) (key string, ok bool) {
	if !strings.EqualFold(method, http.MethodGet) {
		return "", false
	}
	return fmt.Sprintf("rest:GET:%s:%s", rawURL, query.Encode()), true
}

// AggregateKey names a cross-entity view derived from resource, e.g. a
// payments summary. It is cleared with every mutation of resource.
func AggregateKey(resource, view string) string {
	return fmt.Sprintf("gql:%s_%s", resource, view)
}

// InvalidationPrefixes returns the key prefixes a successful mutation of
// resource makes stale: the entity detail (when id is known), the collection
// listing and every aggregate view keyed by the resource.
func InvalidationPrefixes(baseURL, resource, id string) []string {
	baseURL = strings.TrimRight(baseURL, "/")
	prefixes := make([]string, 0, 3)
	if id != "" {
		// The trailing separator keeps /orders/1 from matching /orders/10.
		prefixes = append(prefixes, fmt.Sprintf("rest:GET:%s/%s/%s:", baseURL, resource, url.PathEscape(id)))
	}
	prefixes = append(prefixes,
		fmt.Sprintf("rest:GET:%s/%s/", baseURL, resource),
		fmt.Sprintf("gql:%s", resource),
	)
	return prefixes
}
