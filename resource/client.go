// Package resource talks to the CRUD services that own orders, payments,
// shipments, customers, products and inventory.
package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Service names. Every service exposes its collection at /{name}/.
const (
	Customers = "customers"
	Products  = "products"
	Inventory = "inventory"
	Orders    = "orders"
	Payments  = "payments"
	Shipments = "shipments"
)

// Timeouts bounds every call by class. Probes use the shortest deadline and
// mutations the longest.
type Timeouts struct {
	Probe time.Duration
	Read  time.Duration
	Write time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Probe: 3 * time.Second,
		Read:  5 * time.Second,
		Write: 10 * time.Second,
	}
}

// Client issues requests against a single downstream service
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	timeouts   Timeouts
}

// NewClient creates a Client for the named service rooted at baseURL
func NewClient(name, baseURL string, httpClient *http.Client, timeouts Timeouts) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeouts:   timeouts,
	}
}

// Name returns the service name
func (c *Client) Name() string { return c.name }

// BaseURL returns the service root without trailing slash
func (c *Client) BaseURL() string { return c.baseURL }

// CollectionURL returns the URL of GET/POST /{name}/
func (c *Client) CollectionURL() string {
	return fmt.Sprintf("%s/%s/", c.baseURL, c.name)
}

// EntityURL returns the URL of GET/PUT/DELETE /{name}/{id}
func (c *Client) EntityURL(id string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.name, url.PathEscape(id))
}

// List decodes GET /{name}/ into out
func (c *Client) List(ctx context.Context, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, c.CollectionURL(), query, nil, out, c.timeouts.Read)
}

// Get decodes GET /{name}/{id} into out. A 404 yields ErrNotFound.
func (c *Client) Get(ctx context.Context, id string, out any) error {
	return c.do(ctx, http.MethodGet, c.EntityURL(id), nil, nil, out, c.timeouts.Read)
}

// Create posts body to /{name}/ and decodes the created entity into out
func (c *Client) Create(ctx context.Context, body, out any) error {
	return c.do(ctx, http.MethodPost, c.CollectionURL(), nil, body, out, c.timeouts.Write)
}

// Update puts body to /{name}/{id} and decodes the updated entity into out
func (c *Client) Update(ctx context.Context, id string, body, out any) error {
	return c.do(ctx, http.MethodPut, c.EntityURL(id), nil, body, out, c.timeouts.Write)
}

// Delete removes /{name}/{id}
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.EntityURL(id), nil, nil, nil, c.timeouts.Write)
}

// HealthReport is the body of GET /health
type HealthReport struct {
	Status    string `json:"status"`
	Service   string `json:"service,omitempty"`
	Version   string `json:"version"`
	ReleaseID string `json:"releaseId"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Health calls GET /health. The returned status code is zero when no
// response was received.
func (c *Client) Health(ctx context.Context) (HealthReport, int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Probe)
	defer cancel()

	var report HealthReport
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return report, 0, 0, fmt.Errorf("failed to create health request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return report, 0, latency, c.failure(http.MethodGet, req.URL.String(), 0, nil, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode == http.StatusOK {
		// A body that is not JSON still counts as healthy; only the status matters.
		_ = json.Unmarshal(body, &report)
	}
	return report, resp.StatusCode, latency, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, query url.Values, body, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if len(query) > 0 {
		rawURL = rawURL + "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request body: %w", c.name, err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.failure(method, rawURL, 0, nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return c.failure(method, rawURL, resp.StatusCode, respBody, nil)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	return nil
}

func (c *Client) failure(method, rawURL string, status int, body []byte, cause error) *Error {
	return &Error{
		Service:    c.name,
		Method:     method,
		URL:        rawURL,
		StatusCode: status,
		Body:       strings.TrimSpace(string(body)),
		Cause:      cause,
	}
}
