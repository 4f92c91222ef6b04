// Package api serves the saga triggers, the audit feed and the operational
// endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"temporal-fulfillment/audit"
	"temporal-fulfillment/health"
	"temporal-fulfillment/models"
	"temporal-fulfillment/orchestrator"
	"temporal-fulfillment/resource"
	"temporal-fulfillment/saga"
)

// ActivityFeedSize is how many records GET /api/activity returns
const ActivityFeedSize = 20

// Orders reads through to the CRUD services; the resource gateway implements it
type Orders interface {
	ListOrders(ctx context.Context, query url.Values) ([]models.Order, error)
	GetOrder(ctx context.Context, id models.ID) (models.Order, error)
	GetCustomer(ctx context.Context, id models.ID) (*models.Customer, error)
	GetProduct(ctx context.Context, id models.ID) (*models.Product, error)
	Aggregate(ctx context.Context, service, view string, out any, build func(context.Context) (any, error)) error
}

// Snapshotter exposes health records; the health monitor implements it
type Snapshotter interface {
	Snapshot() map[string]health.Record
}

// Options configures a Server
type Options struct {
	JWTSecret []byte
	RateLimit float64
	RateBurst int
	// TrustProxy takes the client address from X-Forwarded-For and X-Real-IP.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxy bool
	Version    string
	ReleaseID  string
	// Gatherer backs GET /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the HTTP API
type Server struct {
	trigger orchestrator.Trigger
	orders  Orders
	health  Snapshotter
	sink    *audit.Sink
	opts    Options
	limiter *rateLimiter
	logger  *slog.Logger
}

// New creates a Server
func New(trigger orchestrator.Trigger, orders Orders, monitor Snapshotter, sink *audit.Sink, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	return &Server{
		trigger: trigger,
		orders:  orders,
		health:  monitor,
		sink:    sink,
		opts:    opts,
		limiter: newRateLimiter(opts.RateLimit, opts.RateBurst),
		logger:  opts.Logger,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Use(authenticate(s.opts.JWTSecret))
		r.Use(limitBody)

		r.Get("/activity", s.handleActivity)
		r.Get("/logs", s.handleLogs)
		r.Get("/logs/stats", s.handleLogStats)
		r.Get("/health/snapshot", s.handleHealthSnapshot)
		r.Get("/admin_notifications", s.handleAdminNotifications)
		r.Get("/orders/{orderID}", s.handleOrder)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Put("/orders/{orderID}/status", s.handleStatusChange)
			r.Post("/orders/{orderID}/payment", s.handlePaymentDecision)
			r.Get("/logs/export", s.handleExport)
			r.Delete("/logs/clear", s.handleClear)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "pass",
		"service":   "fulfillment",
		"version":   s.opts.Version,
		"releaseId": s.opts.ReleaseID,
	})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("cannot read body: %w", err)
	}
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	return body, nil
}

func (s *Server) handleStatusChange(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err == nil {
		err = validateJSONSchema(statusChangeLoader, body)
	}
	if err != nil {
		writeError(w, saga.KindBadRequest, err.Error())
		return
	}

	var req struct {
		Status models.OrderStatus `json:"order_status"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, saga.KindBadRequest, err.Error())
		return
	}

	change := saga.StatusChange{
		OrderID: models.ID(chi.URLParam(r, "orderID")),
		Status:  req.Status,
		Actor:   claimsFrom(r.Context()).Subject,
	}
	result, err := s.trigger.ChangeStatus(r.Context(), change)
	s.respond(w, r, change.OrderID, result, err)
}

func (s *Server) handlePaymentDecision(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err == nil {
		err = validateJSONSchema(paymentDecisionLoader, body)
	}
	if err != nil {
		writeError(w, saga.KindBadRequest, err.Error())
		return
	}

	var decision saga.PaymentDecision
	if err := json.Unmarshal(body, &decision); err != nil {
		writeError(w, saga.KindBadRequest, err.Error())
		return
	}
	decision.OrderID = models.ID(chi.URLParam(r, "orderID"))
	decision.Actor = claimsFrom(r.Context()).Subject

	result, err := s.trigger.DecidePayment(r.Context(), decision)
	s.respond(w, r, decision.OrderID, result, err)
}

// respond writes a saga result; err means the saga could not be run at all
func (s *Server) respond(w http.ResponseWriter, r *http.Request, orderID models.ID, result saga.Result, err error) {
	if err != nil {
		s.logger.Error("saga trigger failed", "order_id", orderID, "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, saga.KindUnavailable, err.Error())
		return
	}
	if !result.Success {
		s.logger.Info("saga rejected", "order_id", orderID, "kind", result.Kind, "error", result.Error)
	}
	writeResult(w, result)
}

func (s *Server) handleActivity(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.sink.Recent(ActivityFeedSize))
}

// parseFilter reads the log filters shared by the query and export endpoints
func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		EventType:  audit.Action(q.Get("event_type")),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Actor:      q.Get("user_id"),
		Search:     q.Get("search"),
	}
	if actor := q.Get("actor"); actor != "" {
		f.Actor = actor
	}

	var err error
	if f.Start, err = parseTime(q.Get("start_date")); err != nil {
		return f, fmt.Errorf("invalid start_date: %w", err)
	}
	if f.End, err = parseTime(q.Get("end_date")); err != nil {
		return f, fmt.Errorf("invalid end_date: %w", err)
	}
	if f.Limit, err = parseInt(q.Get("limit"), audit.DefaultLimit); err != nil || f.Limit < 1 || f.Limit > audit.MaxLimit {
		return f, fmt.Errorf("limit must be between 1 and %d", audit.MaxLimit)
	}
	if f.Offset, err = parseInt(q.Get("offset"), 0); err != nil || f.Offset < 0 {
		return f, errors.New("offset must be a non-negative integer")
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO timestamp", s)
}

func parseInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, audit.ErrNoStore) {
		writeError(w, saga.KindUnavailable, err.Error())
		return
	}
	s.logger.Error("audit store failed", "op", op, "error", err)
	writeError(w, saga.KindInternal, fmt.Sprintf("failed to %s activity logs", op))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, saga.KindBadRequest, err.Error())
		return
	}
	page, err := s.sink.Query(r.Context(), f)
	if err != nil {
		s.storeError(w, "query", err)
		return
	}
	writeData(w, page)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := q.Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		writeError(w, saga.KindBadRequest, "format must be csv or json")
		return
	}
	f, err := parseFilter(q)
	if err != nil {
		writeError(w, saga.KindBadRequest, err.Error())
		return
	}

	records, err := s.sink.Export(r.Context(), f)
	if err != nil {
		s.storeError(w, "export", err)
		return
	}

	now := s.sink.Now()
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", audit.ExportFilename(format, now)))
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		err = audit.WriteJSON(w, records, now)
	} else {
		w.Header().Set("Content-Type", "text/csv")
		err = audit.WriteCSV(w, records)
	}
	if err != nil {
		s.logger.Error("failed to write export", "format", format, "error", err)
	}
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sink.Stats(r.Context())
	if err != nil {
		s.storeError(w, "summarize", err)
		return
	}
	writeData(w, stats)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.sink.Clear(r.Context())
	if err != nil {
		s.storeError(w, "clear", err)
		return
	}
	s.logger.Warn("activity logs cleared", "actor", claimsFrom(r.Context()).Subject, "deleted", deleted)
	writeJSON(w, http.StatusOK, Envelope{
		Success: true,
		Message: fmt.Sprintf("Cleared %d activity logs", deleted),
		Data:    map[string]int64{"deleted_count": deleted},
	})
}

func (s *Server) handleHealthSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.health.Snapshot())
}

// Notifications counts orders waiting on an admin
type Notifications struct {
	PendingPaymentApprovals int `json:"pending_payment_approvals"`
	ReadyToShip             int `json:"ready_to_ship"`
	InTransit               int `json:"in_transit"`
	TotalActionItems        int `json:"total_action_items"`
}

// CountNotifications classifies orders by the admin action they wait on
func CountNotifications(orders []models.Order) Notifications {
	var n Notifications
	for _, o := range orders {
		switch {
		case o.PaymentStatus == models.PaymentStatusPending:
			n.PendingPaymentApprovals++
		case o.PaymentStatus == models.PaymentStatusCompleted && o.OrderStatus == models.OrderStatusProcessing:
			n.ReadyToShip++
		case o.PaymentStatus == models.PaymentStatusCompleted && o.OrderStatus == models.OrderStatusShipped:
			n.InTransit++
		}
	}
	n.TotalActionItems = n.PendingPaymentApprovals + n.ReadyToShip + n.InTransit
	return n
}

func (s *Server) handleAdminNotifications(w http.ResponseWriter, r *http.Request) {
	if !claimsFrom(r.Context()).Admin() {
		writeData(w, Notifications{})
		return
	}
	var counts Notifications
	err := s.orders.Aggregate(r.Context(), resource.Orders, "notifications", &counts, func(ctx context.Context) (any, error) {
		orders, err := s.orders.ListOrders(ctx, nil)
		if err != nil {
			return nil, err
		}
		return CountNotifications(orders), nil
	})
	if err != nil {
		// Counts are advisory; an unreachable orders service shows none.
		s.logger.Warn("failed to list orders for notifications", "error", err)
		writeData(w, Notifications{})
		return
	}
	writeData(w, counts)
}

// ItemView is an order item with the state of its product snapshot
type ItemView struct {
	models.OrderItem
	LineTotal      decimal.Decimal       `json:"line_total"`
	SnapshotStatus models.SnapshotStatus `json:"snapshot_status"`
}

// OrderView is an order with its snapshots compared against the live records
type OrderView struct {
	models.Order
	Items                  []ItemView            `json:"items"`
	CustomerSnapshotStatus models.SnapshotStatus `json:"customer_snapshot_status"`
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := s.orders.GetOrder(ctx, models.ID(chi.URLParam(r, "orderID")))
	if err != nil {
		writeError(w, resourceKind(err), err.Error())
		return
	}

	customer, err := s.orders.GetCustomer(ctx, order.CustomerID)
	if err != nil {
		writeError(w, resourceKind(err), err.Error())
		return
	}
	view := OrderView{
		Order:                  order,
		Items:                  make([]ItemView, 0, len(order.Items)),
		CustomerSnapshotStatus: models.CompareCustomerSnapshot(order, customer),
	}
	for _, item := range order.Items {
		product, err := s.orders.GetProduct(ctx, item.ProductID)
		if err != nil {
			writeError(w, resourceKind(err), err.Error())
			return
		}
		view.Items = append(view.Items, ItemView{OrderItem: item, LineTotal: item.LineTotal(), SnapshotStatus: models.CompareItemSnapshot(item, product)})
	}
	writeData(w, view)
}

func resourceKind(err error) saga.Kind {
	switch {
	case errors.Is(err, resource.ErrNotFound):
		return saga.KindNotFound
	case errors.Is(err, resource.ErrUnavailable):
		return saga.KindUnavailable
	case errors.Is(err, resource.ErrRejected):
		return saga.KindRejected
	}
	return saga.KindInternal
}
