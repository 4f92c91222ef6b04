// Package crudtest runs an in-memory stand-in for the CRUD services in tests.
// One server hosts every resource collection at /{resource}/ plus /health.
package crudtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Object is a stored entity
type Object = map[string]any

// Server is a fake CRUD service backed by maps
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	store       map[string]map[string]Object
	nextID      map[string]int
	failures    map[string]int
	calls       map[string]int
	healthCode  int
	ignoreQuery bool
}

// Option configures a Server
type Option func(*Server)

// IgnoreQuery makes list endpoints return every entity regardless of query parameters
func IgnoreQuery() Option {
	return func(s *Server) { s.ignoreQuery = true }
}

// New starts a Server that is closed when the test ends
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		store:      make(map[string]map[string]Object),
		nextID:     make(map[string]int),
		failures:   make(map[string]int),
		calls:      make(map[string]int),
		healthCode: http.StatusOK,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/health", s.health)
	r.Get("/{resource}/", s.list)
	r.Post("/{resource}/", s.create)
	r.Get("/{resource}/{id}", s.get)
	r.Put("/{resource}/{id}", s.update)
	r.Delete("/{resource}/{id}", s.remove)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Seed stores obj under resource and returns its id. An "id" field in obj is
// kept; otherwise the next integer id is assigned.
func (s *Server) Seed(resource string, obj Object) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(resource, clone(obj))
}

// Object returns a copy of the stored entity, or nil
func (s *Server) Object(resource, id string) Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.store[resource][id]
	if !ok {
		return nil
	}
	return clone(obj)
}

// All returns copies of every stored entity of resource ordered by id
func (s *Server) All(resource string) []Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(resource)
}

// Fail makes every method call on resource answer status until Recover. A
// status of zero drops the connection instead.
func (s *Server) Fail(method, resource string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+resource] = status
}

// Recover clears all injected failures
func (s *Server) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]int)
}

// SetHealth sets the status code of GET /health
func (s *Server) SetHealth(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCode = code
}

// Calls returns how many method requests reached resource
func (s *Server) Calls(method, resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+resource]
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	code := s.healthCode
	s.calls["GET health"]++
	s.mu.Unlock()

	writeJSON(w, code, Object{"status": "pass", "service": "crudtest", "version": "1.0.0", "releaseId": "test"})
}

// intercept counts the call and applies an injected failure. It reports
// whether the request was answered.
func (s *Server) intercept(w http.ResponseWriter, r *http.Request, resource string) bool {
	key := r.Method + " " + resource
	s.calls[key]++
	status, failing := s.failures[key]
	if !failing {
		return false
	}
	if status == 0 {
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return true
			}
		}
		status = http.StatusBadGateway
	}
	writeJSON(w, status, Object{"detail": "injected failure"})
	return true
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intercept(w, r, resource) {
		return
	}

	out := make([]Object, 0)
	for _, obj := range s.sorted(resource) {
		if s.ignoreQuery || matches(obj, r) {
			out = append(out, obj)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	resource, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intercept(w, r, resource) {
		return
	}

	obj, ok := s.store[resource][id]
	if !ok {
		writeJSON(w, http.StatusNotFound, Object{"detail": fmt.Sprintf("%s %s not found", resource, id)})
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intercept(w, r, resource) {
		return
	}

	var obj Object
	if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, Object{"detail": err.Error()})
		return
	}
	delete(obj, "id")
	id := s.insert(resource, obj)
	writeJSON(w, http.StatusCreated, s.store[resource][id])
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	resource, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intercept(w, r, resource) {
		return
	}

	obj, ok := s.store[resource][id]
	if !ok {
		writeJSON(w, http.StatusNotFound, Object{"detail": fmt.Sprintf("%s %s not found", resource, id)})
		return
	}
	var patch Object
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, Object{"detail": err.Error()})
		return
	}
	for k, v := range patch {
		if k != "id" {
			obj[k] = v
		}
	}
	writeJSON(w, http.StatusOK, obj)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	resource, id := chi.URLParam(r, "resource"), chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intercept(w, r, resource) {
		return
	}

	if _, ok := s.store[resource][id]; !ok {
		writeJSON(w, http.StatusNotFound, Object{"detail": fmt.Sprintf("%s %s not found", resource, id)})
		return
	}
	delete(s.store[resource], id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) insert(resource string, obj Object) string {
	if s.store[resource] == nil {
		s.store[resource] = make(map[string]Object)
	}
	var id string
	if v, ok := obj["id"]; ok {
		id = fmt.Sprint(v)
		if n, err := strconv.Atoi(id); err == nil && n > s.nextID[resource] {
			s.nextID[resource] = n
		}
	} else {
		s.nextID[resource]++
		obj["id"] = s.nextID[resource]
		id = strconv.Itoa(s.nextID[resource])
	}
	s.store[resource][id] = obj
	return id
}

func (s *Server) sorted(resource string) []Object {
	ids := make([]string, 0, len(s.store[resource]))
	for id := range s.store[resource] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	out := make([]Object, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(s.store[resource][id]))
	}
	return out
}

func matches(obj Object, r *http.Request) bool {
	for key, values := range r.URL.Query() {
		if key == "limit" || key == "offset" {
			continue
		}
		if len(values) > 0 && fmt.Sprint(obj[key]) != values[0] {
			return false
		}
	}
	return true
}

func clone(obj Object) Object {
	b, _ := json.Marshal(obj)
	var out Object
	_ = json.Unmarshal(b, &out)
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
