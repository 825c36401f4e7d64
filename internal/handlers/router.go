package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/orders/internal/platform/httpx"
)

// RouteRegistrar mounts one group's routes on the sub-router chi hands it.
type RouteRegistrar func(r chi.Router)

// Group is the first path segment of a route family, e.g. /orders.
type Group string

const (
	GroupOrders    Group = "orders"
	GroupCheckout  Group = "checkout"
	GroupAffiliate Group = "affiliate"
	GroupPayments  Group = "payments"
	GroupAdmin     Group = "admin"
	GroupInternal  Group = "internal"
)

var groups = []Group{GroupOrders, GroupCheckout, GroupAffiliate, GroupPayments, GroupAdmin, GroupInternal}

type middlewares []func(http.Handler) http.Handler

func (m middlewares) applyTo(r chi.Router) {
	for _, mw := range m {
		if mw != nil {
			r.Use(mw)
		}
	}
}

type routerConfig struct {
	global middlewares
	health *HealthHandlers
	routes map[Group]RouteRegistrar
	scoped map[Group]middlewares
}

type Option func(*routerConfig)

const (
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter builds the HTTP surface: probes at the root plus one sub-router per Group. A group
// nobody registered keeps its prefix reserved and answers 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: middlewares{middleware.RequestID, middleware.RealIP, middleware.Timeout(defaultTimeout)},
		routes: make(map[Group]RouteRegistrar),
		scoped: make(map[Group]middlewares),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	health := cfg.health
	if health == nil {
		health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	cfg.global.applyTo(r)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, errorNotFoundCode, http.StatusNotFound, "no route for %s", req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "method_not_allowed", http.StatusMethodNotAllowed, "%s is not supported on %s", req.Method, req.URL.Path)
	})
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	for _, g := range groups {
		r.Route("/"+string(g), func(sub chi.Router) {
			cfg.scoped[g].applyTo(sub)
			if register := cfg.routes[g]; register != nil {
				register(sub)
				return
			}
			reserve(sub, g)
		})
	}
	return r
}

// WithMiddlewares runs mw on every request after the request ID, real IP and timeout middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func WithRoutes(group Group, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.routes[group] = reg }
}

// WithGroupMiddlewares scopes mw to the listed groups, in the order given.
func WithGroupMiddlewares(targets []Group, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		for _, g := range targets {
			cfg.scoped[g] = append(cfg.scoped[g], mw...)
		}
	}
}

func reserve(r chi.Router, g Group) {
	h := func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "not_implemented", http.StatusNotImplemented, "/%s is not served by this deployment", g)
	}
	r.HandleFunc("/", h)
	r.HandleFunc("/*", h)
}

func writeRouteError(w http.ResponseWriter, req *http.Request, code string, status int, format string, args ...any) {
	httpx.WriteError(req.Context(), w, httpx.NewError(code, fmt.Sprintf(format, args...), status))
}
