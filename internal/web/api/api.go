// Package api exposes the gateway over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/gateway"
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/graph"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/metadata"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/web/middleware"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/web/query"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/web/response"
)

// MaxSaveBody bounds the size of a save request
const MaxSaveBody = 16 << 20

// Gateway is the part of the gateway service the API serves
type Gateway interface {
	Query(ctx context.Context, req gateway.QueryRequest) ([]byte, error)
	Save(ctx context.Context, nodes []*graph.Node) (*gateway.SaveResponse, error)
	Metadata() (*metadata.Document, string)
}

// Config configures the router
type Config struct {
	// Prefix mounts the endpoints, e.g. "/api"
	Prefix string
	Logger *zap.Logger
	// RequestID generates request ids; nil uses UUIDs
	RequestID func() string
	// AllowedOrigins enables CORS for browser clients; empty disables it
	AllowedOrigins []string
}

// SaveRequest is the body of POST /save
type SaveRequest struct {
	Entities []*graph.Node `json:"entities"`
}

type handler struct {
	gw     Gateway
	logger *zap.Logger
}

// NewRouter builds the HTTP handler for gw
func NewRouter(gw Gateway, cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{gw: gw, logger: logger}

	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "If-None-Match", middleware.RequestIDHeader},
			ExposedHeaders: []string{"ETag", "Retry-After", middleware.RequestIDHeader},
		}).Handler)
	}
	r.Use(middleware.NewChain(
		middleware.RequestID(cfg.RequestID),
		middleware.Logging(logger.Named("http"), "/healthz"),
		middleware.Recovery(logger),
	).Handlers()...)
	r.Use(chimw.CleanPath)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.RenderError(w, ormerrors.New(ormerrors.UnknownType, "no route for %s", r.URL.Path))
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	routes := func(r chi.Router) {
		r.Get("/metadata", h.metadata)
		r.Post("/save", h.save)
		r.Get("/{type}", h.query)
	}
	if prefix := strings.Trim(cfg.Prefix, "/"); prefix != "" {
		r.Route("/"+prefix, routes)
	} else {
		routes(r)
	}
	return r
}

func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	q, expand, err := query.Parse(r.URL.Query())
	if err != nil {
		response.RenderBadRequest(w, err)
		return
	}

	body, err := h.gw.Query(r.Context(), gateway.QueryRequest{
		Type:   chi.URLParam(r, "type"),
		Query:  q,
		Expand: expand,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Raw(w, http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *handler) save(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxSaveBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		response.RenderBadRequest(w, err)
		return
	}

	res, err := h.gw.Save(r.Context(), req.Entities)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *handler) metadata(w http.ResponseWriter, r *http.Request) {
	doc, etag := h.gw.Metadata()
	w.Header().Set("ETag", etag)
	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	var (
		body        []byte
		err         error
		contentType string
	)
	switch r.URL.Query().Get("format") {
	case "", "json":
		body, err = doc.JSON()
		contentType = "application/json; charset=utf-8"
	case "yaml":
		body, err = doc.YAML()
		contentType = "application/yaml; charset=utf-8"
	default:
		response.RenderError(w, ormerrors.New(ormerrors.ValidationFailed, "unsupported metadata format %q", r.URL.Query().Get("format")))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Raw(w, http.StatusOK, contentType, body)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	fields := []zap.Field{
		zap.Error(err),
		zap.String("kind", string(ormerrors.KindOf(err))),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	}
	if ormerrors.IsRetryable(err) || ormerrors.KindOf(err) == "" {
		h.logger.Error("request failed", fields...)
	} else {
		h.logger.Debug("request rejected", fields...)
	}
	response.RenderError(w, err)
}

// matchesETag checks an If-None-Match header, which may list several tags
func matchesETag(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
