// Package gateway ties the registry, graph serializer, resolver, executor and
// store together behind the three public operations: query, save and
// metadata.
package gateway

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/bundle"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/graph"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/metadata"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/persist"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/relationships"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/transaction"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/web/cache"
)

// Service is the persistence gateway
type Service struct {
	registry *schema.Registry
	store    store.Store
	resolver *bundle.Resolver
	executor *persist.Executor
	loader   *relationships.Loader
	logger   *zap.Logger

	cache    cache.Cache
	cacheTTL time.Duration
	// saves counts committed saves; a query only caches a page read
	// while it stayed unchanged
	saves atomic.Uint64

	metadata *metadata.Document
	etag     string
}

// Options configures a Service
type Options struct {
	Transaction transaction.Config
	// Cache stores encoded query responses; nil disables caching
	Cache    cache.Cache
	CacheTTL time.Duration
	Executor []persist.Option
	Logger   *zap.Logger
}

// New creates a gateway over a sealed registry
func New(reg *schema.Registry, st store.Store, opts Options) (*Service, error) {
	if !reg.Sealed() {
		return nil, ormerrors.New(ormerrors.SchemaInconsistency, "registry must be sealed")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	doc := metadata.Describe(reg)
	etag, err := doc.ETag()
	if err != nil {
		return nil, err
	}

	tm := transaction.NewManager[store.Tx](st, opts.Transaction)
	return &Service{
		registry: reg,
		store:    st,
		resolver: bundle.NewResolver(reg),
		executor: persist.NewExecutor(tm, logger.Named("persist"), opts.Executor...),
		loader:   relationships.NewLoader(st, reg),
		logger:   logger,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		metadata: doc,
		etag:     etag,
	}, nil
}

// Registry returns the schema registry
func (s *Service) Registry() *schema.Registry {
	return s.registry
}

// QueryRequest selects, orders, pages and expands instances of one type
type QueryRequest struct {
	Type   string
	Query  store.Query
	Expand []string
}

// cacheKey canonicalises the request so equivalent queries share an entry
func (r QueryRequest) cacheKey() string {
	params := url.Values{}
	for _, p := range r.Query.Where {
		for _, v := range p.Values {
			params.Add("where."+p.Property, schema.KeyString([]any{v}))
		}
	}
	var order []string
	for _, o := range r.Query.OrderBy {
		if o.Descending {
			order = append(order, "-"+o.Property)
		} else {
			order = append(order, o.Property)
		}
	}
	params.Set("orderby", strings.Join(order, ","))
	params.Set("limit", strconv.Itoa(r.Query.Limit))
	params.Set("offset", strconv.Itoa(r.Query.Offset))
	params["expand"] = r.Expand
	return cache.QueryKey(r.Type, params)
}

// QueryInstances runs a query and loads the requested navigations
func (s *Service) QueryInstances(ctx context.Context, req QueryRequest) ([]*entity.Instance, error) {
	et, err := s.registry.Lookup(req.Type)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.Query(ctx, et, req.Query)
	if err != nil {
		return nil, err
	}

	ids := relationships.NewIdentityMap()
	roots := make([]*entity.Instance, len(rows))
	for i, row := range rows {
		roots[i] = ids.Materialize(et, row)
	}
	if err := s.loader.EagerLoad(ctx, roots, et, req.Expand, ids); err != nil {
		return nil, err
	}
	return roots, nil
}

// Query returns the encoded node array for a query, serving repeated
// queries from the cache until the next save
func (s *Service) Query(ctx context.Context, req QueryRequest) ([]byte, error) {
	et, err := s.registry.Lookup(req.Type)
	if err != nil {
		return nil, err
	}
	if req.Query, err = req.Query.Normalize(et); err != nil {
		return nil, err
	}

	var key string
	gen := s.saves.Load()
	if s.cache != nil {
		key = req.cacheKey()
		if body, err := s.cache.Get(ctx, key); err == nil {
			s.logger.Debug("query cache hit", zap.String("type", req.Type))
			return body, nil
		} else if !cache.IsCacheMiss(err) {
			s.logger.Warn("query cache read failed", zap.Error(err))
		}
	}

	roots, err := s.QueryInstances(ctx, req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(graph.Encode(roots))
	if err != nil {
		return nil, ormerrors.Wrap(ormerrors.StoreUnavailable, err, "encode query result")
	}

	if s.cache != nil && s.saves.Load() == gen {
		if err := s.cache.Set(ctx, key, body, s.cacheTTL); err != nil {
			s.logger.Warn("query cache write failed", zap.Error(err))
		}
		// A save that committed between the check and the write may
		// already have cleared the cache.
		if s.saves.Load() != gen {
			if err := s.cache.Delete(ctx, key); err != nil {
				s.logger.Warn("query cache delete failed", zap.Error(err))
			}
		}
	}
	return body, nil
}

// SaveResponse is the wire form of a successful save
type SaveResponse struct {
	KeyMappings []entity.KeyMapping `json:"keyMappings"`
	Entities    []*graph.Node       `json:"entities"`
}

// SaveInstances applies a change set built from decoded roots
func (s *Service) SaveInstances(ctx context.Context, roots []*entity.Instance) (*entity.SaveResult, error) {
	ops, err := s.resolver.Resolve(entity.NewChangeSet(roots...))
	if err != nil {
		return persist.Failure(err), err
	}
	if len(ops) == 0 {
		return &entity.SaveResult{}, nil
	}

	res, err := s.executor.Execute(ctx, ops)
	if err != nil {
		return res, err
	}

	s.saves.Add(1)
	if s.cache != nil {
		if err := s.cache.Clear(ctx); err != nil {
			s.logger.Error("query cache clear failed", zap.Error(err))
		}
	}
	return res, nil
}

// Save decodes a node array, applies it atomically and encodes the result
func (s *Service) Save(ctx context.Context, nodes []*graph.Node) (*SaveResponse, error) {
	roots, err := graph.NewDecoder(s.registry).Decode(nodes)
	if err != nil {
		return nil, err
	}

	res, err := s.SaveInstances(ctx, roots)
	if err != nil {
		return nil, err
	}

	mappings := res.KeyMappings
	if mappings == nil {
		mappings = []entity.KeyMapping{}
	}
	return &SaveResponse{KeyMappings: mappings, Entities: graph.Encode(res.Entities)}, nil
}

// Metadata returns the registry description and its entity tag
func (s *Service) Metadata() (*metadata.Document, string) {
	return s.metadata, s.etag
}

// Close releases the store and cache
func (s *Service) Close() error {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("cache close failed", zap.Error(err))
		}
	}
	return s.store.Close()
}
