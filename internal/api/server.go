// Package api serves committed aggregates, trends and run markers over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/baebong3/fruitbasket-legal/internal/cache"
	"github.com/baebong3/fruitbasket-legal/internal/metrics"
	"github.com/baebong3/fruitbasket-legal/internal/model"
	"github.com/baebong3/fruitbasket-legal/internal/store"
)

// Server is the read-only HTTP shell over the store. Cache and Metrics are optional.
type Server struct {
	Store   store.Store
	Cache   cache.Cache
	Metrics *metrics.Registry
	Timeout time.Duration
}

func NewServer(st store.Store, c cache.Cache, reg *metrics.Registry) *Server {
	return &Server{Store: st, Cache: c, Metrics: reg, Timeout: 15 * time.Second}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.Timeout > 0 {
		r.Use(middleware.Timeout(s.Timeout))
	}

	r.Get("/health", s.health)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/items/{item}/aggregates", s.aggregates)
		r.Get("/items/{item}/trends", s.trends)
		r.Get("/runs", s.runs)
		r.Get("/runs/{interval}", s.run)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// query is the parsed (item, date[, market]) selector shared by the item endpoints.
type query struct {
	Item   string
	Date   time.Time
	Market string
	HasMkt bool
}

func parseQuery(r *http.Request) (query, string) {
	q := query{Item: chi.URLParam(r, "item")}
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return q, "date query parameter is required (YYYY-MM-DD)"
	}
	d, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return q, "date must be YYYY-MM-DD"
	}
	q.Date = d
	if vals, ok := r.URL.Query()["market"]; ok {
		q.Market, q.HasMkt = vals[0], true
	}
	return q, ""
}

func (q query) cacheKey(kind string) string {
	k := kind + ":" + q.Item + ":" + q.Date.Format(model.DateLayout)
	if q.HasMkt {
		k += ":m=" + q.Market
	}
	return k
}

type aggregatesResponse struct {
	ItemCode   string            `json:"item_code"`
	Date       string            `json:"date"`
	Aggregates []model.Aggregate `json:"aggregates"`
}

type trendsResponse struct {
	ItemCode string              `json:"item_code"`
	Date     string              `json:"date"`
	Trends   []model.TrendResult `json:"trends"`
}

func (s *Server) aggregates(w http.ResponseWriter, r *http.Request) {
	q, msg := parseQuery(r)
	if msg != "" {
		badRequest(w, r, msg)
		return
	}
	s.cached(w, r, q.cacheKey("agg"), func() (any, bool, error) {
		all, err := s.Store.ListAggregates(r.Context(), store.Filter{ItemCode: q.Item, From: q.Date, To: q.Date})
		if err != nil {
			return nil, false, err
		}
		out := make([]model.Aggregate, 0, len(all))
		for _, a := range all {
			if !q.HasMkt || a.MarketCode == q.Market {
				out = append(out, a)
			}
		}
		return aggregatesResponse{ItemCode: q.Item, Date: q.Date.Format(model.DateLayout), Aggregates: out}, len(out) > 0, nil
	})
}

func (s *Server) trends(w http.ResponseWriter, r *http.Request) {
	q, msg := parseQuery(r)
	if msg != "" {
		badRequest(w, r, msg)
		return
	}
	s.cached(w, r, q.cacheKey("trend"), func() (any, bool, error) {
		all, err := s.Store.ListTrends(r.Context(), store.Filter{ItemCode: q.Item, From: q.Date, To: q.Date})
		if err != nil {
			return nil, false, err
		}
		out := make([]model.TrendResult, 0, len(all))
		for _, t := range all {
			if !q.HasMkt || t.MarketCode == q.Market {
				out = append(out, t)
			}
		}
		return trendsResponse{ItemCode: q.Item, Date: q.Date.Format(model.DateLayout), Trends: out}, len(out) > 0, nil
	})
}

// cached serves key from the cache or computes, encodes and stores it.
// Empty results are answered with 404 and not cached.
func (s *Server) cached(w http.ResponseWriter, r *http.Request, key string, load func() (any, bool, error)) {
	if s.Cache != nil {
		body, ok, err := s.Cache.Get(r.Context(), key)
		if err != nil {
			zap.L().Warn("api: cache get", zap.String("key", key), zap.Error(err))
		}
		if s.Metrics != nil {
			s.Metrics.CacheLookup(ok)
		}
		if ok {
			writeJSON(w, body)
			return
		}
	}

	v, found, err := load()
	if err != nil {
		zap.L().Error("api: store query", zap.String("key", key), zap.Error(err))
		internalError(w, r)
		return
	}
	if !found {
		notFound(w, r, "no committed results for this selection")
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		internalError(w, r)
		return
	}
	if s.Cache != nil {
		if err := s.Cache.Set(r.Context(), key, body); err != nil {
			zap.L().Warn("api: cache set", zap.String("key", key), zap.Error(err))
		}
	}
	writeJSON(w, body)
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	interval := chi.URLParam(r, "interval")
	if _, err := time.Parse(model.DateLayout, interval); err != nil {
		badRequest(w, r, "interval must be YYYY-MM-DD")
		return
	}
	mk, err := s.Store.GetRunMarker(r.Context(), interval)
	if err != nil {
		zap.L().Error("api: get run marker", zap.String("interval", interval), zap.Error(err))
		internalError(w, r)
		return
	}
	if mk == nil {
		notFound(w, r, "no run recorded for "+interval)
		return
	}
	render.JSON(w, r, mk)
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	ms, err := s.Store.ListRunMarkers(r.Context(), 30)
	if err != nil {
		zap.L().Error("api: list run markers", zap.Error(err))
		internalError(w, r)
		return
	}
	if ms == nil {
		ms = []model.RunMarker{}
	}
	render.JSON(w, r, ms)
}
