// Package api serves the HTTP management interface: Prometheus metrics,
// cache inspection and flushing, and configuration reloads.
package api

import (
	"context"
	"net/http"
	"net/http/pprof"
	"os"
	"strings"
	"time"

	"github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/records"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/zlog/v2"
)

// API type
type API struct {
	addr   string
	router *Router

	cache  *cache.Cache
	store  *records.Store
	reload func() error
}

var debugpprof bool

func init() {
	_, debugpprof = os.LookupEnv("SIMPLEDNS_PPROF")
}

// New return new api. reload is called by the reload endpoint and may be
// nil.
func New(cfg *config.Config, c *cache.Cache, store *records.Store, reload func() error) *API {
	a := &API{
		addr:   cfg.API,
		router: NewRouter(),
		cache:  c,
		store:  store,
		reload: reload,
	}

	a.routes()

	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) routes() {
	if debugpprof {
		profiler := a.router.Group("/debug")
		{
			profiler.GET("/pprof/", func(ctx *Context) { pprof.Index(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/*", func(ctx *Context) { pprof.Index(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/cmdline", func(ctx *Context) { pprof.Cmdline(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/profile", func(ctx *Context) { pprof.Profile(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/symbol", func(ctx *Context) { pprof.Symbol(ctx.Writer, ctx.Request) })
			profiler.GET("/pprof/trace", func(ctx *Context) { pprof.Trace(ctx.Writer, ctx.Request) })
		}
	}

	v1 := a.router.Group("/api/v1")
	{
		v1.GET("/cache", a.listCache)
		v1.DELETE("/cache", a.flushCache)
		v1.DELETE("/cache/:name/:type", a.purgeCache)
		v1.GET("/records", a.listRecords)
		v1.POST("/reload", a.reloadConfig)
	}

	a.router.GET("/metrics", a.metrics)
}

func (a *API) metrics(ctx *Context) {
	promhttp.Handler().ServeHTTP(ctx.Writer, ctx.Request)
}

type cacheEntry struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Rcode     string   `json:"rcode"`
	TTL       int      `json:"ttl"`
	Answer    []string `json:"answer,omitempty"`
	Authority []string `json:"authority,omitempty"`
}

func (a *API) listCache(ctx *Context) {
	now := time.Now()
	entries := a.cache.Entries()

	out := make([]cacheEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cacheEntry{
			Name:      e.Key.Name,
			Type:      e.Key.Type.String(),
			Rcode:     e.Rcode.String(),
			TTL:       int(e.TTL(now) / time.Second),
			Answer:    rrStrings(e.Answer),
			Authority: rrStrings(e.Authority),
		})
	}

	ctx.JSON(http.StatusOK, Json{"count": len(out), "entries": out})
}

func (a *API) flushCache(ctx *Context) {
	n := a.cache.Len()
	a.cache.Flush()

	zlog.Info("Cache flushed", "entries", n)

	ctx.JSON(http.StatusOK, Json{"success": true, "removed": n})
}

func (a *API) purgeCache(ctx *Context) {
	name := wire.Fqdn(ctx.Param("name"))
	qtype := strings.ToUpper(ctx.Param("type"))

	if qtype == "ALL" || qtype == "ANY" {
		ctx.JSON(http.StatusOK, Json{"success": true, "removed": a.cache.RemoveName(name)})
		return
	}

	t, ok := wire.ParseType(qtype)
	if !ok {
		ctx.JSON(http.StatusBadRequest, Json{"error": "unknown type " + ctx.Param("type")})
		return
	}

	removed := 0
	if a.cache.Remove(cache.KeyFor(name, t, wire.ClassINET)) {
		removed = 1
	}

	ctx.JSON(http.StatusOK, Json{"success": removed > 0, "removed": removed})
}

func (a *API) listRecords(ctx *Context) {
	rules := a.store.Rules()

	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.String())
	}

	ctx.JSON(http.StatusOK, Json{"count": len(out), "rules": out})
}

func (a *API) reloadConfig(ctx *Context) {
	if a.reload == nil {
		ctx.JSON(http.StatusNotImplemented, Json{"error": "reload not available"})
		return
	}

	if err := a.reload(); err != nil {
		zlog.Error("Reload failed", "error", err.Error())
		ctx.JSON(http.StatusInternalServerError, Json{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, Json{"success": true, "rules": len(a.store.Rules())})
}

func rrStrings(rrs []wire.RR) []string {
	if len(rrs) == 0 {
		return nil
	}

	out := make([]string, len(rrs))
	for i, rr := range rrs {
		out[i] = rr.String()
	}
	return out
}

// Run API server
func (a *API) Run(ctx context.Context) {
	if a.addr == "" {
		return
	}

	srv := &http.Server{
		Addr:              a.addr,
		Handler:           a,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("Start API server failed", "error", err.Error())
		}
	}()

	zlog.Info("API server listening...", "addr", a.addr)

	go func() {
		<-ctx.Done()

		zlog.Info("API server stopping...", "addr", a.addr)

		apiCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(apiCtx); err != nil {
			zlog.Error("Shutdown API server failed", "error", err.Error())
		}
	}()
}
