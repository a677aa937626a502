package api

import (
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/semihalev/zlog/v2"
)

// Router dispatches requests by method and path. A path registered only
// under other methods answers 405 with an Allow header.
type Router struct {
	trees map[string]*Tree

	ctxPool sync.Pool
}

var extraHeaders = map[string]string{
	"Server":        "simpledns",
	"Cache-Control": "no-cache, no-store, no-transform, must-revalidate, private, max-age=0",
	"Pragma":        "no-cache",
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	rt := &Router{trees: make(map[string]*Tree)}

	rt.ctxPool.New = func() any {
		params := make(Params, 0, 8)
		return &Context{Params: &params}
	}

	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if v := recover(); v != nil {
			zlog.Error("Recovered in API", "path", r.URL.Path, "recover", v, "stack", string(debug.Stack()))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}()

	for k, v := range extraHeaders {
		w.Header().Set(k, v)
	}

	ctx := rt.getContext(w, r)
	defer rt.ctxPool.Put(ctx)

	if tree, ok := rt.trees[r.Method]; ok {
		tree.Lookup(ctx)
	}

	if ctx.Handler != nil {
		ctx.Handler(ctx)
		return
	}

	if allow := rt.allowed(r); len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	http.NotFound(w, r)
}

// Handle registers handle for method and path.
func (rt *Router) Handle(method, path string, handle Handler) {
	tree, ok := rt.trees[method]
	if !ok {
		tree = &Tree{}
		rt.trees[method] = tree
	}

	tree.Add(path, handle)
}

func (rt *Router) GET(path string, handle Handler) {
	rt.Handle(http.MethodGet, path, handle)
}

func (rt *Router) POST(path string, handle Handler) {
	rt.Handle(http.MethodPost, path, handle)
}

func (rt *Router) DELETE(path string, handle Handler) {
	rt.Handle(http.MethodDelete, path, handle)
}

func (rt *Router) Group(prefix string) *Group {
	return &Group{parent: rt, path: prefix}
}

// allowed lists the methods with a route for the request path.
func (rt *Router) allowed(r *http.Request) (methods []string) {
	params := make(Params, 0, 8)
	scratch := &Context{Request: r, Params: &params}

	for method, tree := range rt.trees {
		if method == r.Method {
			continue
		}

		scratch.Handler = nil
		params = params[:0]

		tree.Lookup(scratch)
		if scratch.Handler != nil {
			methods = append(methods, method)
		}
	}

	slices.Sort(methods)

	return methods
}

func (rt *Router) getContext(w http.ResponseWriter, r *http.Request) *Context {
	ctx := rt.ctxPool.Get().(*Context)

	ctx.Request = r
	ctx.Writer = w
	ctx.Handler = nil
	*ctx.Params = (*ctx.Params)[:0]

	return ctx
}
