package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmeaster30/simpledns/cache"
	"github.com/jmeaster30/simpledns/config"
	"github.com/jmeaster30/simpledns/mock"
	"github.com/jmeaster30/simpledns/records"
	"github.com/jmeaster30/simpledns/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, reload func() error) (*API, *cache.Cache, *records.Store) {
	t.Helper()

	c := cache.New(64)
	c.Put(cache.KeyFor("www.example.com.", wire.TypeA, wire.ClassINET),
		[]wire.RR{mock.RR("www.example.com. 300 IN A 93.184.216.34")}, nil, wire.RcodeSuccess)
	c.Put(cache.KeyFor("www.example.com.", wire.TypeAAAA, wire.ClassINET),
		[]wire.RR{mock.RR("www.example.com. 300 IN AAAA 2001:db8::1")}, nil, wire.RcodeSuccess)
	c.Put(cache.KeyFor("mail.example.com.", wire.TypeA, wire.ClassINET),
		[]wire.RR{mock.RR("mail.example.com. 300 IN A 93.184.216.35")}, nil, wire.RcodeSuccess)

	store := records.NewStore()
	require.NoError(t, store.Reload([]records.Rule{
		records.Exact{Record: mock.RR("nas.home. 300 IN A 192.168.1.10")},
	}))

	return New(&config.Config{}, c, store, reload), c, store
}

func do(t *testing.T, a *API, method, url string) (*httptest.ResponseRecorder, Json) {
	t.Helper()

	req := httptest.NewRequest(method, url, nil)
	w := httptest.NewRecorder()
	a.ServeHTTP(w, req)

	var body Json
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}

	return w, body
}

func Test_Run(t *testing.T) {
	a, _, _ := newTestAPI(t, nil)

	// no address configured
	a.Run(context.Background())
}

func Test_ListCache(t *testing.T) {
	a, _, _ := newTestAPI(t, nil)

	w, body := do(t, a, http.MethodGet, "/api/v1/cache")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "simpledns", w.Header().Get("Server"))
	assert.EqualValues(t, 3, body["count"])

	entries := body["entries"].([]any)
	first := entries[0].(map[string]any)
	assert.Equal(t, "mail.example.com.", first["name"])
	assert.Equal(t, "A", first["type"])
	assert.Equal(t, "NOERROR", first["rcode"])
}

func Test_PurgeCache(t *testing.T) {
	a, c, _ := newTestAPI(t, nil)

	w, body := do(t, a, http.MethodDelete, "/api/v1/cache/www.example.com/a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 2, c.Len())

	w, body = do(t, a, http.MethodDelete, "/api/v1/cache/www.example.com/A")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])

	w, body = do(t, a, http.MethodDelete, "/api/v1/cache/www.example.com/all")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["removed"])
	assert.Equal(t, 1, c.Len())

	w, _ = do(t, a, http.MethodDelete, "/api/v1/cache/www.example.com/BOGUS")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, a, http.MethodDelete, "/api/v1/cache")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["removed"])
	assert.Equal(t, 0, c.Len())
}

func Test_Records(t *testing.T) {
	a, _, _ := newTestAPI(t, nil)

	w, body := do(t, a, http.MethodGet, "/api/v1/records")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
}

func Test_Reload(t *testing.T) {
	a, _, _ := newTestAPI(t, nil)
	w, _ := do(t, a, http.MethodPost, "/api/v1/reload")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	calls := 0
	a, _, _ = newTestAPI(t, func() error { calls++; return nil })
	w, body := do(t, a, http.MethodPost, "/api/v1/reload")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1, calls)

	a, _, _ = newTestAPI(t, func() error { return errors.New("bad config") })
	w, body = do(t, a, http.MethodPost, "/api/v1/reload")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "bad config", body["error"])
}

func Test_MetricsAndUnrouted(t *testing.T) {
	a, _, _ := newTestAPI(t, nil)

	w, _ := do(t, a, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")

	w, _ = do(t, a, http.MethodGet, "/nothing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, a, http.MethodGet, "/api/v1/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "POST", w.Header().Get("Allow"))

	w, _ = do(t, a, http.MethodPost, "/api/v1/cache")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "DELETE, GET", w.Header().Get("Allow"))
}

func Test_Tree(t *testing.T) {
	var tree Tree
	var hit string

	tree.Add("/a/:x/b", func(*Context) { hit = "param" })
	tree.Add("/files/*", func(*Context) { hit = "wild" })
	tree.Add("/a/static", func(*Context) { hit = "static" })

	lookup := func(path string) *Context {
		params := make(Params, 0, 4)
		ctx := &Context{Request: httptest.NewRequest(http.MethodGet, path, nil), Params: &params}
		tree.Lookup(ctx)
		if ctx.Handler != nil {
			ctx.Handler(ctx)
		}
		return ctx
	}

	ctx := lookup("/a/1/b")
	assert.Equal(t, "param", hit)
	assert.Equal(t, "1", ctx.Param("x"))

	ctx = lookup("/files/x/y.txt")
	assert.Equal(t, "wild", hit)
	assert.Equal(t, "x/y.txt", ctx.Param(""))

	lookup("/a/static")
	assert.Equal(t, "static", hit)

	ctx = lookup("/a/1/c")
	assert.Nil(t, ctx.Handler)
	assert.Empty(t, *ctx.Params)
}
