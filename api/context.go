package api

import (
	"encoding/json"
	"net/http"
)

type (
	// Context carries one request through the router.
	Context struct {
		Request *http.Request
		Writer  http.ResponseWriter
		Handler Handler
		Params  *Params
	}

	// Handler serves a route.
	Handler func(ctx *Context)

	// Param is a named path segment.
	Param struct {
		Key   string
		Value string
	}

	// Params holds the captured path segments.
	Params []Param

	// Json is a generic JSON object.
	Json map[string]any
)

// JSON writes data as the JSON body with status code.
func (ctx *Context) JSON(code int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		ctx.Writer.WriteHeader(http.StatusInternalServerError)
		return
	}

	ctx.Writer.Header().Set("Content-Type", "application/json")
	ctx.Writer.WriteHeader(code)

	_, _ = ctx.Writer.Write(buf)
}

// Param returns the value of the path segment named key.
func (ctx *Context) Param(key string) string {
	for _, p := range *ctx.Params {
		if p.Key == key {
			return p.Value
		}
	}

	return ""
}

func (ctx *Context) addParameter(key, value string) {
	*ctx.Params = append(*ctx.Params, Param{Key: key, Value: value})
}
