package api

import (
	"strings"
)

// segment kinds
const (
	separator = '/'
	parameter = ':'
	wildcard  = '*'
)

// Tree matches request paths of one method. Static paths are a map
// lookup; the rest are tried segment by segment in the order added.
type Tree struct {
	static map[string]Handler
	routes []route
}

type route struct {
	segments []string
	handler  Handler
}

// Add adds a new route to the tree. A segment starting with ':' captures
// one path segment, a trailing '*' segment captures the rest of the path.
func (tree *Tree) Add(path string, handler Handler) {
	if !strings.ContainsAny(path, ":*") {
		if tree.static == nil {
			tree.static = map[string]Handler{}
		}
		tree.static[path] = handler
		return
	}

	segments := split(path)
	for i, s := range tree.routes {
		if equalSegments(s.segments, segments) {
			tree.routes[i].handler = handler
			return
		}
	}

	tree.routes = append(tree.routes, route{segments: segments, handler: handler})
}

// Lookup sets the handler and parameters of the route matching the
// request path of ctx.
func (tree *Tree) Lookup(ctx *Context) {
	path := ctx.Request.URL.Path

	if handler, ok := tree.static[path]; ok {
		ctx.Handler = handler
		return
	}

	parts := split(path)

	for _, r := range tree.routes {
		if r.match(ctx, parts) {
			ctx.Handler = r.handler
			return
		}
		*ctx.Params = (*ctx.Params)[:0]
	}
}

func (r *route) match(ctx *Context, parts []string) bool {
	for i, s := range r.segments {
		if strings.HasPrefix(s, string(wildcard)) {
			ctx.addParameter(s[1:], strings.Join(parts[i:], string(separator)))
			return true
		}

		if i >= len(parts) {
			return false
		}

		if strings.HasPrefix(s, string(parameter)) {
			if parts[i] == "" {
				return false
			}
			ctx.addParameter(s[1:], parts[i])
			continue
		}

		if s != parts[i] {
			return false
		}
	}

	return len(parts) == len(r.segments)
}

func split(path string) []string {
	path = strings.Trim(path, string(separator))
	if path == "" {
		return []string{""}
	}
	return strings.Split(path, string(separator))
}

func equalSegments(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
