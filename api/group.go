package api

// Group registers routes under a common prefix.
type Group struct {
	parent *Router
	path   string
}

func (g *Group) GET(path string, handle Handler) {
	g.parent.Handle("GET", g.path+path, handle)
}

func (g *Group) POST(path string, handle Handler) {
	g.parent.Handle("POST", g.path+path, handle)
}

func (g *Group) DELETE(path string, handle Handler) {
	g.parent.Handle("DELETE", g.path+path, handle)
}
