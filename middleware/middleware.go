// Package middleware holds the query pipeline: a chain of handlers that
// each either answer the request or pass it on.
package middleware

import (
	"context"
)

// Handler is one stage of the pipeline.
type Handler interface {
	Name() string
	ServeDNS(context.Context, *Chain)
}

// Handlers is an ordered pipeline.
type Handlers []Handler

// List return names of handlers
func (hs Handlers) List() (list []string) {
	for _, h := range hs {
		list = append(list, h.Name())
	}

	return list
}

// Get return a handler by name
func (hs Handlers) Get(name string) Handler {
	for _, h := range hs {
		if h.Name() == name {
			return h
		}
	}

	return nil
}
