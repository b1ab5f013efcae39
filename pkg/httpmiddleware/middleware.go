// Package httpmiddleware contains net/http middlewares shared by the API server.
package httpmiddleware

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder resolves a request to its route pattern, e.g. "/api/orders/{id}".
type RouteFinder func(method string, u *url.URL) (string, bool)

// MakeRouteFinder returns a RouteFinder backed by the chi routing tree.
func MakeRouteFinder(routes chi.Routes) RouteFinder {
	return func(method string, u *url.URL) (string, bool) {
		pattern := routes.Find(chi.NewRouteContext(), method, u.Path)
		return pattern, pattern != ""
	}
}
