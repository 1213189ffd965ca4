// Package server hosts the Fiber HTTP service that stands in for the page side:
// it assigns request IDs, recovers panics, keeps /-/ diagnostics out of the
// intercepted path, and hands every other request to a ProxyHandler.
package server
