// Package httpserver exposes the producer REST and SSE surface: task
// enqueue and polling, request/await round trips, response consumption, and
// liveness/journal introspection.
package httpserver
