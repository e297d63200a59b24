// Package server accepts image-processing connections and exposes the operational HTTP surface.
//
// # Connection Acceptor
//
// [Server] binds the TCP listener and runs a single sequential accept loop. Each accepted
// connection is handed to a [SessionHandler] on its own goroutine; the loop never waits on a
// session. Sessions are tracked in a registry (a wait group plus an active counter) so that
// [Server.ListenAndServe] can drain in-flight sessions after the loop stops, but nothing
// cancels a running session.
//
// The loop ends when its context is cancelled or on a fatal accept error, in which case the
// listener is closed and the error returned. Resource-exhaustion errors (EMFILE, ENFILE,
// ECONNABORTED) back off and retry instead.
//
// An optional token-bucket limiter ([Config.AcceptRate]) paces accepts.
//
// # Operational HTTP
//
// When [Config.MetricsAddr] is set, an HTTP listener serves /metrics and /healthz next to the
// acceptor. Routing goes through the [Router] and [Middleware] abstractions:
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
package server
