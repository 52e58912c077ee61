/*
Package httpserver runs the coordinator's HTTP listener.

It mounts API handlers (anything implementing RouteRegistrar) on a chi router
next to the operational endpoints, logs every request with the flashbots slog
middleware, and serves Prometheus metrics on a separate address.

# Operational Endpoints

  - GET /livez: liveness
  - GET /readyz: readiness, 503 while draining
  - GET /drain, /undrain: toggle readiness ahead of a restart
  - /debug/pprof: profiling, when enabled

# Lifecycle

Run serves until its context is cancelled. Shutdown first marks the server not
ready for DrainDuration, then gracefully stops the API and metrics listeners
within GracefulShutdownDuration.
*/
package httpserver
