package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Session state
	RouteSession      = "/session"
	RouteSessionWatch = "/session/watch"

	// Lifecycle events
	RouteSessionLogin           = "/session/login"
	RouteSessionLogout          = "/session/logout"
	RouteSessionFailures        = "/session/failures"
	RouteSessionUnauthenticated = "/session/unauthenticated"

	// Operations
	RouteMetrics = "/metrics"
	RouteHealthz = "/healthz"
)
