package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthLogin   = "/auth/login"
	RouteAuthCheck   = "/auth/check"
	RouteAuthRefresh = "/auth/refresh-token"
	RouteAuthLogout  = "/auth/logout"

	// Admin Routes
	RouteAuthRevoke = "/auth/revoke"

	// Operational Routes
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)
