package server

import (
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// Session state projection
	s.RegisterRouteHandler("GET "+RouteSession, ChainMiddleware(s.SessionStateHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSessionWatch, ChainMiddleware(s.SessionWatchHandler(), s.StreamMiddleware()...))

	// Lifecycle events
	s.RegisterRouteHandler("POST "+RouteSessionLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSessionLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSessionFailures, ChainMiddleware(s.FailureReportHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSessionUnauthenticated, ChainMiddleware(s.UnauthenticatedHandler(), s.APIMiddleware()...))

	// CORS preflight for the event routes
	s.RegisterRouteHandler("OPTIONS "+RouteSession+"/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	// Operations
	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthzHandler())
	if s.gatherer != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}
