package httpserver

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.metricsEndpoint)

	api := s.echo.Group("/api/v1")

	protected := api.Group("")
	protected.Use(s.middleware.JWT.RequireJWT())

	// Service-to-service decisions; the caller does its own request accounting.
	protected.POST("/admission/decide", s.decide)

	metered := protected.Group("")
	metered.Use(s.middleware.Admission.Handler())
	metered.GET("/usage", s.getUsage)
}
