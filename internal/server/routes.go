package server

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handler.Health)

	api := s.router.Group("/v1")
	{
		api.POST("/chat/completions", s.handler.CreateCompletion)

		api.POST("/audio/transcriptions", s.handler.Transcribe)
		api.POST("/audio/vocabularies", s.handler.CreateVocabulary)
		api.DELETE("/audio/vocabularies/:handle", s.handler.DeleteVocabulary)
		api.POST("/audio/speech", s.handler.Synthesize)
		api.GET("/audio/voices", s.handler.ListVoices)

		api.POST("/vector/collections", s.handler.CreateCollection)
		api.GET("/vector/collections", s.handler.ListCollections)
		api.GET("/vector/collections/:name", s.handler.DescribeCollection)
		api.DELETE("/vector/collections/:name", s.handler.DeleteCollection)
		api.POST("/vector/points", s.handler.UpsertPoints)
		api.POST("/vector/search", s.handler.SearchVectors)

		api.GET("/search", s.handler.WebSearch)
		api.POST("/graph/query", s.handler.GraphQuery)
		api.POST("/exec/run", s.handler.RunCode)
	}
}
