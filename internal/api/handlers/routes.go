package handlers

import "github.com/gin-gonic/gin"

func RegisterRoutes(r *gin.Engine, clarifyHandler *ClarifyHandler, streamHandler *StreamHandler, healthHandler *HealthHandler) {
	r.GET("/health", healthHandler.HandleHealth)

	api := r.Group("/api")
	{
		api.POST("/query", clarifyHandler.HandleQuery)
		api.GET("/queries/recent", clarifyHandler.HandleRecentQueries)
		api.GET("/questions", clarifyHandler.HandleQuestionsForQuery)
		api.POST("/answers", clarifyHandler.HandleSingleAnswer)
	}

	clarify := api.Group("/clarify")
	{
		clarify.POST("/start", clarifyHandler.HandleStart)
		clarify.POST("/answer", clarifyHandler.HandleAnswers)
		clarify.POST("/approve", clarifyHandler.HandleApprove)
		clarify.POST("/finalize", clarifyHandler.HandleFinalize)
		clarify.POST("/regenerate-thesis", clarifyHandler.HandleRegenerate)
		clarify.GET("/sessions/:id", clarifyHandler.HandleGetSession)
		clarify.GET("/sessions/:id/events", clarifyHandler.HandleEvents)
		clarify.GET("/sessions/:id/theses", clarifyHandler.HandleTheses)
	}

	research := api.Group("/research")
	{
		research.POST("/feedback", clarifyHandler.HandleThesisFeedback)
		research.POST("/stream", streamHandler.HandleCreate)
		research.GET("/stream", streamHandler.HandleStream)
		research.POST("/resume", streamHandler.HandleResume)
	}

	api.GET("/debug/llm-events", clarifyHandler.HandleLLMEvents)
}
