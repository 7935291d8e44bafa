package http

import (
	"github.com/gin-gonic/gin"

	"pdfchat/internal/bootstrap"
	"pdfchat/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	documentHandler := handler.NewDocumentHandler(
		app.DocumentService,
		app.DocumentRepo,
		app.IngestPublisher,
		app.Config.RAG.UploadDir,
	)
	queryHandler := handler.NewQueryHandler(app.QueryService)
	adminHandler := handler.NewAdminHandler(app.DocumentService)

	v1 := router.Group("/api/v1")
	v1.POST("/documents", documentHandler.Upload)
	v1.GET("/documents", documentHandler.List)
	v1.DELETE("/documents/:filename", documentHandler.Delete)
	v1.POST("/ask", queryHandler.Ask)
	v1.GET("/stats", adminHandler.Stats)
	v1.POST("/admin/reset", adminHandler.Reset)

	return router
}
