package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pdfchat/internal/bootstrap"
	"pdfchat/internal/transport/http/handler"
	"pdfchat/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		gin.Recovery(),
		middleware.CORS(app.Config.App.CORSOrigins),
	)

	healthHandler := handler.NewHealthHandler(app)
	ragHandler := handler.NewRAGHandler(app.RAG, app.Config.RAG.MaxUploadBytes, app.Config.RAG.UploadReadTimeout())
	sessionHandler := handler.NewSessionHandler(app.RAG)

	router.GET("/", healthHandler.Root)
	router.GET("/health", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	router.POST("/upload-pdf", ragHandler.UploadPDF)
	router.POST("/chat", ragHandler.Chat)
	router.DELETE("/session/:session_id", sessionHandler.Delete)
	router.DELETE("/sessions", sessionHandler.DeleteAll)

	return router
}
