package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/bootstrap"
	"pdfchat/internal/transport/http/response"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

func (h *HealthHandler) Root(c *gin.Context) {
	response.OK(c, gin.H{"message": "PDF Chat API is running!"})
}

// Check reports liveness plus the state of the optional redis and rabbitmq dependencies.
// Only dependencies that are configured are listed.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	deps := gin.H{}
	if h.app.Redis != nil {
		s := h.checkRedis(ctx)
		deps["redis"] = s
		if !s.OK {
			status = "degraded"
		}
	}
	if h.app.MQConn != nil {
		s := h.checkRabbitMQ()
		deps["rabbitmq"] = s
		if !s.OK {
			status = "degraded"
		}
	}

	response.OK(c, gin.H{
		"status":             status,
		"app":                h.app.Config.App.Name,
		"env":                h.app.Config.App.Env,
		"active_sessions":    h.app.RAG.SessionCount(),
		"api_key_configured": h.app.Config.LLM.Configured(),
		"uptime_sec":         int(time.Since(h.app.StartedAt).Seconds()),
		"dependencies":       deps,
	})
}

func (h *HealthHandler) checkRedis(ctx context.Context) dependencyStatus {
	if err := h.app.Redis.Ping(ctx).Err(); err != nil {
		return dependencyStatus{OK: false, Message: err.Error()}
	}
	return dependencyStatus{OK: true}
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if h.app.MQConn.IsClosed() {
		return dependencyStatus{OK: false, Message: "connection closed"}
	}
	return dependencyStatus{OK: true}
}
