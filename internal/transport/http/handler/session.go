package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/app"
	"pdfchat/internal/transport/http/response"
)

type SessionHandler struct {
	ragService *app.RAGService
}

func NewSessionHandler(ragService *app.RAGService) *SessionHandler {
	return &SessionHandler{ragService: ragService}
}

func (h *SessionHandler) Delete(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session id")
		return
	}
	if err := h.ragService.DeleteSession(c.Request.Context(), sessionID); err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"message": fmt.Sprintf("Session %s deleted successfully", sessionID)})
}

func (h *SessionHandler) DeleteAll(c *gin.Context) {
	cleared := h.ragService.DeleteAllSessions(c.Request.Context())
	response.OK(c, gin.H{
		"message": fmt.Sprintf("All %d sessions cleared successfully", cleared),
		"cleared": cleared,
	})
}
