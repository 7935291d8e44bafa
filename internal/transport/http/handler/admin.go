package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/app"
	"pdfchat/internal/transport/http/response"
)

type AdminHandler struct {
	docService *app.DocumentService
}

func NewAdminHandler(docService *app.DocumentService) *AdminHandler {
	return &AdminHandler{docService: docService}
}

// Reset clears all stored data: the vector collection is dropped and
// recreated, the registry truncated, cached answers invalidated.
func (h *AdminHandler) Reset(c *gin.Context) {
	if err := h.docService.Reset(c.Request.Context()); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "reset failed: "+err.Error())
		return
	}
	response.OK(c, gin.H{"reset": true})
}

// Stats reports the vector index's total vector count and dimension.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.docService.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stats failed: "+err.Error())
		return
	}
	response.OK(c, stats)
}
