package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pdfchat/internal/app"
	"pdfchat/internal/transport/http/response"
)

type QueryHandler struct {
	queryService *app.QueryService
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k"`
}

func NewQueryHandler(queryService *app.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// Ask runs retrieval + synthesis. A question with no relevant passages is a
// 200 with answered=false; only embedding/retrieval failures become errors.
func (h *QueryHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.queryService.Answer(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ask failed: "+err.Error())
		}
		return
	}

	response.OK(c, result)
}
