package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kharomchat/internal/models"
	"kharomchat/internal/observability"
	"kharomchat/internal/service/ai"
)

// ReplyGenerator produces the model reply for one prompt. *ai.Service implements it.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, prompt string) (string, error)
}

func (h *Handler) chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid request body"))
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("prompt is required"))
		return
	}

	ctx := c.Request.Context()
	reply, err := h.replies.GenerateReply(ctx, prompt)
	if err != nil {
		var blocked *ai.BlockedError
		if errors.As(err, &blocked) {
			observability.LoggerFromContext(ctx).Warn("reply blocked", "block_reason", blocked.Reason)
			resp := models.ErrorResponse(ai.BlockedMessage)
			resp.Blocked = true
			resp.BlockReason = blocked.Reason
			c.JSON(http.StatusOK, resp)
			return
		}
		observability.LoggerFromContext(ctx).Error("generate reply failed", "error", err)
		c.JSON(http.StatusBadGateway, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.ReplyResponse(reply))
}
