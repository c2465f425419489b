package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kharomchat/internal/models"
	"kharomchat/internal/service/chat"
	"kharomchat/internal/service/session"
)

// Handler wires HTTP routes to the chat route generator and the local session core.
type Handler struct {
	replies   ReplyGenerator
	sessions  *session.Coordinator
	turns     *chat.Orchestrator
	localOnly bool
}

type Option func(*Handler)

// WithChatRoute serves POST /api/chat through gen.
func WithChatRoute(gen ReplyGenerator) Option {
	return func(h *Handler) { h.replies = gen }
}

// WithSessions serves the local session API.
func WithSessions(sessions *session.Coordinator, turns *chat.Orchestrator) Option {
	return func(h *Handler) {
		h.sessions = sessions
		h.turns = turns
	}
}

// WithRemoteAccess lets non-loopback clients reach the session API.
func WithRemoteAccess() Option {
	return func(h *Handler) { h.localOnly = false }
}

// NewHandler constructs a Handler instance.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{localOnly: true}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(requestContext())
	if h.replies != nil {
		api.POST("/chat", h.chat)
	}
	if h.sessions == nil || h.turns == nil {
		return
	}
	sessions := api.Group("/sessions")
	if h.localOnly {
		sessions.Use(localOnly())
	}
	sessions.GET("", h.listSessions)
	sessions.POST("", h.createSession)
	sessions.POST("/refresh", h.refreshSessions)
	sessions.GET("/active", h.activeSession)
	sessions.POST("/active/messages", h.sendMessage)
	sessions.POST("/active/retry", h.retryMessage)
	sessions.PUT("/active/messages/:message_id/feedback", h.updateFeedback)
	sessions.POST("/:id/select", h.selectSession)
	sessions.PATCH("/:id", h.renameSession)
	sessions.DELETE("/:id", h.deleteSession)
}

type summaryView struct {
	models.SessionSummary
	DisplayTitle string `json:"displayTitle"`
}

func summaryViews(summaries []models.SessionSummary) []summaryView {
	out := make([]summaryView, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, summaryView{SessionSummary: s, DisplayTitle: s.DisplayTitle()})
	}
	return out
}

type turnView struct {
	State         string          `json:"state"`
	InputEnabled  bool            `json:"inputEnabled"`
	PendingPrompt string          `json:"pendingPrompt,omitempty"`
	Error         *chat.TurnError `json:"error,omitempty"`
}

func (h *Handler) turnView() turnView {
	return turnView{
		State:         h.turns.State().String(),
		InputEnabled:  h.turns.InputEnabled(),
		PendingPrompt: h.turns.PendingPrompt(),
		Error:         h.turns.LastError(),
	}
}

func (h *Handler) activeView() gin.H {
	state := h.sessions.Snapshot()
	var activeID *string
	if state.ActiveSessionID != "" {
		activeID = &state.ActiveSessionID
	}
	return gin.H{
		"activeSessionId":       activeID,
		"activeSessionMessages": state.ActiveSessionMessages,
		"isLoadingSession":      state.IsLoadingSession,
		"turn":                  h.turnView(),
	}
}

func (h *Handler) listView() gin.H {
	state := h.sessions.Snapshot()
	return gin.H{
		"sessions":           summaryViews(state.Sessions),
		"isLoadingSummaries": state.IsLoadingSummaries,
	}
}

func (h *Handler) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.listView())
}

func (h *Handler) refreshSessions(c *gin.Context) {
	h.sessions.RefreshSessionSummaries(c.Request.Context())
	c.JSON(http.StatusOK, h.listView())
}

func (h *Handler) createSession(c *gin.Context) {
	h.turns.Reset()
	id := h.sessions.CreateNewSession(c.Request.Context())
	if id == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) activeSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.activeView())
}

func (h *Handler) selectSession(c *gin.Context) {
	id := c.Param("id")
	if h.sessions.ActiveSessionID() != id {
		h.turns.Reset()
	}
	h.sessions.SelectSession(c.Request.Context(), id)
	c.JSON(http.StatusOK, h.activeView())
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *Handler) renameSession(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if err := h.sessions.RenameSession(c.Request.Context(), c.Param("id"), title); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "title": title})
}

func (h *Handler) deleteSession(c *gin.Context) {
	id := c.Param("id")
	if h.sessions.ActiveSessionID() == id {
		h.turns.Reset()
	}
	if err := h.sessions.DeleteSession(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type messageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reply, err := h.turns.Send(c.Request.Context(), req.Text)
	h.respondTurn(c, reply, err)
}

func (h *Handler) retryMessage(c *gin.Context) {
	reply, err := h.turns.Retry(c.Request.Context())
	h.respondTurn(c, reply, err)
}

func (h *Handler) respondTurn(c *gin.Context, reply *models.Message, err error) {
	var turnErr *chat.TurnError
	switch {
	case err == nil:
		body := h.activeView()
		body["reply"] = reply
		c.JSON(http.StatusOK, body)
	case errors.As(err, &turnErr):
		body := h.activeView()
		body["error"] = turnErr.Message
		body["category"] = turnErr.Category
		body["key"] = turnErr.Key
		body["retryable"] = turnErr.Retryable()
		if turnErr.BlockReason != "" {
			body["blockReason"] = turnErr.BlockReason
		}
		c.JSON(http.StatusBadGateway, body)
	case errors.Is(err, chat.ErrEmptyPrompt), errors.Is(err, chat.ErrPromptTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrTurnInFlight), errors.Is(err, chat.ErrNothingToRetry), errors.Is(err, chat.ErrTurnSuperseded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNoSession):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type feedbackRequest struct {
	Feedback         models.Feedback          `json:"feedback"`
	DetailedFeedback *models.DetailedFeedback `json:"detailedFeedback"`
}

func (h *Handler) updateFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	err := h.sessions.UpdateMessageFeedbackInActiveSession(c.Request.Context(), c.Param("message_id"), req.Feedback, req.DetailedFeedback)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.activeView())
	case errors.Is(err, session.ErrNoActiveSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
