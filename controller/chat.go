package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"morado/model"
	"morado/platform"
	"morado/service"
)

var logger = platform.Logger

// Limiter rejections are not errors: the client gets a 200 with a
// friendly reply and limited=true so it can skip the retry affordance.
const (
	replyRateLimited = "✔️ Too many requests. Please wait a moment 😊"
	replyFreeQuota   = "✔️ Free daily limit reached 😊 Upgrade to PRO."
	replyProQuota    = "✔️ Daily limit reached 😊 Try again tomorrow."
)

type ChatController struct {
	limiter *service.UsageLimiter
	chats   *service.ChatService
}

func NewChatController(limiter *service.UsageLimiter, chats *service.ChatService) *ChatController {
	return &ChatController{limiter: limiter, chats: chats}
}

type chatRequest struct {
	Identity string `json:"identity"`
	Plan     string `json:"plan"`
	Text     string `json:"text" binding:"required"`
	ChatID   string `json:"chatId"`
}

// admit runs the usage limiter and, when the request is rejected, writes
// the limit reply. Returns false if the caller must stop.
func (ctrl ChatController) admit(c *gin.Context, identity string, plan model.Plan) bool {
	decision := ctrl.limiter.Admit(identity, plan)
	if decision == service.Allowed {
		return true
	}

	logger.Infof("[%s] Request from %s rejected: %s", c.GetString("requestId"), identity, decision)
	reply := replyRateLimited
	if decision == service.RejectedQuotaExceeded {
		reply = replyFreeQuota
		if plan == model.PlanPro {
			reply = replyProQuota
		}
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply, "limited": true})
	return false
}

func (ctrl ChatController) Chat(c *gin.Context) {
	var input chatRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		logger.Warnf("[%s] Invalid input, %s", c.GetString("requestId"), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	identity := input.Identity
	if identity == "" {
		identity = "guest"
	}
	plan := model.ParsePlan(input.Plan)

	if !ctrl.admit(c, identity, plan) {
		return
	}

	reply, err := ctrl.chats.HandleMessage(c.Request.Context(), identity, plan, input.ChatID, input.Text)
	if err != nil {
		if errors.Is(err, service.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
			return
		}
		logger.Warnf("[%s] Failed to handle message for %s: %s", c.GetString("requestId"), identity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to handle message"})
		return
	}

	c.JSON(http.StatusOK, reply)
}

// ChatStream is the SSE variant of Chat: each token chunk is written as
// a data: line and the stream is terminated by data: [DONE].
func (ctrl ChatController) ChatStream(c *gin.Context) {
	var input chatRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		logger.Warnf("[%s] Invalid input, %s", c.GetString("requestId"), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	identity := input.Identity
	if identity == "" {
		identity = "guest"
	}
	plan := model.ParsePlan(input.Plan)

	if !ctrl.admit(c, identity, plan) {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		logger.Warnf("[%s] get Writer flusher error", c.GetString("requestId"))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	// SSE headers go out with the first chunk so that errors raised
	// before anything was streamed can still use a plain status code.
	streamed := false
	onDelta := func(chunk string) error {
		if !streamed {
			c.Writer.Header().Set("Content-Type", "text/event-stream")
			c.Writer.Header().Set("Cache-Control", "no-cache")
			c.Writer.Header().Set("Connection", "keep-alive")
			streamed = true
		}
		if _, err := c.Writer.WriteString("data: " + chunk + "\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	reply, err := ctrl.chats.HandleMessageStream(c.Request.Context(), identity, plan, input.ChatID, input.Text, onDelta)
	if err != nil {
		logger.Warnf("[%s] Stream failed for %s: %s", c.GetString("requestId"), identity, err)
		if streamed {
			// Too late for a status code, just terminate the stream.
			c.Writer.WriteString("data: [DONE]\n\n")
			flusher.Flush()
			return
		}
		if errors.Is(err, service.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to handle message"})
		return
	}
	if !streamed {
		// Fallback replies never pass through onDelta, deliver them here.
		_ = onDelta(reply.Text)
	}

	c.Writer.WriteString("data: [DONE]\n\n")
	flusher.Flush()
}

func (ctrl ChatController) Titles(c *gin.Context) {
	var input struct {
		Identity string `json:"identity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity is required"})
		return
	}

	titles, err := ctrl.chats.ListChats(input.Identity)
	if err != nil {
		logger.Warnf("[%s] Failed to list chats for %s: %s", c.GetString("requestId"), input.Identity, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list chats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": titles})
}

func (ctrl ChatController) History(c *gin.Context) {
	var input struct {
		ChatID string `json:"chatId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
		return
	}

	entries, err := ctrl.chats.History(input.ChatID)
	if err != nil {
		if errors.Is(err, service.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
			return
		}
		logger.Warnf("[%s] Failed to load history for chat %s: %s", c.GetString("requestId"), input.ChatID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": entries})
}

func (ctrl ChatController) Rename(c *gin.Context) {
	var input struct {
		ChatID string `json:"chatId" binding:"required"`
		Title  string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId and title are required"})
		return
	}

	if err := ctrl.chats.RenameChat(input.ChatID, input.Title); err != nil {
		if errors.Is(err, service.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
			return
		}
		logger.Warnf("[%s] Failed to rename chat %s: %s", c.GetString("requestId"), input.ChatID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rename chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat renamed successfully"})
}

func (ctrl ChatController) Delete(c *gin.Context) {
	var input struct {
		ChatID string `json:"chatId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
		return
	}

	if err := ctrl.chats.DeleteChat(input.ChatID); err != nil {
		if errors.Is(err, service.ErrChatNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
			return
		}
		logger.Warnf("[%s] Failed to delete chat %s: %s", c.GetString("requestId"), input.ChatID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat deleted successfully"})
}
