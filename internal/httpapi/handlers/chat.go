package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/ai"
	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/common"
	"github.com/gopherchat/gopherchat/internal/httpapi/middleware"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// failChat maps domain errors onto the response envelope. Unknown errors are
// logged in full and returned as a generic message.
func failChat(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
	case errors.Is(err, chat.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 10002, "invalid input")
	case errors.Is(err, chat.ErrAlreadyProcessing):
		common.Fail(c, http.StatusConflict, 40901, "another request is already in progress")
	case errors.Is(err, chat.ErrNoRegenerableMessage):
		common.Fail(c, http.StatusBadRequest, 10010, "no message available to regenerate")
	case errors.Is(err, chat.ErrNoPromptAvailable):
		common.Fail(c, http.StatusBadRequest, 10011, "no prompt available for regeneration")
	case errors.Is(err, ai.ErrUnknownModel):
		common.Fail(c, http.StatusBadRequest, 10012, "the specified model does not exist or is inactive")
	case errors.Is(err, ai.ErrNoModelAvailable):
		common.Fail(c, http.StatusBadRequest, 10013, "no active models are available")
	case errors.Is(err, ai.ErrUpstreamUnavailable):
		common.Fail(c, http.StatusBadGateway, 50201, "upstream model call failed")
	default:
		log.Printf("[chat] unexpected error: %v", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

// coerceTemperature accepts JSON numbers and numeric strings, the way the
// options endpoint advertises them.
func coerceTemperature(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid)
	if err != nil {
		log.Printf("[chat] create session failed uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	common.OK(c, gin.H{"session_id": sess.ID})
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid)
	if err != nil {
		log.Printf("[chat] list sessions failed uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}

	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{"session_id": s.ID, "title": s.Title})
	}
	common.OK(c, gin.H{"sessions": out})
}

func (h *Handler) GetChatHistory(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msgs, err := h.ChatSvc.History(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	if err := h.ChatSvc.DeleteSession(c.Request.Context(), uid, c.Param("session_id")); err != nil {
		failChat(c, err)
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

type sendMessageReq struct {
	SessionID   string `json:"session_id" binding:"required"`
	Message     string `json:"message" binding:"required"`
	Model       string `json:"model"`
	Temperature any    `json:"temperature" binding:"required"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	temperature, okk := coerceTemperature(req.Temperature)
	if !okk {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid temperature value provided")
		return
	}

	reply, msgID, err := h.ChatSvc.SendMessage(c.Request.Context(), uid, req.SessionID, req.Message, req.Model, temperature)
	if err != nil {
		failChat(c, err)
		return
	}

	common.OK(c, gin.H{
		"session_id": req.SessionID,
		"reply":      reply,
		"message_id": msgID,
	})
}

func (h *Handler) RegenerateLastMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	reply, msgID, err := h.ChatSvc.RegenerateLast(c.Request.Context(), uid, sessionID)
	if err != nil {
		failChat(c, err)
		return
	}

	common.OK(c, gin.H{
		"session_id": sessionID,
		"reply":      reply,
		"message_id": msgID,
	})
}

func (h *Handler) GetChatOptions(c *gin.Context) {
	names, err := h.Gateway.ActiveModelNames(c.Request.Context())
	if err != nil {
		log.Printf("[chat] list models failed err=%v", err)
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list models")
		return
	}
	common.OK(c, gin.H{
		"models":       names,
		"temperatures": chat.TemperatureOptions,
	})
}

type sendMessageAsyncReq struct {
	SessionID   string `json:"session_id" binding:"required"`
	Message     string `json:"message" binding:"required"`
	Model       string `json:"model"`
	Temperature any    `json:"temperature" binding:"required"`
}

func (h *Handler) SendChatMessageAsync(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageAsyncReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	temperature, okk := coerceTemperature(req.Temperature)
	if !okk {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid temperature value provided")
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	if err := h.ChatSvc.ValidateSessionOwner(c.Request.Context(), uid, req.SessionID); err != nil {
		failChat(c, err)
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("[chat] NewULID failed uid=%d session_id=%s err=%v", uid, req.SessionID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	j := &chat.Job{
		ID:             jobID,
		UserID:         uid,
		SessionID:      req.SessionID,
		Prompt:         req.Message,
		Model:          req.Model,
		Temperature:    temperature,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	}

	j, created, err := h.ChatSvc.CreateJobOrGetExisting(c.Request.Context(), j)
	if err != nil {
		log.Printf("[chat] create job failed uid=%d session_id=%s err=%v", uid, req.SessionID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), j.ID); err != nil {
			log.Printf("[chat] publish job failed uid=%d job_id=%s err=%v", uid, j.ID, err)
			common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
			return
		}
	}

	common.OK(c, gin.H{"job_id": j.ID})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "job_id required")
		return
	}

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		log.Printf("[chat] job load failed id=%s err=%v", jobID, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, 40402, "job not found")
		return
	}

	common.OK(c, gin.H{
		"job": gin.H{
			"id":                j.ID,
			"session_id":        j.SessionID,
			"status":            j.Status,
			"result_message_id": j.ResultMessageID,
			"error":             j.Error,
			"created_at":        j.CreatedAt,
			"updated_at":        j.UpdatedAt,
		},
	})
}
