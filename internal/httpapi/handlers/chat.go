package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hyunsoo-dev/persona-chat/internal/billing"
	"github.com/hyunsoo-dev/persona-chat/internal/chat"
	"github.com/hyunsoo-dev/persona-chat/internal/common"
	"github.com/hyunsoo-dev/persona-chat/internal/prompt"
)

// failTurnError maps pipeline errors onto the response envelope. Moderation
// blocks and empty balances are client-visible conditions, not server
// faults.
func failTurnError(c *gin.Context, err error) {
	var rejected *chat.ContentRejectedError
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
	case errors.Is(err, chat.ErrCharacterNotFound):
		common.Fail(c, http.StatusNotFound, 40005, "character not found")
	case errors.Is(err, chat.ErrPresetNotFound):
		common.Fail(c, http.StatusNotFound, 40006, "persona preset not found")
	case errors.Is(err, chat.ErrPermissionDenied):
		common.Fail(c, http.StatusForbidden, 40301, "not the session owner")
	case errors.Is(err, chat.ErrInvalidMode):
		common.Fail(c, http.StatusBadRequest, 10005, "unknown chat mode")
	case errors.Is(err, billing.ErrInsufficientBalance):
		common.Fail(c, http.StatusPaymentRequired, 40201, "insufficient token balance")
	case errors.As(err, &rejected):
		code := 45100
		if rejected.Output {
			code = 45101
		}
		common.Fail(c, http.StatusBadRequest, code, rejected.Reason)
	default:
		common.Fail(c, http.StatusInternalServerError, 50003, "chat request failed")
	}
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req chat.CreateSessionParams
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.CharacterID == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "character_id required")
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid, req)
	if err != nil {
		failTurnError(c, err)
		return
	}
	common.Ok(c, sess)
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid, limit, offset)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	common.Ok(c, gin.H{"sessions": sessions})
}

func (h *Handler) GetChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sess, err := h.ChatSvc.GetSession(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		failTurnError(c, err)
		return
	}
	common.Ok(c, sess)
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.ChatSvc.DeleteSession(c.Request.Context(), uid, c.Param("session_id")); err != nil {
		failTurnError(c, err)
		return
	}
	common.Ok(c, gin.H{"deleted": true})
}

type changeModelReq struct {
	Provider string `json:"provider" binding:"required"`
	Model    string `json:"model"`
}

func (h *Handler) ChangeSessionModel(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req changeModelReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := h.ChatSvc.ChangeModel(c.Request.Context(), uid, c.Param("session_id"), req.Provider, req.Model)
	if err != nil {
		failTurnError(c, err)
		return
	}
	common.Ok(c, sess)
}

type changeModeReq struct {
	Mode prompt.Mode `json:"mode" binding:"required"`
}

func (h *Handler) ChangeSessionMode(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req changeModeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := h.ChatSvc.ChangeMode(c.Request.Context(), uid, c.Param("session_id"), req.Mode)
	if err != nil {
		failTurnError(c, err)
		return
	}
	common.Ok(c, sess)
}

type renameSessionReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) RenameChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := h.ChatSvc.RenameSession(c.Request.Context(), uid, c.Param("session_id"), req.Title)
	if err != nil {
		failTurnError(c, err)
		return
	}
	common.Ok(c, sess)
}

func (h *Handler) UpdateSessionState(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req chat.StateUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, err := h.ChatSvc.UpdateSessionState(c.Request.Context(), uid, c.Param("session_id"), req)
	if err != nil {
		failTurnError(c, err)
		return
	}
	common.Ok(c, sess)
}

type sendMessageReq struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
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

	result, err := h.ChatSvc.SendMessage(c.Request.Context(), uid, req.SessionID, req.Message)
	if err != nil {
		failTurnError(c, err)
		return
	}

	common.Ok(c, gin.H{
		"session_id":        req.SessionID,
		"message":           result.Message,
		"suggested_replies": result.SuggestedReplies,
		"tokens_used":       result.TokensUsed,
		"token_cost":        result.TokenCost,
	})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, sessionID, limit, beforeID)
	if err != nil {
		failTurnError(c, err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.Ok(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) SendChatMessageStream(c *gin.Context) {
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

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx

	// avoid gin writing a JSON response later
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	ctx := c.Request.Context()
	events := h.ChatSvc.StreamMessage(ctx, uid, req.SessionID, req.Message)

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case chat.EventChunk:
				writeJSON("chunk", gin.H{
					"type":  "chunk",
					"delta": ev.Content,
				})
			case chat.EventError:
				writeJSON("error", gin.H{
					"type":    "error",
					"message": streamErrorMessage(ev.Err),
				})
				return
			case chat.EventDone:
				writeJSON("done", gin.H{
					"type":              "done",
					"content":           ev.Content,
					"tokens_used":       ev.TokensUsed,
					"token_cost":        ev.TokenCost,
					"suggested_replies": ev.SuggestedReplies,
				})
				return
			}

		case <-ticker.C:
			writeJSON("ping", gin.H{
				"type": "ping",
				"ts":   time.Now().Unix(),
			})

		case <-ctx.Done():
			return
		}
	}
}

// streamErrorMessage keeps provider internals out of the SSE error frame
// while passing user-facing conditions through verbatim.
func streamErrorMessage(err error) string {
	var rejected *chat.ContentRejectedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, chat.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, chat.ErrPermissionDenied):
		return "not the session owner"
	case errors.Is(err, billing.ErrInsufficientBalance):
		return "insufficient token balance"
	case errors.As(err, &rejected):
		return rejected.Reason
	default:
		return "chat request failed"
	}
}
