package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hyunsoo-dev/persona-chat/internal/common"
	"github.com/hyunsoo-dev/persona-chat/internal/memory"
)

func failNoteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		common.Fail(c, http.StatusNotFound, 40007, "note not found")
	case errors.Is(err, memory.ErrNotOwner):
		common.Fail(c, http.StatusForbidden, 40302, "not the note owner")
	default:
		common.Fail(c, http.StatusInternalServerError, 50004, "note request failed")
	}
}

type createNoteReq struct {
	TargetType memory.NoteTarget `json:"target_type" binding:"required"`
	TargetID   string            `json:"target_id" binding:"required"`
	Content    string            `json:"content" binding:"required"`
	Category   string            `json:"category"`
	Pinned     bool              `json:"pinned"`
	// InContext defaults to true when omitted.
	InContext *bool `json:"include_in_context"`
}

func validNoteTarget(t memory.NoteTarget) bool {
	return t == memory.NoteTargetSession || t == memory.NoteTargetCharacter
}

func (h *Handler) CreateNote(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req createNoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !validNoteTarget(req.TargetType) {
		common.Fail(c, http.StatusBadRequest, 10006, "target_type must be session or character")
		return
	}
	if req.TargetType == memory.NoteTargetSession {
		// session notes require ownership of the session
		if _, err := h.ChatSvc.GetSession(c.Request.Context(), uid, req.TargetID); err != nil {
			failTurnError(c, err)
			return
		}
	}

	inContext := true
	if req.InContext != nil {
		inContext = *req.InContext
	}
	note := memory.UserNote{
		UserID:           uid,
		TargetType:       req.TargetType,
		TargetID:         req.TargetID,
		Content:          req.Content,
		Category:         req.Category,
		Pinned:           req.Pinned,
		IncludeInContext: inContext,
	}
	if err := h.Memory.CreateNote(c.Request.Context(), &note); err != nil {
		failNoteError(c, err)
		return
	}
	common.Ok(c, note)
}

func (h *Handler) ListNotes(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	target := memory.NoteTarget(c.Query("target_type"))
	targetID := c.Query("target_id")
	if !validNoteTarget(target) || targetID == "" {
		common.Fail(c, http.StatusBadRequest, 10006, "target_type and target_id required")
		return
	}
	notes, err := h.Memory.ListNotes(c.Request.Context(), uid, target, targetID)
	if err != nil {
		failNoteError(c, err)
		return
	}
	common.Ok(c, gin.H{"notes": notes})
}

type updateNoteReq struct {
	Content   *string `json:"content"`
	Category  *string `json:"category"`
	Pinned    *bool   `json:"pinned"`
	InContext *bool   `json:"include_in_context"`
}

func (h *Handler) UpdateNote(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid note id")
		return
	}
	var req updateNoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	note, err := h.Memory.GetNote(c.Request.Context(), id)
	if err != nil {
		failNoteError(c, err)
		return
	}
	if note.UserID != uid {
		common.Fail(c, http.StatusForbidden, 40302, "not the note owner")
		return
	}

	if req.Content != nil {
		note.Content = *req.Content
	}
	if req.Category != nil {
		note.Category = *req.Category
	}
	if req.Pinned != nil {
		note.Pinned = *req.Pinned
	}
	if req.InContext != nil {
		note.IncludeInContext = *req.InContext
	}

	if err := h.Memory.UpdateNote(c.Request.Context(), uid, note); err != nil {
		failNoteError(c, err)
		return
	}
	common.Ok(c, note)
}

func (h *Handler) DeleteNote(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid note id")
		return
	}
	if err := h.Memory.DeleteNote(c.Request.Context(), uid, id); err != nil {
		failNoteError(c, err)
		return
	}
	common.Ok(c, gin.H{"deleted": true})
}
