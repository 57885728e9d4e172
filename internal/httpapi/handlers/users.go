package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hyunsoo-dev/persona-chat/internal/auth"
	"github.com/hyunsoo-dev/persona-chat/internal/common"
	"github.com/hyunsoo-dev/persona-chat/internal/httpapi/middleware"
	"github.com/hyunsoo-dev/persona-chat/internal/models"
)

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

type createUserReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email, username and password required")
		return
	}
	if len(req.Password) < 8 {
		common.Fail(c, http.StatusBadRequest, 10003, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create user")
		return
	}

	user := models.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			common.Fail(c, http.StatusConflict, 10010, "email or username already taken")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create user")
		return
	}

	common.Ok(c, gin.H{"id": user.ID, "email": user.Email, "username": user.Username})
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	user, err := h.Users.GetByEmail(c.Request.Context(), strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		// same answer for unknown email and wrong password
		common.Fail(c, http.StatusUnauthorized, 10011, "invalid email or password")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to sign token")
		return
	}

	common.Ok(c, gin.H{"token": token})
}

func (h *Handler) Me(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	user, err := h.Users.GetByID(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40401, "user not found")
		return
	}
	common.Ok(c, gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"username":       user.Username,
		"tokens":         user.Tokens,
		"adult_verified": user.AdultVerified,
		"creator_tier":   user.CreatorTier,
	})
}

func (h *Handler) Ping(c *gin.Context) {
	common.Ok(c, gin.H{"pong": true})
}
