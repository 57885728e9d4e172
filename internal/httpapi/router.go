package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hyunsoo-dev/persona-chat/internal/chat"
	"github.com/hyunsoo-dev/persona-chat/internal/common"
	"github.com/hyunsoo-dev/persona-chat/internal/config"
	"github.com/hyunsoo-dev/persona-chat/internal/httpapi/handlers"
	"github.com/hyunsoo-dev/persona-chat/internal/httpapi/middleware"
	"github.com/hyunsoo-dev/persona-chat/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, trigger chat.CompactionTrigger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, trigger)

	r.GET("/ping", h.Ping)

	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Chat (JWT required)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/sessions/:session_id", h.GetChatSession)
	authGroup.DELETE("/chat/sessions/:session_id", h.DeleteChatSession)
	authGroup.PATCH("/chat/sessions/:session_id/model", h.ChangeSessionModel)
	authGroup.PATCH("/chat/sessions/:session_id/mode", h.ChangeSessionMode)
	authGroup.PATCH("/chat/sessions/:session_id/title", h.RenameChatSession)
	authGroup.PATCH("/chat/sessions/:session_id/state", h.UpdateSessionState)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.POST("/chat/messages/stream", h.SendChatMessageStream)

	// Memory notes
	authGroup.POST("/notes", h.CreateNote)
	authGroup.GET("/notes", h.ListNotes)
	authGroup.PATCH("/notes/:id", h.UpdateNote)
	authGroup.DELETE("/notes/:id", h.DeleteNote)

	// Creator earnings
	authGroup.GET("/creator/earnings", h.ListMyEarnings)

	return r
}
