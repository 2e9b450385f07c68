package http

import (
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultOrigins = []string{"http://localhost:3000"}

// OriginChecker accepts websocket upgrades from the configured origins.
// Requests without an Origin header (non-browser clients) are allowed.
func OriginChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
	}
}

func SetupRouter(origins []string, roomController *RoomController, userController *UserController) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), Metrics())

	if len(origins) == 0 {
		origins = defaultOrigins
	}
	config := cors.DefaultConfig()
	if slices.Contains(origins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
		UserIDHeader,
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	if userController != nil {
		users := api.Group("/users")
		users.POST("", userController.CreateUser)
		users.POST("/guest", userController.CreateGuest)
		users.GET("/:userID", userController.GetUser)
		users.PATCH("/me", RequireUser(userController.users), userController.UpdateMe)
	}

	if roomController != nil && userController != nil {
		rooms := api.Group("/rooms", RequireUser(userController.users))
		rooms.GET("", roomController.ListRooms)
		rooms.POST("", roomController.CreateRoom)
		rooms.GET("/:roomID", roomController.GetRoom)
		rooms.PATCH("/:roomID", roomController.UpdateSettings)
		rooms.DELETE("/:roomID", roomController.CloseRoom)
		rooms.GET("/:roomID/ws", roomController.ServeWS)

		rooms.POST("/:roomID/join", roomController.Join)
		rooms.POST("/:roomID/leave", roomController.Leave)
		rooms.POST("/:roomID/requests/:userID/approve", roomController.ApproveJoin)
		rooms.POST("/:roomID/requests/:userID/deny", roomController.DenyJoin)
		rooms.POST("/:roomID/host/:userID", roomController.TransferHost)
		rooms.DELETE("/:roomID/participants/:userID", roomController.RemoveParticipant)
		rooms.PUT("/:roomID/participants/:userID/mute", roomController.MuteParticipant)
		rooms.PUT("/:roomID/me/instrument", roomController.SwitchInstrument)
		rooms.PUT("/:roomID/me/status", roomController.SetStatus)

		rooms.GET("/:roomID/messages", roomController.History)
		rooms.POST("/:roomID/messages", roomController.SendMessage)
		rooms.GET("/:roomID/messages/unread", roomController.RoomUnread)
		rooms.POST("/:roomID/messages/read", roomController.MarkAllRead)
		rooms.GET("/:roomID/private", roomController.PrivateHistory)
		rooms.POST("/:roomID/private", roomController.SendPrivate)
		rooms.GET("/:roomID/private/unread", roomController.PrivateUnread)
		rooms.POST("/:roomID/private/:messageID/read", roomController.MarkPrivateRead)
		rooms.POST("/:roomID/notes", roomController.PublishNote)
	}

	return router
}
