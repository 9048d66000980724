// Package api exposes the organizer to the host UI over HTTP.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/korjavin/familyorganizer/pkg/logger"
)

// NewRouter wires every endpoint onto a gin engine
func NewRouter(waterHandler *WaterHandler, cookingHandler *CookingHandler, corsOrigins []string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger.New("api")), CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")

	w := api.Group("/water")
	w.GET("/members", waterHandler.ListMembers)
	w.PUT("/members/:id", waterHandler.PutMember)
	w.POST("/reminders", waterHandler.SetReminders)
	w.POST("/members/:id/ack", waterHandler.Acknowledge)
	w.GET("/members/:id/today", waterHandler.Today)

	cook := api.Group("/cooking")
	cook.GET("/state", cookingHandler.GetState)
	cook.POST("/recipe", cookingHandler.SetRecipe)
	cook.POST("/start", cookingHandler.Start)
	cook.POST("/stop", cookingHandler.Stop)
	cook.POST("/finish", cookingHandler.Finish)
	cook.POST("/restore", cookingHandler.Restore)

	return engine
}
