// Package api exposes the scheduler over HTTP.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/aristath/bdencode/internal/events"
)

// SetupRouter builds the engine. authKey empty disables authentication; bus
// nil disables the event stream.
func SetupRouter(h *Handler, bus *events.Bus, authKey string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(authKey))
	{
		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:episode/:kind", h.handleGetTask)
		v1.POST("/tasks/:episode/:kind/start", h.handleStartTask)
		v1.POST("/tasks/:episode/:kind/stop", h.handleStopTask)
		v1.POST("/tasks/:episode/:kind/pause", h.control(h.sched.Controller().Pause))
		v1.POST("/tasks/:episode/:kind/resume", h.control(h.sched.Controller().Resume))

		v1.GET("/progress", h.handleProgress)
		v1.GET("/run", h.handleRunState)
		v1.POST("/run", h.handleRun)
		v1.POST("/stop", h.handleStopAll)
		v1.POST("/pause", h.broadcast(h.sched.PauseAll))
		v1.POST("/resume", h.broadcast(h.sched.ResumeAll))

		v1.GET("/params", h.handleGetGlobalParams)
		v1.PUT("/params", h.handleSetGlobalParams)
		v1.GET("/params/:episode", h.handleGetEpisodeParams)
		v1.PUT("/params/:episode", h.handleSetEpisodeParams)
		v1.DELETE("/params/:episode", h.handleResetEpisodeParams)

		v1.GET("/runs", h.handleListRuns)
		v1.GET("/runs/:id", h.handleGetRun)

		if bus != nil {
			v1.GET("/events", h.handleEvents(bus))
		}
	}
	return r
}
