package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aristath/bdencode/internal/persistence"
)

func (h *Handler) journal(c *gin.Context) (History, bool) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run journal is disabled"})
		return nil, false
	}
	return h.history, true
}

func (h *Handler) handleListRuns(c *gin.Context) {
	history, ok := h.journal(c)
	if !ok {
		return
	}
	filter := persistence.RunFilter{
		Episode: c.Query("episode"),
		Kind:    c.Query("kind"),
		Limit:   50,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	runs, err := history.ListRuns(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]RunView, 0, len(runs))
	for _, r := range runs {
		out = append(out, runView(r))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) handleGetRun(c *gin.Context) {
	history, ok := h.journal(c)
	if !ok {
		return
	}
	id := c.Param("id")
	run, err := history.GetRun(c.Request.Context(), id)
	if errors.Is(err, persistence.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tail, _ := strconv.Atoi(c.Query("tail"))
	lines, err := history.Output(c.Request.Context(), id, tail)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": runView(run), "output": lines})
}
