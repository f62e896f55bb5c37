package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aristath/bdencode/internal/params"
)

// ParamsView shows the effective sets for an episode and whether they come
// from an episode override.
type ParamsView struct {
	Episode  string      `json:"episode,omitempty"`
	Params   params.Pair `json:"params"`
	Override bool        `json:"override"`
}

func (h *Handler) handleGetGlobalParams(c *gin.Context) {
	c.JSON(http.StatusOK, ParamsView{Params: h.params.Global()})
}

func (h *Handler) handleSetGlobalParams(c *gin.Context) {
	var pair params.Pair
	if err := c.ShouldBindJSON(&pair); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.params.SetGlobal(false, pair.Normal); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.params.SetGlobal(true, pair.Hardsub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ParamsView{Params: h.params.Global()})
}

func (h *Handler) episodeParams(episode string) ParamsView {
	pair, ok := h.params.Episode(episode)
	if !ok {
		pair = h.params.Global()
	}
	return ParamsView{Episode: episode, Params: pair, Override: ok}
}

func (h *Handler) handleGetEpisodeParams(c *gin.Context) {
	c.JSON(http.StatusOK, h.episodeParams(c.Param("episode")))
}

func (h *Handler) handleSetEpisodeParams(c *gin.Context) {
	var pair params.Pair
	if err := c.ShouldBindJSON(&pair); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	episode := c.Param("episode")
	if _, err := h.params.SetEpisode(episode, pair); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.episodeParams(episode))
}

func (h *Handler) handleResetEpisodeParams(c *gin.Context) {
	episode := c.Param("episode")
	if err := h.params.ResetEpisode(episode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.episodeParams(episode))
}
