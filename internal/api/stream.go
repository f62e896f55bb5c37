package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/aristath/bdencode/internal/events"
)

// handleEvents streams bus events as server-sent events until the client
// disconnects or the bus closes.
func (h *Handler) handleEvents(bus *events.Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := bus.SubscribeAll(events.DefaultBuffer)
		defer bus.Unsubscribe(sub)

		c.Stream(func(w io.Writer) bool {
			select {
			case <-c.Request.Context().Done():
				return false
			case ev, ok := <-sub:
				if !ok {
					return false
				}
				c.SSEvent(ev.EventType(), ev)
				return true
			}
		})
	}
}
