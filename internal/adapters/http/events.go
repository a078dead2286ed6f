package http

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// events streams hub events as server-sent events. The first event is the
// current state so a client can render before anything changes.
func (h *handlers) events(c *gin.Context) {
	sub := h.o.Hub.Subscribe()
	defer sub.Close()

	client := c.GetString(tokenKey)
	log.Debug().Str("module", "adapters.http").Str("client", client).Msg("event stream opened")
	defer log.Debug().Str("module", "adapters.http").Str("client", client).Msg("event stream closed")

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", h.o.Status())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-h.ctx.Done():
			return false
		}
	})
}
