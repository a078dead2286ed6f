package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strconv"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	ctx       context.Context
	o         *orch.Orchestrator
	stringIDs bool
	limiter   *RateLimiter
}

type JoinRequest struct {
	Room string `json:"room" binding:"required"`
	Name string `json:"name" binding:"required"`
}

type MuteRequest struct {
	Kind    domain.TrackKind `json:"kind" binding:"required"`
	Enabled *bool            `json:"enabled" binding:"required"`
}

type ScreenRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type DevicesRequest struct {
	AudioDeviceID string `json:"audio_device_id"`
	VideoDeviceID string `json:"video_device_id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

func (h *handlers) limit(c *gin.Context) {
	if !h.limiter.Allow(c.GetString(tokenKey)) {
		c.AbortWithStatusJSON(nethttp.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
		return
	}
	c.Next()
}

func (h *handlers) roomID(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(nethttp.StatusBadRequest, ErrorResponse{Error: "missing name"})
		return
	}
	id := domain.ResolveRoomID(domain.RoomName(name))
	c.JSON(nethttp.StatusOK, gin.H{"name": name, "room": id.Wire(h.stringIDs)})
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(nethttp.StatusOK, h.o.Status())
}

func (h *handlers) feeds(c *gin.Context) {
	c.JSON(nethttp.StatusOK, h.o.Feeds.Snapshot())
}

func (h *handlers) rooms(c *gin.Context) {
	rooms, err := h.o.Rooms(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, rooms)
}

func (h *handlers) participants(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("room"), 10, 32)
	if err != nil {
		c.JSON(nethttp.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}
	list, err := h.o.Participants(c.Request.Context(), domain.RoomID(id))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, list)
}

func (h *handlers) devices(c *gin.Context) {
	list, err := h.o.Devices(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, list)
}

func (h *handlers) join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, ErrorResponse{Error: "missing or invalid room/name"})
		return
	}
	info, err := h.o.Join(h.ctx, req.Room, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").
		Str("client", c.GetString(tokenKey)).
		Str("room", info.Room.String()).
		Msg("joined")
	c.JSON(nethttp.StatusOK, info)
}

func (h *handlers) resume(c *gin.Context) {
	info, err := h.o.Resume(h.ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, info)
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.o.Leave(h.ctx); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(nethttp.StatusNoContent)
}

func (h *handlers) reset(c *gin.Context) {
	if err := h.o.Reset(h.ctx); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(nethttp.StatusNoContent)
}

func (h *handlers) mute(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, ErrorResponse{Error: "missing or invalid kind/enabled"})
		return
	}
	if err := h.o.SetMute(req.Kind, *req.Enabled); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(nethttp.StatusNoContent)
}

func (h *handlers) screen(c *gin.Context) {
	var req ScreenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, ErrorResponse{Error: "missing enabled"})
		return
	}
	if !*req.Enabled {
		if err := h.o.StopScreenShare(h.ctx); err != nil {
			h.fail(c, err)
			return
		}
		c.Status(nethttp.StatusNoContent)
		return
	}
	id, err := h.o.StartScreenShare(h.ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"feed": id})
}

func (h *handlers) replaceDevices(c *gin.Context) {
	var req DevicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, ErrorResponse{Error: "invalid device request"})
		return
	}
	settings, err := h.o.ReplaceDevices(h.ctx, req.AudioDeviceID, req.VideoDeviceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, settings)
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= nethttp.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: gateway.Code(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNameTooShort),
		errors.Is(err, domain.ErrNameTooLong),
		errors.Is(err, orch.ErrUnknownKind):
		return nethttp.StatusBadRequest
	case errors.Is(err, orch.ErrNothingToResume):
		return nethttp.StatusNotFound
	case errors.Is(err, app.ErrAlreadyJoined),
		errors.Is(err, app.ErrNotJoined),
		errors.Is(err, app.ErrScreenActive),
		errors.Is(err, app.ErrScreenInactive),
		errors.Is(err, app.ErrNoLocalStream):
		return nethttp.StatusConflict
	case errors.Is(err, gateway.ErrTransportUnsupported),
		errors.Is(err, gateway.ErrSessionTerminated):
		return nethttp.StatusServiceUnavailable
	case gateway.Code(err) != 0:
		return nethttp.StatusBadGateway
	}
	return nethttp.StatusInternalServerError
}
