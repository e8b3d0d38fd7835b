package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/microhost/internal/domain/bus"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

// PublishGlobal publishes on the channel every application sees
func (h *Handlers) PublishGlobal(c *gin.Context) {
	h.publish(c, h.manager.Events().Global())
}

// PublishApp publishes host data to one application
func (h *Handlers) PublishApp(c *gin.Context) {
	name := types.FormatAppName(c.Param("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid application name"})
		return
	}
	h.publish(c, h.manager.Events().Channel(name))
}

func (h *Handlers) publish(c *gin.Context, ch *bus.Channel) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Event == "" {
		req.Event = bus.DataEvent
	}

	ch.Publish(req.Event, req.Data)
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"channel":     ch.Name(),
		"event":       req.Event,
		"subscribers": ch.SubscriberCount(req.Event),
	})
}

// LastGlobal returns the stored payload of a global event
func (h *Handlers) LastGlobal(c *gin.Context) {
	h.last(c, h.manager.Events().Global())
}

// LastApp returns the stored payload of an application event
func (h *Handlers) LastApp(c *gin.Context) {
	ch, ok := h.manager.Events().Lookup(types.FormatAppName(c.Param("name")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	h.last(c, ch)
}

func (h *Handlers) last(c *gin.Context, ch *bus.Channel) {
	event := c.Param("event")
	data, ok := ch.Last(event)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no data", "event": event})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch.Name(), "event": event, "data": data})
}

// UnsubscribeGlobal removes every listener of a global event
func (h *Handlers) UnsubscribeGlobal(c *gin.Context) {
	h.unsubscribeAll(c, h.manager.Events().Global())
}

// UnsubscribeApp removes every listener of an application event
func (h *Handlers) UnsubscribeApp(c *gin.Context) {
	ch, ok := h.manager.Events().Lookup(types.FormatAppName(c.Param("name")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	h.unsubscribeAll(c, ch)
}

func (h *Handlers) unsubscribeAll(c *gin.Context, ch *bus.Channel) {
	event := c.Param("event")
	c.JSON(http.StatusOK, gin.H{
		"channel": ch.Name(),
		"event":   event,
		"removed": ch.UnsubscribeAll(event),
	})
}
