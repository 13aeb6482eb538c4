package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"boligmarked/market/internal/api/middleware"
	"boligmarked/market/internal/events"
	"boligmarked/market/internal/models"
)

// EventsHandler streams change notifications as server-sent events.
// Open streams end when the request or ctx ends.
type EventsHandler struct {
	ctx       context.Context
	bus       *events.Bus
	heartbeat time.Duration
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(ctx context.Context, bus *events.Bus, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &EventsHandler{ctx: ctx, bus: bus, heartbeat: heartbeat}
}

// eventView is what clients receive. Payloads stay server side; clients
// re-read what changed.
type eventView struct {
	Type     events.EventType `json:"type"`
	Entity   string           `json:"entity,omitempty"`
	EntityID string           `json:"entityId,omitempty"`
	At       time.Time        `json:"at"`
}

// visibleID returns ev.EntityID when the caller may read that entity, else "".
// Clients without the id still learn that something of that kind changed.
func visibleID(ev events.Event, userID string, role models.Role) string {
	if role == models.RoleAdmin || ev.EntityID == "" {
		return ev.EntityID
	}
	var owners []string
	switch p := ev.Payload.(type) {
	case models.Case:
		if role == models.RoleAgent {
			return ev.EntityID
		}
		owners = []string{p.SellerID}
	case *models.Case:
		if role == models.RoleAgent {
			return ev.EntityID
		}
		owners = []string{p.SellerID}
	case models.Offer:
		owners = []string{p.AgentID}
	case *models.Offer:
		owners = []string{p.AgentID}
	case models.Message:
		owners = []string{p.FromUserID, p.ToUserID}
	case *models.Message:
		owners = []string{p.FromUserID, p.ToUserID}
	case models.ShowingRegistration:
		owners = []string{p.AgentID}
	case *models.ShowingRegistration:
		owners = []string{p.AgentID}
	default:
		if ev.Entity == "user" {
			owners = []string{ev.EntityID}
		}
	}
	for _, id := range owners {
		if id != "" && id == userID {
			return ev.EntityID
		}
	}
	return ""
}

// Stream handles GET /v1/events
func (h *EventsHandler) Stream(c *gin.Context) {
	userID, role := middleware.UserID(c), middleware.Role(c)
	sub := h.bus.Subscribe()
	defer sub.Close()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Flush headers so clients see the stream open.
	c.SSEvent("ready", gin.H{"at": time.Now().UTC()})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-h.ctx.Done():
			return false
		case ev, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), eventView{Type: ev.Type, Entity: ev.Entity, EntityID: visibleID(ev, userID, role), At: ev.At})
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Unix())
			return true
		}
	})
}
