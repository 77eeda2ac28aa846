package handlers

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/ambisense/pkg/link"
)

const heartbeatInterval = 30 * time.Second

// EventsHandler streams link events as Server-Sent Events
type EventsHandler struct {
	links Links
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(links Links) *EventsHandler {
	return &EventsHandler{links: links}
}

// Events handles GET /events (SSE stream)
// @Summary      Subscribe to events of every link
// @Description  Server-Sent Events stream of settings, sync state, distance and link add/remove events
// @Tags         events
// @Produce      text/event-stream
// @Success      200  {string}  string  "SSE event stream"
// @Router       /events [get]
func (h *EventsHandler) Events(c *gin.Context) {
	h.stream(c, "")
}

// LinkEvents handles GET /links/:id/events (SSE stream)
// @Summary      Subscribe to events of one link
// @Description  Server-Sent Events stream of settings, sync state and distance events of the link
// @Tags         events
// @Produce      text/event-stream
// @Param        id   path      string  true  "Link ID"
// @Success      200  {string}  string  "SSE event stream"
// @Failure      404  {object}  types.ErrorResponse  "Link not found"
// @Router       /links/{id}/events [get]
func (h *EventsHandler) LinkEvents(c *gin.Context) {
	s, err := h.links.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	h.stream(c, s.Link().ID)
}

// stream forwards events until the client goes away. An empty linkID
// forwards every link.
func (h *EventsHandler) stream(c *gin.Context, linkID string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	eventChan := h.links.Subscribe()
	defer h.links.Unsubscribe(eventChan)

	sendSSEEvent(c.Writer, "connected", map[string]any{
		"timestamp": time.Now(),
		"link_id":   linkID,
	})
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if linkID != "" && event.LinkID != linkID {
				continue
			}
			sendSSEEvent(c.Writer, string(event.Type), eventPayload(event))
			c.Writer.Flush()

		case <-ticker.C:
			sendSSEEvent(c.Writer, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})
			c.Writer.Flush()
		}
	}
}

func eventPayload(ev link.Event) map[string]any {
	data := map[string]any{
		"type":      ev.Type,
		"link_id":   ev.LinkID,
		"state":     ev.State,
		"timestamp": ev.Timestamp,
	}
	switch ev.Type {
	case link.EventSettingsChanged:
		data["settings"] = ev.Settings
	case link.EventDistance:
		if ev.Distance != nil {
			data["distance"] = *ev.Distance
		}
	}
	if ev.Error != "" {
		data["error"] = ev.Error
	}
	return data
}

// sendSSEEvent writes an SSE event to the response
func sendSSEEvent(w io.Writer, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: "+string(jsonData)+"\n\n")
}
