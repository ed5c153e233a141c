package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/junction/internal/models"
)

// Poll intervals for the session event stream. Variables so tests can
// shorten them.
var (
	eventPoll      = time.Second
	eventHeartbeat = 15 * time.Second
)

// statusEvent is sent whenever a watched session changes state or count.
type statusEvent struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Expected  int    `json:"expected"`
}

// events streams a session's progress until it is integrated, then sends
// the report and closes.
func (h *handlers) events(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	s, err := h.o.Session(ctx, id)
	if err != nil {
		h.lookupFailed(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	var last statusEvent
	ticker := time.NewTicker(eventPoll)
	heartbeat := time.NewTicker(eventHeartbeat)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		evt := statusEvent{
			SessionID: s.ID,
			Status:    s.Status,
			Completed: s.CompletedCount,
			Failed:    s.FailedCount,
			Expected:  s.ExpectedTaskCount,
		}
		if evt != last {
			writeSSE(c.Writer, "status", evt)
			c.Writer.Flush()
			last = evt
		}
		if s.Status == models.SessionIntegrated || s.Status == models.SessionArchived {
			if rep, err := h.o.Report(ctx, id); err == nil {
				writeSSE(c.Writer, "report", rep)
			}
			writeSSE(c.Writer, "done", map[string]string{"session_id": id})
			c.Writer.Flush()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
			continue
		case <-ticker.C:
		}

		if s, err = h.o.Session(ctx, id); err != nil {
			writeSSE(c.Writer, "error", map[string]string{"error": err.Error()})
			c.Writer.Flush()
			return
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
