package server

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// events streams every wire event as Server-Sent Events for read-only
// clients. Each data line is the encoded source[$]type[$]content frame.
func (h *handlers) events(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := h.opts.Hub.Subscribe()
	defer h.opts.Hub.Unregister(sub)

	writeSSE(c.Writer, "connected", "connected")
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(h.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", time.Now().UTC().Format(time.RFC3339))
			c.Writer.Flush()
		case data, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSE(c.Writer, "message", string(data))
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event, one data line per line of data.
func writeSSE(w io.Writer, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	io.WriteString(w, "\n")
}
