package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/wire"
)

const defaultURL = "ws://localhost:8000/ws"

func newWatchCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream every event broadcast by a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, url)
		},
	}

	cmd.Flags().StringVar(&url, "url", defaultURL, "WebSocket endpoint of the server")
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, url string) error {
	conn, err := dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	p := newEventPrinter(cmd.OutOrStdout())
	defer p.flush()
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s\n", url)
	err = readEvents(conn, p, cmd.ErrOrStderr(), func(wire.Event) bool { return false })
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// dial opens a client connection to a Signalbox /ws endpoint.
func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// readEvents prints frames until done reports true or the connection fails.
// Undecodable frames are reported and skipped.
func readEvents(conn *websocket.Conn, p *eventPrinter, errOut io.Writer, done func(wire.Event) bool) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		ev, err := wire.DecodeEvent(string(data))
		if err != nil {
			fmt.Fprintf(errOut, "skipping frame: %v\n", err)
			continue
		}
		p.print(ev)
		if done(ev) {
			return nil
		}
	}
}
