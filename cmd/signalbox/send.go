package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/wire"
)

var errTimeout = errors.New("timed out waiting for end event")

func newSendCmd() *cobra.Command {
	var (
		url     string
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <topic> <id> <content>",
		Short: "Send one message and print the events it produces",
		Long: `Sends topic[$]id[$]content to a running server.

With --wait (the default) events are printed until the server's end event.
Use an empty id for the task topic:

  signalbox send conversation 'product_manager|1a2b3c4d' 'Draft a login spec'
  signalbox send task '' 'Add a health endpoint'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := wire.Inbound{Topic: wire.Topic(args[0]), ID: args[1], Content: args[2]}
			return runSend(cmd.Context(), cmd, url, msg, wait, timeout)
		},
	}

	cmd.Flags().StringVar(&url, "url", defaultURL, "WebSocket endpoint of the server")
	cmd.Flags().BoolVar(&wait, "wait", true, "print events until the end event")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "maximum time to wait for the end event")
	return cmd
}

func runSend(ctx context.Context, cmd *cobra.Command, url string, msg wire.Inbound, wait bool, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.String())); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if !wait {
		return conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	p := newEventPrinter(cmd.OutOrStdout())
	defer p.flush()
	err = readEvents(conn, p, cmd.ErrOrStderr(), isEnd)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errTimeout
	}
	return err
}

// isEnd reports whether ev closes the handling of a message. A malformed
// message is answered by a RUNTIME error and no end event.
func isEnd(ev wire.Event) bool {
	if ev.Source != wire.SourceRuntime {
		return false
	}
	switch ev.Type {
	case wire.System:
		return ev.Content == "end"
	case wire.Error:
		return strings.HasPrefix(ev.Content, "Error processing message")
	}
	return false
}
