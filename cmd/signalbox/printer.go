package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/zulandar/signalbox/internal/wire"
	"golang.org/x/term"
)

// eventPrinter renders outbound events for a terminal. Consecutive
// MESSAGE_STREAM chunks from one source are joined on a single line.
type eventPrinter struct {
	out    io.Writer
	labels map[wire.ContentType]lipgloss.Style
	source lipgloss.Style
	body   lipgloss.Style

	streaming string // source of the open stream line
}

func newEventPrinter(out io.Writer) *eventPrinter {
	r := lipgloss.NewRenderer(out)
	p := &eventPrinter{
		out: out,
		labels: map[wire.ContentType]lipgloss.Style{
			wire.System:        r.NewStyle().Foreground(lipgloss.Color("8")),
			wire.Error:         r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
			wire.Info:          r.NewStyle().Foreground(lipgloss.Color("6")),
			wire.Message:       r.NewStyle().Foreground(lipgloss.Color("10")),
			wire.MessageStream: r.NewStyle().Foreground(lipgloss.Color("12")),
		},
		source: r.NewStyle().Bold(true),
		body:   r.NewStyle(),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			p.body = p.body.Width(width)
		}
	}
	return p
}

func (p *eventPrinter) print(ev wire.Event) {
	if ev.Type == wire.MessageStream {
		if p.streaming != ev.Source {
			p.closeStream()
			fmt.Fprintf(p.out, "%s %s: ", p.label(ev.Type), p.source.Render(ev.Source))
			p.streaming = ev.Source
		}
		fmt.Fprint(p.out, ev.Content)
		return
	}
	p.closeStream()

	switch ev.Type {
	case wire.Message:
		fmt.Fprintf(p.out, "%s %s:\n%s\n", p.label(ev.Type), p.source.Render(ev.Source), p.body.Render(ev.Content))
	case wire.Info:
		fmt.Fprintf(p.out, "%s %s: %s\n", p.label(ev.Type), p.source.Render(ev.Source), formatInfo(ev.Content))
	default:
		fmt.Fprintf(p.out, "%s %s: %s\n", p.label(ev.Type), p.source.Render(ev.Source), ev.Content)
	}
}

// flush terminates an open stream line.
func (p *eventPrinter) flush() {
	p.closeStream()
}

func (p *eventPrinter) closeStream() {
	if p.streaming != "" {
		fmt.Fprintln(p.out)
		p.streaming = ""
	}
}

func (p *eventPrinter) label(t wire.ContentType) string {
	return p.labels[t].Render("[" + string(t) + "]")
}

// formatInfo summarises a usage INFO payload; anything else is returned as is.
func formatInfo(content string) string {
	var u wire.UsageInfo
	if err := json.Unmarshal([]byte(content), &u); err != nil || (u.InputTokens == 0 && u.OutputTokens == 0) {
		return content
	}
	return fmt.Sprintf("%s in, %s out, %s",
		formatTokenCount(u.InputTokens),
		formatTokenCount(u.OutputTokens),
		formatCost(u.Cost),
	)
}
