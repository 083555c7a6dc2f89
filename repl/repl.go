// Package repl renders conversation transcripts for terminal output.
package repl

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/durableswarm/durableswarm/model"
)

var (
	senderColor = color.New(color.FgBlue, color.Bold)
	toolColor   = color.New(color.FgMagenta)
)

// PrintMessages writes the assistant-visible parts of a transcript to w:
// assistant turns with their sender highlighted, tool calls with their
// arguments. User and raw tool-result messages are skipped, matching the
// interactive demo output.
func PrintMessages(w io.Writer, msgs []model.Message) {
	for _, m := range msgs {
		if m.Role != model.RoleAssistant {
			continue
		}
		sender := m.Sender
		if sender == "" {
			sender = "Assistant"
		}
		if m.Content != "" {
			senderColor.Fprintf(w, "%s:", sender)
			fmt.Fprintf(w, " %s\n", m.Content)
		}
		for _, call := range m.ToolCalls {
			args := call.Arguments
			if args == "" || args == "{}" {
				args = ""
			}
			toolColor.Fprintf(w, "%s", call.Name)
			fmt.Fprintf(w, "(%s)\n", args)
		}
	}
}
