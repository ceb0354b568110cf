package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/zulandar/switchboard/internal/hub"
)

// CommandSink runs a shell command template for each alert, e.g.
//
//	notify-send 'Switchboard' '{{.Agent}}: {{.Body}}'
//
// Placeholders: {{.Agent}}, {{.Body}}, {{.Type}}, {{.Thread}}. It serves
// both as an announcement Sink and as the hub's offline dispatcher.
type CommandSink struct {
	Command string
}

// Emit runs the templated command and waits for it.
func (s CommandSink) Emit(ctx context.Context, a Announcement) error {
	return s.run(ctx, strings.NewReplacer(
		"{{.Agent}}", shellQuote(a.Agent),
		"{{.Body}}", shellQuote(a.Body),
		"{{.Type}}", shellQuote(a.Type),
		"{{.Thread}}", shellQuote(a.ThreadID),
	))
}

// Dispatch implements hub.OfflineDispatcher. The notification title fills
// the {{.Agent}} slot so one template serves both paths.
func (s CommandSink) Dispatch(ctx context.Context, n hub.Notification) error {
	return s.run(ctx, strings.NewReplacer(
		"{{.Agent}}", shellQuote(n.Title),
		"{{.Body}}", shellQuote(n.Body),
		"{{.Type}}", shellQuote("notification"),
		"{{.Thread}}", shellQuote(n.DeepLink),
	))
}

func (s CommandSink) run(ctx context.Context, r *strings.Replacer) error {
	if s.Command == "" {
		return fmt.Errorf("notify: command sink has no command")
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", r.Replace(s.Command))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify: command failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// shellQuote neutralizes single quotes in interpolated values. Templates
// are expected to wrap placeholders in single quotes.
func shellQuote(s string) string {
	return strings.ReplaceAll(s, "'", "'\\''")
}
