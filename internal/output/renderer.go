// Package output prints classified events to a terminal or a pipe.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/model"
)

// Renderer writes events to an output stream.
type Renderer interface {
	Render(ev model.Event) error
}

// New returns the renderer for format: "text", "json", or "none".
func New(format string, w io.Writer) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return NewTextRenderer(w), nil
	case "json":
		return NewJSONRenderer(w), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

var (
	styleNormal  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleUnknown = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleAttack  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleBlocked = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("196")).
			Bold(true)
	styleAllowed = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleAddr    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true)
)

// TextRenderer prints one colorized line per event.
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer returns a TextRenderer writing to w.
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) Render(ev model.Event) error {
	req := ev.Request
	parts := []string{
		req.Timestamp.Format("15:04:05"),
		styleClass(ev.Verdict.Classification),
		styleAddr.Render(fmt.Sprintf("%-15s", req.ClientAddr)),
		fmt.Sprintf("%-6s %3d", req.Method, req.Status),
		ev.URL,
	}
	if ev.Blocked {
		tag := "BLOCKED"
		if len(ev.Fragments) > 0 && ev.Fragments[0].RuleID != "unknown" {
			tag += " " + ev.Fragments[0].RuleID
		}
		parts = append(parts, styleBlocked.Render(tag))
	}
	if ev.Whitelisted {
		parts = append(parts, styleAllowed.Render("whitelisted"))
	}
	_, err := fmt.Fprintln(r.w, strings.Join(parts, " "))
	return err
}

func styleClass(class string) string {
	padded := fmt.Sprintf("%-8s", class)
	switch class {
	case model.ClassNormal:
		return styleNormal.Render(padded)
	case model.ClassUnknown, "":
		return styleUnknown.Render(padded)
	default:
		return styleAttack.Render(padded)
	}
}

// JSONRenderer prints each event as a single JSON object per line.
type JSONRenderer struct {
	enc *json.Encoder
}

// NewJSONRenderer returns a JSONRenderer writing to w.
func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

func (r *JSONRenderer) Render(ev model.Event) error {
	return r.enc.Encode(ev)
}

// attacksOnly forwards events that matched a signature or were blocked.
type attacksOnly struct {
	next Renderer
}

// AttacksOnly wraps r so benign, unblocked requests are skipped.
func AttacksOnly(r Renderer) Renderer {
	return attacksOnly{next: r}
}

func (a attacksOnly) Render(ev model.Event) error {
	if !ev.Verdict.Attack() && !ev.Blocked {
		return nil
	}
	return a.next.Render(ev)
}

// Run renders events until ctx is cancelled or the channel closes.
func Run(ctx context.Context, events <-chan model.Event, r Renderer, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.Render(ev); err != nil {
				logger.Warn("render failed", zap.String("event", ev.ID), zap.Error(err))
			}
		}
	}
}
