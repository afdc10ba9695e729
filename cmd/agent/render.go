package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	agentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printer writes to one stream. Unless plain, text is styled and answers
// are rendered as markdown.
type printer struct {
	w     io.Writer
	plain bool
	md    *glamour.TermRenderer
}

func newPrinter(w io.Writer, plain bool) *printer {
	p := &printer{w: w, plain: plain || !isTerminal(w)}
	if p.plain {
		return p
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
	if err == nil {
		p.md = r
	}
	return p
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if p.plain {
		return text
	}
	return s.Render(text)
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) line(s lipgloss.Style, text string) {
	fmt.Fprintln(p.w, p.style(s, text))
}

func (p *printer) warn(text string) { p.line(warnStyle, "warning: "+text) }
func (p *printer) fail(text string) { p.line(errorStyle, "Error: "+text) }

// answer prints a model answer, falling back to plain text when markdown
// rendering fails.
func (p *printer) answer(text string) {
	if p.md != nil {
		if out, err := p.md.Render(text); err == nil {
			p.line(agentStyle, "Agent:")
			fmt.Fprint(p.w, out)
			return
		}
	}
	fmt.Fprintf(p.w, "%s %s\n\n", p.style(agentStyle, "Agent:"), strings.TrimSpace(text))
}
