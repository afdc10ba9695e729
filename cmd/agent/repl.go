package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/peterh/liner"

	"github.com/petasbytes/market-agent/internal/fsops"
	"github.com/petasbytes/market-agent/internal/provider"
	"github.com/petasbytes/market-agent/internal/safety"
)

const helpText = `Commands:
  /help        Show this help message
  /reset       Reset conversation history
  /tools       List available tools
  /verbose     Toggle verbose mode (show tool activity)
  /clear       Clear knowledge base
  /add [text]  Add text to knowledge base ("quoted", @file, or multi-line)
  /stats       Show session statistics
  /quit        Exit the application
`

var errInterrupted = errors.New("interrupted")

// lineReader is the REPL input. ReadLine returns io.EOF at end of input and
// errInterrupted when the user aborts the prompt.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// linerReader edits lines in a terminal and keeps a history file.
type linerReader struct {
	st          *liner.State
	historyPath string
}

func newLinerReader(historyPath string) *linerReader {
	st := liner.NewLiner()
	st.SetCtrlCAborts(true)
	if f, err := os.Open(historyPath); err == nil {
		_, _ = st.ReadHistory(f)
		f.Close()
	}
	return &linerReader{st: st, historyPath: historyPath}
}

func (r *linerReader) ReadLine(prompt string) (string, error) {
	line, err := r.st.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errInterrupted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		r.st.AppendHistory(line)
	}
	return line, nil
}

func (r *linerReader) Close() error {
	if err := os.MkdirAll(filepath.Dir(r.historyPath), 0o755); err == nil {
		if f, err := os.Create(r.historyPath); err == nil {
			_, _ = r.st.WriteHistory(f)
			f.Close()
		}
	}
	return r.st.Close()
}

// scanReader reads lines from a pipe or file. Lines are scanned on a
// goroutine so a cancelled context ends a blocked read.
type scanReader struct {
	ctx   context.Context
	w     io.Writer
	lines chan string
	err   error
}

func newScanReader(ctx context.Context, in io.Reader, w io.Writer) *scanReader {
	r := &scanReader{ctx: ctx, w: w, lines: make(chan string)}
	go func() {
		defer close(r.lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), fsops.MaxReadBytes)
		for sc.Scan() {
			select {
			case r.lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		r.err = sc.Err()
	}()
	return r
}

func (r *scanReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.w, prompt)
	select {
	case <-r.ctx.Done():
		return "", r.ctx.Err()
	case line, ok := <-r.lines:
		if !ok {
			if r.err != nil {
				return "", r.err
			}
			return "", io.EOF
		}
		return line, nil
	}
}

func (r *scanReader) Close() error { return nil }

// shell runs the interactive loop over one session.
type shell struct {
	app  *app
	in   lineReader
	out  *printer
	errp *printer
}

func (sh *shell) run(ctx context.Context) error {
	sh.out.line(titleStyle, "SL Market Agent - market analysis assistant")
	sh.out.printf("Model: %s (%s). Knowledge base: %d fragments.\n", sh.app.cfg.ModelName(), sh.app.cfg.Provider.Name, sh.app.session.Knowledge.Len())
	sh.out.printf("Type /help for available commands.\n\n")

	for {
		line, err := sh.in.ReadLine("You: ")
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, errInterrupted), ctx.Err() != nil:
			sh.out.printf("\nGoodbye!\n")
			return nil
		case err != nil:
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if sh.command(ctx, line) {
				sh.out.printf("Goodbye!\n")
				return nil
			}
			continue
		}
		sh.chat(ctx, line)
	}
}

// command runs a slash command and reports whether the loop should end.
func (sh *shell) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	s := sh.app.session

	switch strings.ToLower(name) {
	case "/quit", "/exit":
		return true
	case "/help":
		sh.out.printf("\n%s\n", helpText)
	case "/reset":
		if err := s.Reset(); err != nil {
			sh.errp.fail(fmt.Sprintf("reset: %v", err))
			break
		}
		sh.out.line(dimStyle, "Conversation history cleared.")
	case "/tools":
		sh.out.line(titleStyle, "Available tools:")
		for _, d := range sh.app.registry.List() {
			sh.out.printf("  %s: %s\n", d.Name, d.Description)
		}
		sh.out.printf("\n")
	case "/verbose":
		s.Verbose = !s.Verbose
		state := "disabled"
		if s.Verbose {
			state = "enabled"
		}
		sh.out.line(dimStyle, "Verbose mode "+state+".")
	case "/clear":
		if err := s.ClearKnowledge(); err != nil {
			sh.errp.fail(fmt.Sprintf("clear knowledge: %v", err))
			break
		}
		sh.out.line(dimStyle, "Knowledge base cleared.")
	case "/add":
		sh.add(ctx, arg)
	case "/stats":
		sh.stats()
	default:
		sh.errp.fail("Unknown command: " + line)
		sh.out.printf("%s\n", helpText)
	}
	return false
}

func (sh *shell) add(ctx context.Context, arg string) {
	text, source := unquote(arg), "user"
	switch {
	case strings.HasPrefix(arg, "@"):
		path := strings.TrimPrefix(arg, "@")
		content, err := fsops.ReadFile(path)
		if err != nil {
			var te safety.ToolError
			if errors.As(err, &te) {
				err = errors.New(te.Message)
			}
			sh.errp.fail(fmt.Sprintf("read %s: %v", path, err))
			return
		}
		text, source = content, path
	case arg == "":
		sh.out.printf("Enter text to add to knowledge base (press Enter twice when done):\n")
		var lines []string
		for {
			l, err := sh.in.ReadLine("")
			if err != nil || strings.TrimSpace(l) == "" {
				break
			}
			lines = append(lines, l)
		}
		text = strings.Join(lines, "\n")
	}
	if strings.TrimSpace(text) == "" {
		sh.out.line(dimStyle, "Nothing to add.")
		return
	}
	if _, err := sh.app.session.AddKnowledge(ctx, source, text); err != nil {
		sh.errp.fail(fmt.Sprintf("add knowledge: %v", err))
		return
	}
	sh.out.line(dimStyle, fmt.Sprintf("Added 1 document to knowledge base (%d total).", sh.app.session.Knowledge.Len()))
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first != last || (first != '"' && first != '\'') {
		return s
	}
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s[1 : len(s)-1]
}

func (sh *shell) chat(ctx context.Context, input string) {
	reply, err := sh.app.runner.Chat(ctx, sh.app.session, input)
	switch {
	case ctx.Err() != nil:
		return
	case errors.Is(err, provider.ErrLLMUnavailable):
		sh.errp.fail("the language model is unavailable right now. Please try again in a moment.")
		sh.app.log.Debug("turn aborted", "err", err)
		return
	case err != nil:
		sh.errp.fail(err.Error())
		return
	}
	for _, w := range reply.Warnings {
		sh.errp.warn(w)
	}
	sh.out.answer(reply.Text)
}

func (sh *shell) stats() {
	st := sh.app.session.Stats()
	u := st.Usage
	tw := tabwriter.NewWriter(sh.out.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Session\t%s\n", st.SessionID)
	fmt.Fprintf(tw, "History\t%d/%d turns\n", st.HistoryTurns, st.MaxTurns)
	fmt.Fprintf(tw, "Knowledge\t%d fragments (%s)\n", st.Fragments, st.EmbeddingModel)
	fmt.Fprintf(tw, "Turns\t%d (failed %d, forced final %d)\n", u.Turns, u.FailedTurns, u.ForcedFinals)
	fmt.Fprintf(tw, "LLM calls\t%d (%d attempts, %s)\n", u.LLMCalls, u.LLMAttempts, u.LLMTime.Round(time.Millisecond))
	fmt.Fprintf(tw, "Tokens\t%d in, %d out\n", u.InputTokens, u.OutputTokens)

	names := make([]string, 0, len(u.ToolCalls))
	for n := range u.ToolCalls {
		names = append(names, n)
	}
	sort.Strings(names)
	calls := make([]string, len(names))
	for i, n := range names {
		calls[i] = fmt.Sprintf("%s=%d", n, u.ToolCalls[n])
	}
	if len(calls) == 0 {
		calls = []string{"none"}
	}
	fmt.Fprintf(tw, "Tools\t%s (errors %d)\n", strings.Join(calls, " "), u.ToolErrors)
	tw.Flush()
}
