package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petasbytes/market-agent/internal/fsops"
	"github.com/petasbytes/market-agent/internal/provider"
	"github.com/petasbytes/market-agent/knowledge"
)

type globalFlags struct {
	configFile string
	envFile    string
	verbose    bool
	plain      bool
	seed       bool
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "agent",
		Short: "Sri Lankan market intelligence assistant",
		Long: `agent - a conversational assistant for Sri Lankan market and economic questions.

The assistant answers with an LLM (Groq by default) that can use three tools:
  calculator        evaluate arithmetic expressions
  web_scraper       fetch a web page and extract its text
  search_knowledge  search the local knowledge base

Configuration is read from agent.toml and .env in the working directory,
then from the environment (GROQ_API_KEY, AGT_PROVIDER, ...).

Examples:
  # Start an interactive session with the default facts loaded
  agent --seed

  # Ask a single question
  agent ask "What is 15% of LKR 250,000?"

  # Manage the knowledge base
  agent kb add "Tea exports reached USD 1.3 billion in 2023."
  agent kb search "tea exports"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, g)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "config file (default ./agent.toml when present)")
	pf.StringVar(&g.envFile, "env-file", "", "dotenv file (default ./.env when present)")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging and tool activity")
	pf.BoolVar(&g.plain, "plain", false, "print answers without markdown rendering or colour")
	pf.BoolVar(&g.seed, "seed", false, "load the built-in market facts into an empty knowledge base")

	root.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Start an interactive session (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runChat(cmd, g)
			},
		},
		newAskCmd(g),
		newToolsCmd(g),
		newKBCmd(g),
		newConfigCmd(g),
	)
	return root
}

func runChat(cmd *cobra.Command, g *globalFlags) error {
	ctx := cmd.Context()
	out := newPrinter(cmd.OutOrStdout(), g.plain)
	errp := newPrinter(cmd.ErrOrStderr(), g.plain)

	a, err := newApp(ctx, g, errp, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.session.Verbose = g.verbose
	a.session.Trace = out.w

	in := cmd.InOrStdin()
	var lr lineReader
	if isTerminal(in) {
		lr = newLinerReader(filepath.Join(a.cfg.Storage.DataDir, "repl_history"))
	} else {
		lr = newScanReader(ctx, in, out.w)
	}
	defer lr.Close()

	sh := &shell{app: a, in: lr, out: out, errp: errp}
	return sh.run(ctx)
}

func newAskCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(cmd.OutOrStdout(), g.plain)
			errp := newPrinter(cmd.ErrOrStderr(), g.plain)
			a, err := newApp(cmd.Context(), g, errp, true)
			if err != nil {
				return err
			}
			defer a.Close()
			a.session.Verbose = g.verbose
			a.session.Trace = errp.w

			reply, err := a.runner.Chat(cmd.Context(), a.session, strings.Join(args, " "))
			if errors.Is(err, provider.ErrLLMUnavailable) {
				return fmt.Errorf("the language model is unavailable: %w", err)
			}
			if err != nil {
				return err
			}
			for _, w := range reply.Warnings {
				errp.warn(w)
			}
			out.answer(reply.Text)
			return nil
		},
	}
}

func newToolsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools the assistant can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(cmd.OutOrStdout(), g.plain)
			a, err := newApp(cmd.Context(), g, newPrinter(cmd.ErrOrStderr(), g.plain), false)
			if err != nil {
				return err
			}
			defer a.Close()
			for _, d := range a.registry.List() {
				out.printf("%s\n", out.style(titleStyle, d.Name))
				out.printf("  %s\n", d.Description)
			}
			return nil
		},
	}
}

func newKBCmd(g *globalFlags) *cobra.Command {
	kb := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}

	var files []string
	add := &cobra.Command{
		Use:   "add [text...]",
		Short: "Add each argument (and each --file) as one document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(files) == 0 {
				return errors.New("nothing to add: pass text or --file")
			}
			out := newPrinter(cmd.OutOrStdout(), g.plain)
			a, err := newApp(cmd.Context(), g, newPrinter(cmd.ErrOrStderr(), g.plain), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) > 0 {
				if _, err := a.session.AddKnowledge(cmd.Context(), "cli", args...); err != nil {
					return err
				}
			}
			for _, f := range files {
				text, err := fsops.ReadFile(f)
				if err != nil {
					return fmt.Errorf("read %s: %w", f, err)
				}
				if _, err := a.session.AddKnowledge(cmd.Context(), f, text); err != nil {
					return fmt.Errorf("add %s: %w", f, err)
				}
			}
			out.printf("Added %d document(s). The knowledge base holds %d.\n", len(args)+len(files), a.session.Knowledge.Len())
			return nil
		},
	}
	add.Flags().StringSliceVarP(&files, "file", "f", nil, "text file to add, relative to the working directory (repeatable)")

	var k int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the fragments most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(cmd.OutOrStdout(), g.plain)
			a, err := newApp(cmd.Context(), g, newPrinter(cmd.ErrOrStderr(), g.plain), false)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.session.Knowledge.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				out.printf("No relevant information found in knowledge base.\n")
				return nil
			}
			printResults(out, results)
			return nil
		},
	}
	search.Flags().IntVarP(&k, "top", "k", 2, "number of fragments")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every fragment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), g, newPrinter(cmd.ErrOrStderr(), g.plain), false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.session.ClearKnowledge(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Knowledge base cleared.")
			return nil
		},
	}

	kb.AddCommand(add, search, clearCmd)
	return kb
}

func printResults(out *printer, results []knowledge.Result) {
	for _, r := range results {
		out.printf("%s %s\n", out.style(titleStyle, fmt.Sprintf("[%d]", r.Rank)), out.style(dimStyle, fmt.Sprintf("score %.3f, %s", r.Score, r.Fragment.Source)))
		out.printf("  %s\n", r.Fragment.Text)
	}
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			errp := newPrinter(cmd.ErrOrStderr(), g.plain)
			cfg, warnings, err := loadConfig(g)
			if err != nil {
				return err
			}
			if err := cfg.Write(cmd.OutOrStdout()); err != nil {
				return err
			}
			more, verr := cfg.Validate()
			for _, w := range append(warnings, more...) {
				errp.warn(w)
			}
			if verr != nil {
				errp.warn(verr.Error())
			}
			return nil
		},
	}
}
