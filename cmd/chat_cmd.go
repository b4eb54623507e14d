package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatclone/internal/agent"
	"github.com/nextlevelbuilder/chatclone/internal/clone"
	"github.com/nextlevelbuilder/chatclone/internal/config"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
	"github.com/nextlevelbuilder/chatclone/internal/providers"
)

func chatCmd(root *rootOptions) *cobra.Command {
	var (
		message string
		topK    int
	)
	cmd := &cobra.Command{
		Use:   "chat <session>",
		Short: "Talk to the counterpart's clone",
		Long: `Answer messages in the counterpart's voice, using their tone guide and
looking up past conversations when needed.

Examples:
  chatclone chat wxid_abc                  # Interactive REPL
  chatclone chat wxid_abc -m "周末去哪"      # One-shot message

In the REPL, /query <keyword> searches memory, /tone prints the guide and
/exit quits. Config file edits are picked up without restarting.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(root, func(cmd *cobra.Command, a *app, args []string) error {
			if !cmd.Flags().Changed("top-k") && a.cfg.Agent.TopK > 0 {
				topK = a.cfg.Agent.TopK
			}
			session := args[0]
			out := cmd.OutOrStdout()

			if message != "" {
				reply, err := a.pipeline.Chat(cmd.Context(), session, message, topK)
				if err != nil {
					return chatError(err)
				}
				fmt.Fprintln(out, reply)
				return nil
			}

			r := &repl{session: session, topK: topK, in: cmd.InOrStdin(), out: out, errOut: cmd.ErrOrStderr()}
			r.current.Store(a.pipeline)
			stop := r.watchConfig(a)
			defer stop()
			return r.run(cmd.Context())
		}),
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "memory rows consulted per lookup")
	return cmd
}

type repl struct {
	session string
	topK    int
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	current atomic.Pointer[clone.Pipeline]
}

// watchConfig swaps in a pipeline built from the new config on every reload.
func (r *repl) watchConfig(a *app) func() {
	w, err := config.NewWatcher(a.cfgPath)
	if err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
		return func() {}
	}
	w.OnChange(func(cfg *config.Config) {
		old := r.current.Swap(newPipeline(cfg, a.metrics))
		if old != a.pipeline {
			old.Close()
		}
		fmt.Fprintln(r.errOut, dimStyle.Render("(config reloaded)"))
	})
	if err := w.Start(); err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
		return func() {}
	}
	return func() {
		w.Stop()
		if p := r.current.Load(); p != a.pipeline {
			p.Close()
		}
	}
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.errOut, "\n%s %s\n", titleStyle.Render("Chatting with clone of"), r.session)
	fmt.Fprintln(r.errOut, dimStyle.Render(`Type "/exit" to quit, "/help" for commands.`))

	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.errOut, "\nYou: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.errOut, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		reply, err := r.current.Load().Chat(ctx, r.session, line, r.topK)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(r.errOut, "Error: %v\n", chatError(err))
			continue
		}
		fmt.Fprintf(r.out, "%s %s\n", successStyle.Render("Clone:"), reply)
	}
}

// command runs a REPL slash command and reports whether to quit.
func (r *repl) command(ctx context.Context, line string) (bool, error) {
	words, err := shellwords.Parse(line)
	if err != nil {
		return false, err
	}
	p := r.current.Load()
	switch words[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.errOut, "/query <keyword>  search the counterpart's past messages")
		fmt.Fprintln(r.errOut, "/tone             print the tone guide")
		fmt.Fprintln(r.errOut, "/exit             quit")
		return false, nil
	case "/tone":
		g, err := p.GetToneGuide(ctx, r.session)
		if err != nil {
			return false, err
		}
		return false, writeGuide(r.out, formatText, g)
	case "/query":
		if len(words) < 2 {
			return false, errors.New("usage: /query <keyword>")
		}
		res, err := p.QueryMemory(ctx, r.session, strings.Join(words[1:], " "),
			clone.QueryOptions{TopK: r.topK, RoleFilter: normalize.RoleTarget})
		if err != nil {
			return false, err
		}
		return false, writeRows(r.out, res.Results)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", words[0])
	}
}

func chatError(err error) error {
	switch {
	case agent.IsBlocked(err):
		return fmt.Errorf("message blocked by the input guard: %w", err)
	case errors.Is(err, providers.ErrNotConfigured):
		return fmt.Errorf("%w; set llm.provider and llm.api_key in the config", err)
	}
	return explain(err)
}
