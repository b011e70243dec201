// Package chat implements the interactive loop that ties the decision
// engine, safety gate, and shell session together. Every failure in a
// single turn is reported and the loop keeps reading; only the inability
// to start a session at all is fatal to the process, and that surfaces
// from the shell manager, not here.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gulfsync/gulfsync/internal/intent"
	"github.com/gulfsync/gulfsync/internal/safety"
	"github.com/gulfsync/gulfsync/internal/shell"
	"github.com/gulfsync/gulfsync/internal/workdir"
)

const outputPreviewLimit = 4000

// Memory stores role-tagged entries on explicit user request.
type Memory interface {
	Add(ctx context.Context, role, content string) error
}

// Session is the slice of the shell manager the loop needs. Satisfied
// by *shell.Manager.
type Session interface {
	Execute(ctx context.Context, req shell.Request) (shell.Result, error)
	ExecuteScript(ctx context.Context, code, dir string, timeout time.Duration) (shell.Result, error)
	WorkingDir() string
	Alive() bool
	Stop()
}

// Loop is the interactive orchestrator.
type Loop struct {
	engine   *intent.Engine
	shell    Session
	model    intent.Chatter
	memory   Memory
	logger   zerolog.Logger
	in       *bufio.Scanner
	out      io.Writer
	autoExec bool
}

// New creates a Loop. model and memory may be nil; without a model the
// loop answers conversationally with a fixed notice, and without memory
// the /remember directive reports that nothing is configured.
func New(engine *intent.Engine, sh Session, model intent.Chatter, mem Memory, autoExec bool, in io.Reader, out io.Writer, logger zerolog.Logger) *Loop {
	sc := bufio.NewScanner(in)
	// Pasted /script bodies can blow past the Scanner's 64 KiB default.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Loop{
		engine:   engine,
		shell:    sh,
		model:    model,
		memory:   mem,
		logger:   logger.With().Str("component", "chat").Logger(),
		in:       sc,
		out:      out,
		autoExec: autoExec,
	}
}

// Run reads lines until /exit, EOF, or ctx cancellation. ctx is checked
// at turn boundaries only; a command already dispatched runs to its own
// deadline.
func (l *Loop) Run(ctx context.Context) error {
	fmt.Fprintln(l.out, "Local chat mode. Type /exit to quit, /help for directives.")

	for {
		if ctx.Err() != nil {
			fmt.Fprintln(l.out, "\nStopping at checkpoint.")
			return ctx.Err()
		}

		fmt.Fprint(l.out, "\nYou> ")
		if !l.in.Scan() {
			return l.in.Err()
		}
		line := strings.TrimSpace(l.in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := l.directive(ctx, line); quit {
				return nil
			}
			continue
		}

		l.turn(ctx, line)
	}
}

// directive handles in-band operator commands. Returns true on /exit.
func (l *Loop) directive(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "/exit", "/quit":
		return true

	case "/help":
		fmt.Fprintln(l.out, `Directives:
  /shell <cmd>     Run a shell command directly
  /script <code>   Run code through the interpreter
  /cd <path>       Change the tracked working directory
  /auto            Toggle automatic execution
  /reset           Tear down the session; next command starts fresh
  /remember <txt>  Store a note in memory
  /status          Show session state
  /exit            Quit`)

	case "/shell":
		if rest == "" {
			fmt.Fprintln(l.out, "Usage: /shell <command>")
			break
		}
		l.dispatch(ctx, intent.Decision{Kind: intent.RunShell, Command: rest})

	case "/script":
		if rest == "" {
			fmt.Fprintln(l.out, "Usage: /script <code>")
			break
		}
		l.dispatch(ctx, intent.Decision{Kind: intent.RunScript, Code: rest})

	case "/cd":
		dir, ok := workdir.Normalize(rest)
		if !ok {
			fmt.Fprintf(l.out, "Cannot resolve directory: %s\n", rest)
			break
		}
		res, err := l.shell.Execute(ctx, shell.Request{Command: ":", Dir: dir})
		if err != nil {
			fmt.Fprintf(l.out, "cd failed: %v\n", err)
			break
		}
		fmt.Fprintf(l.out, "Working directory: %s\n", res.WorkingDir)

	case "/auto":
		l.autoExec = !l.autoExec
		fmt.Fprintf(l.out, "Automatic execution: %v\n", l.autoExec)

	case "/reset":
		l.shell.Stop()
		fmt.Fprintln(l.out, "Session stopped. A fresh one starts with the next command.")

	case "/remember":
		l.remember(ctx, rest)

	case "/status":
		fmt.Fprintf(l.out, "session alive: %v\nworking dir:   %s\nauto exec:     %v\n",
			l.shell.Alive(), l.shell.WorkingDir(), l.autoExec)

	default:
		fmt.Fprintf(l.out, "Unknown directive: %s (try /help)\n", cmd)
	}
	return false
}

// turn processes one non-directive utterance.
func (l *Loop) turn(ctx context.Context, line string) {
	if note, ok := explicitRemember(line); ok {
		l.remember(ctx, note)
		return
	}

	decision := l.engine.Decide(ctx, line, l.autoExec)
	switch decision.Kind {
	case intent.RunShell, intent.RunScript:
		l.dispatch(ctx, decision)
	default:
		if decision.Message != "" {
			fmt.Fprintf(l.out, "\nAgent> %s\n", decision.Message)
			return
		}
		l.reply(ctx, line)
	}
}

// dispatch applies the safety gate and path normalization, runs the
// command, prints the result, and asks the model for a short follow-up.
func (l *Loop) dispatch(ctx context.Context, d intent.Decision) {
	command := d.Command
	if d.Kind == intent.RunScript {
		command = d.Code
	}

	if verdict := safety.Check(command); !verdict.OK {
		l.logger.Warn().Str("pattern", verdict.Pattern).Msg("Command blocked by safety gate")
		fmt.Fprintf(l.out, "Refusing to run: matches safety rule %q\n", verdict.Pattern)
		return
	}

	dir, _ := workdir.Normalize(d.Dir)

	var (
		res shell.Result
		err error
	)
	if d.Kind == intent.RunScript {
		res, err = l.shell.ExecuteScript(ctx, d.Code, dir, 0)
	} else {
		res, err = l.shell.Execute(ctx, shell.Request{Command: d.Command, Dir: dir})
	}
	if err != nil {
		fmt.Fprintf(l.out, "Execution failed: %v\n", err)
		return
	}

	l.printResult(res)
	l.explain(ctx, command, res)
}

func (l *Loop) printResult(res shell.Result) {
	if res.Restarted {
		fmt.Fprintln(l.out, "[session died and was restarted; the command did not complete]")
	}
	if res.TimedOut {
		fmt.Fprintln(l.out, "[timed out; partial output below]")
	}
	if out := strings.TrimRight(res.Output, "\n"); out != "" {
		fmt.Fprintln(l.out, out)
	}
	if res.ExitCode != nil && *res.ExitCode != 0 {
		fmt.Fprintf(l.out, "[exit %d]\n", *res.ExitCode)
	}
}

// explain asks the model for a short natural-language read of the
// output. Best effort: model errors are logged and swallowed here
// because the command result has already been shown.
func (l *Loop) explain(ctx context.Context, command string, res shell.Result) {
	if l.model == nil || res.TimedOut || strings.TrimSpace(res.Output) == "" {
		return
	}

	output := res.Output
	if len(output) > outputPreviewLimit {
		output = output[:outputPreviewLimit]
	}
	prompt := fmt.Sprintf("The command `%s` produced this output:\n\n%s\n\nExplain the result in one or two sentences.", command, output)

	text, err := l.model.Prompt(ctx, prompt)
	if err != nil {
		l.logger.Debug().Err(err).Msg("Follow-up explanation failed")
		return
	}
	if text != "" {
		fmt.Fprintf(l.out, "\nAgent> %s\n", text)
	}
}

func (l *Loop) reply(ctx context.Context, line string) {
	if l.model == nil {
		fmt.Fprintln(l.out, "\nAgent> No model configured; try /shell or /script.")
		return
	}
	text, err := l.model.Prompt(ctx, line)
	if err != nil {
		fmt.Fprintf(l.out, "\nAgent> (model error) %v\n", err)
		return
	}
	fmt.Fprintf(l.out, "\nAgent> %s\n", text)
}

func (l *Loop) remember(ctx context.Context, note string) {
	if note == "" {
		fmt.Fprintln(l.out, "Nothing to remember.")
		return
	}
	if l.memory == nil {
		fmt.Fprintln(l.out, "No memory store configured.")
		return
	}
	if err := l.memory.Add(ctx, "user", note); err != nil {
		fmt.Fprintf(l.out, "Failed to store note: %v\n", err)
		return
	}
	fmt.Fprintln(l.out, "Noted.")
}

// explicitRemember detects "remember this ..." and variants. Only an
// explicit request writes to memory; command output never does.
func explicitRemember(line string) (string, bool) {
	lower := strings.ToLower(line)
	for _, prefix := range []string{"remember this:", "remember this,", "remember this", "remember that", "remember:"} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	return "", false
}
