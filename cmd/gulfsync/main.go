package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gulfsync/gulfsync/internal/bridge"
	"github.com/gulfsync/gulfsync/internal/chat"
	"github.com/gulfsync/gulfsync/internal/config"
	"github.com/gulfsync/gulfsync/internal/gitops"
	"github.com/gulfsync/gulfsync/internal/intent"
	"github.com/gulfsync/gulfsync/internal/interrupt"
	"github.com/gulfsync/gulfsync/internal/llm"
	"github.com/gulfsync/gulfsync/internal/logging"
	"github.com/gulfsync/gulfsync/internal/mcp"
	"github.com/gulfsync/gulfsync/internal/memory"
	"github.com/gulfsync/gulfsync/internal/notify"
	"github.com/gulfsync/gulfsync/internal/packet"
	"github.com/gulfsync/gulfsync/internal/shell"
	"github.com/gulfsync/gulfsync/internal/state"
	"github.com/gulfsync/gulfsync/internal/web"
)

const version = "0.1.0"

const usage = `Usage: gulfsync <command>

Commands:
  chat       Interactive chat with command execution
  run        Run one sync cycle (write packet, route outboxes, commit, push, notify)
  bridge     Import backtest runs (bridge pull | bridge loop)
  serve      Start the local status and MCP server
  status     Show BUSY/IDLE and the current step
  stop       Request a soft stop at the next safe checkpoint
  version    Print the version
`

const bridgeUsage = `Usage: gulfsync bridge <subcommand>

Subcommands:
  pull [--run-id <id>] [--force]
      Import one run from the local backtest API. Defaults to the
      latest run; --force re-imports an already seen run_id.
  loop [--interval <secs>] [--route] [--push] [--notify]
      Poll the API for new runs. With --route, each import triggers a
      full sync cycle (--push and --notify apply to that cycle).
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Print(usage)
		return 0
	}

	switch args[0] {
	case "version", "-v", "--version":
		fmt.Println(version)
		return 0
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	logger := logging.New(cfg.Logging.Level)

	switch args[0] {
	case "chat":
		return cmdChat(cfg, logger)
	case "run":
		return cmdRun(cfg, logger, args[1:])
	case "bridge":
		return cmdBridge(cfg, logger, args[1:])
	case "serve":
		return cmdServe(cfg, logger)
	case "status":
		return cmdStatus(cfg)
	case "stop":
		return cmdStop(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", args[0], usage)
		return 2
	}
}

// memoryAdapter narrows the store to what the chat loop needs.
type memoryAdapter struct {
	store *memory.Store
}

func (m memoryAdapter) Add(ctx context.Context, role, content string) error {
	_, err := m.store.Add(ctx, role, content)
	return err
}

func cmdChat(cfg *config.Config, logger zerolog.Logger) int {
	ctrl := interrupt.New(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer ctrl.Close()

	model := llm.NewClient(cfg.Ollama.URL, cfg.Ollama.Model, cfg.Ollama.Timeout)
	engine := intent.NewEngine(model, logger)

	mgr := shell.NewManager(shell.Config{
		Program:        cfg.Shell.Program,
		Interpreter:    cfg.Shell.Interpreter,
		DefaultTimeout: cfg.Shell.CommandTimeout,
		PollInterval:   cfg.Shell.PollInterval,
	}, logger)
	defer mgr.Stop()

	var mem chat.Memory
	store, err := memory.Open(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Warn().Err(err).Msg("Memory store unavailable; /remember is disabled")
	} else {
		defer store.Close()
		mem = memoryAdapter{store: store}
	}

	loop := chat.New(engine, mgr, model, mem, cfg.Shell.AutoExec, os.Stdin, os.Stdout, logger)
	if err := loop.Run(ctrl.Context()); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("Chat loop failed")
		return 1
	}
	return 0
}

func cmdRun(cfg *config.Config, logger zerolog.Logger, args []string) int {
	push, notifyEnabled := cfg.Git.Push, true
	for _, a := range args {
		switch a {
		case "--no-push":
			push = false
		case "--no-notify":
			notifyEnabled = false
		}
	}

	ctrl := interrupt.New(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer ctrl.Close()
	return runCycle(ctrl.Context(), cfg, logger, push, notifyEnabled)
}

// runCycle executes one sync cycle: packet, outbox routing, commit,
// push, notify. Shared by `run` and the bridge loop's --route mode.
func runCycle(ctx context.Context, cfg *config.Config, logger zerolog.Logger, push, notifyEnabled bool) int {
	states := stateStore(cfg)
	if states.Busy() {
		fmt.Println("Agent is BUSY. Run `gulfsync status`.")
		return 2
	}

	if err := states.SetBusy("run", "generating sync packet"); err != nil {
		logger.Error().Err(err).Msg("Failed to set busy state")
		return 1
	}
	defer func() {
		states.ClearStop()
		if err := states.SetIdle(); err != nil {
			logger.Error().Err(err).Msg("Failed to clear busy state")
		}
	}()

	if states.StopRequested() {
		fmt.Println("STOP flag set. Exiting.")
		return 0
	}

	model := llm.NewClient(cfg.Ollama.URL, cfg.Ollama.Model, cfg.Ollama.Timeout)
	builder := packet.NewBuilder(cfg.Paths.Inbox, cfg.Paths.Packets, cfg.Paths.Status, model, logger)

	outPath, content, err := builder.Build(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build sync packet")
		return 1
	}

	// Fan the packet out to the per-thread outboxes. A routing failure
	// does not abort the cycle; the packet itself is already written.
	states.SetBusy("route", "writing outboxes")
	router := packet.NewRouter(cfg.Paths.Outbox, cfg.Paths.Canon, cfg.Paths.Inbox, model, logger)
	if err := router.Route(ctx, content); err != nil {
		logger.Warn().Err(err).Msg("Outbox routing failed")
	}

	if states.StopRequested() || ctx.Err() != nil {
		fmt.Println("STOP requested. Exiting before commit.")
		return 0
	}

	repo := gitops.NewRepo(cfg.Paths.Root, logger)
	if err := commitCycle(ctx, repo, cfg, states, push); err != nil {
		logger.Error().Err(err).Msg("Git step failed")
		return 1
	}

	if notifyEnabled {
		notifyCycle(ctx, repo, cfg, logger)
	}

	fmt.Printf("DONE. Wrote: %s\n", outPath)
	return 0
}

func cmdBridge(cfg *config.Config, logger zerolog.Logger, args []string) int {
	sub := "pull"
	if len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		sub = args[0]
		args = args[1:]
	}

	importer := bridge.NewImporter(
		bridge.NewClient(cfg.Bridge.APIURL),
		cfg.Paths.Root, cfg.Paths.Inbox, cfg.Paths.Status, cfg.Paths.Contracts,
		stateStore(cfg), logger,
	)

	switch sub {
	case "help", "-h", "--help":
		fmt.Print(bridgeUsage)
		return 0

	case "pull":
		runID, force := parsePullArgs(args)

		ctrl := interrupt.New(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer ctrl.Close()

		res, err := importer.Pull(ctrl.Context(), runID, force)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bridge pull failed: %v\n", err)
			return 2
		}
		if !res.New {
			fmt.Printf("no new run. latest=%s\n", res.RunID)
			return 0
		}
		fmt.Printf("imported run_id=%s\ncontract=%s\ninbox=%s\n", res.RunID, res.ContractPath, res.InboxPath)
		return 0

	case "loop":
		interval, route, push, notifyEnabled := parseLoopArgs(args, cfg.Bridge.Interval)

		states := stateStore(cfg)
		states.ClearStop()

		ctrl := interrupt.New(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer ctrl.Close()

		fmt.Printf("polling every %s (route=%v, push=%v, notify=%v)\n", interval, route, push, notifyEnabled)
		err := importer.Loop(ctrl.Context(), interval, func(ctx context.Context, res bridge.PullResult) {
			if route {
				runCycle(ctx, cfg, logger, push, notifyEnabled)
			}
		})
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("Bridge loop failed")
			return 1
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown bridge subcommand: %s\n\n%s", sub, bridgeUsage)
		return 2
	}
}

func parsePullArgs(args []string) (runID string, force bool) {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--force":
			force = true
		case args[i] == "--run-id" && i+1 < len(args):
			runID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--run-id="):
			runID = strings.TrimPrefix(args[i], "--run-id=")
		}
	}
	return runID, force
}

func parseLoopArgs(args []string, fallback time.Duration) (interval time.Duration, route, push, notifyEnabled bool) {
	interval = fallback
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--route":
			route = true
		case args[i] == "--push":
			push = true
		case args[i] == "--notify":
			notifyEnabled = true
		case args[i] == "--interval" && i+1 < len(args):
			if secs, err := strconv.Atoi(args[i+1]); err == nil && secs > 0 {
				interval = time.Duration(secs) * time.Second
			}
			i++
		case strings.HasPrefix(args[i], "--interval="):
			if secs, err := strconv.Atoi(strings.TrimPrefix(args[i], "--interval=")); err == nil && secs > 0 {
				interval = time.Duration(secs) * time.Second
			}
		}
	}
	return interval, route, push, notifyEnabled
}

func commitCycle(ctx context.Context, repo *gitops.Repo, cfg *config.Config, states *state.Store, push bool) error {
	changed, err := repo.HasChanges(ctx)
	if err != nil || !changed {
		return err
	}

	if err := states.SetBusy("git", "committing changes"); err != nil {
		return err
	}

	msg := fmt.Sprintf("%s (%s)", cfg.Git.CommitMessage, time.Now().Format("2006-01-02 15:04"))
	committed, err := repo.CommitAll(ctx, msg)
	if err != nil || !committed {
		return err
	}
	if push {
		return repo.Push(ctx, "")
	}
	return nil
}

// notifyCycle posts the run summary. Best effort: the notifier logs
// its own failures.
func notifyCycle(ctx context.Context, repo *gitops.Repo, cfg *config.Config, logger zerolog.Logger) {
	n := notify.New(cfg.Notify.WebhookURL, logger)
	if !n.Enabled() {
		return
	}

	files, err := repo.ChangedFiles(ctx, 3)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not list changed files for notification")
	}
	fileLines := "- (no file list)"
	if len(files) > 0 {
		fileLines = ""
		for i, f := range files {
			if i > 0 {
				fileLines += "\n"
			}
			fileLines += "- " + f
		}
	}

	n.Sendf(ctx, "gulfsync run complete (%s)\n\nTop changed files:\n%s\n\nNext: check the latest packet in sync/packets/, or run `gulfsync chat` for follow-ups.",
		time.Now().Format("2006-01-02 15:04"), fileLines)
}

func cmdServe(cfg *config.Config, logger zerolog.Logger) int {
	ctrl := interrupt.New(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer ctrl.Close()

	mgr := shell.NewManager(shell.Config{
		Program:        cfg.Shell.Program,
		Interpreter:    cfg.Shell.Interpreter,
		DefaultTimeout: cfg.Shell.CommandTimeout,
		PollInterval:   cfg.Shell.PollInterval,
	}, logger)
	defer mgr.Stop()

	srv := web.NewServer(cfg.Server.Addr, stateStore(cfg), mgr, logger)
	srv.Mount("/mcp", mcp.NewServer(mgr, logger).Handler())

	if err := srv.Start(ctrl.Context()); err != nil {
		logger.Error().Err(err).Msg("Server failed")
		return 1
	}
	return 0
}

func cmdStatus(cfg *config.Config) int {
	snap, err := stateStore(cfg).Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read state: %v\n", err)
		return 1
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode state: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func cmdStop(cfg *config.Config) int {
	if err := stateStore(cfg).RequestStop("operator stop"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write stop flag: %v\n", err)
		return 1
	}
	fmt.Println("STOP flag created. The agent stops at the next safe checkpoint.")
	return 0
}

func stateStore(cfg *config.Config) *state.Store {
	return state.NewStore(cfg.Paths.Logs, filepath.Join(cfg.Paths.Root, "control"))
}
