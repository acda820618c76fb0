// Package repl is the interactive console for working through the human
// approval queue.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/qorelogic/sentinel/internal/approval"
)

// Queue is the approval queue the console works on
type Queue interface {
	Pending(ctx context.Context, limit int) ([]*approval.Item, error)
	Get(ctx context.Context, id string) (*approval.Item, error)
	Decide(ctx context.Context, id string, approve bool, decidedBy, notes string) error
	ExpireOverdue(ctx context.Context) (int, error)
	Counts(ctx context.Context) (map[approval.State]int, error)
}

// CommandHandler handles a specific command
type CommandHandler func(ctx context.Context, args []string) error

// errExit ends the session
var errExit = errors.New("exit")

// Config holds console configuration
type Config struct {
	Queue Queue
	// Actor is recorded as the decider. Default: $USER
	Actor string
	// Out defaults to stdout
	Out io.Writer
	Now func() time.Time
}

// REPL is the review console
type REPL struct {
	queue    Queue
	actor    string
	out      io.Writer
	now      func() time.Time
	commands map[string]CommandHandler
}

// New creates a console
func New(cfg Config) (*REPL, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("approval queue is required")
	}
	if cfg.Actor == "" {
		cfg.Actor = os.Getenv("USER")
	}
	if cfg.Actor == "" {
		cfg.Actor = "reviewer"
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &REPL{
		queue:    cfg.Queue,
		actor:    cfg.Actor,
		out:      cfg.Out,
		now:      cfg.Now,
		commands: make(map[string]CommandHandler),
	}
	r.registerCommands()
	return r, nil
}

func (r *REPL) registerCommands() {
	r.commands["list"] = r.cmdList
	r.commands["ls"] = r.cmdList
	r.commands["show"] = r.cmdShow
	r.commands["approve"] = r.decide(true)
	r.commands["reject"] = r.decide(false)
	r.commands["expire"] = r.cmdExpire
	r.commands["counts"] = r.cmdCounts
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
}

// Run reads commands until exit or EOF
func (r *REPL) Run(ctx context.Context) error {
	cyan := color.New(color.FgCyan).SprintFunc()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("review> "),
		AutoComplete:      r.completer(ctx),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            r.out,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	r.printWelcome(ctx)

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if err := r.Execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
	}
}

// Execute runs one command line
func (r *REPL) Execute(ctx context.Context, line string) error {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return nil
	}
	handler, ok := r.commands[strings.ToLower(parts[0])]
	if !ok {
		return fmt.Errorf("unknown command %q (try 'help')", parts[0])
	}
	return handler(ctx, parts[1:])
}

// completer offers commands, then pending request IDs for the commands
// that take one
func (r *REPL) completer(ctx context.Context) readline.AutoCompleter {
	pendingIDs := func(string) []string {
		items, err := r.queue.Pending(ctx, approval.MaxListLimit)
		if err != nil {
			return nil
		}
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		return ids
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("list"),
		readline.PcItem("show", readline.PcItemDynamic(pendingIDs)),
		readline.PcItem("approve", readline.PcItemDynamic(pendingIDs)),
		readline.PcItem("reject", readline.PcItemDynamic(pendingIDs)),
		readline.PcItem("expire"),
		readline.PcItem("counts"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

func (r *REPL) printWelcome(ctx context.Context) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("Sentinel approval review"))
	fmt.Fprintf(r.out, "Deciding as %s. Type 'help' for commands, 'exit' to quit.\n\n", r.actor)
	if err := r.cmdList(ctx, nil); err != nil {
		fmt.Fprintf(r.out, "Error: %v\n", err)
	}
}

// resolve accepts a full request ID or a unique prefix of a pending one
func (r *REPL) resolve(ctx context.Context, ref string) (string, error) {
	if _, err := r.queue.Get(ctx, ref); err == nil {
		return ref, nil
	}
	items, err := r.queue.Pending(ctx, approval.MaxListLimit)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, it := range items {
		if strings.HasPrefix(it.ID, ref) {
			matches = append(matches, it.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no pending request matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous (%d matches)", ref, len(matches))
	}
}

func (r *REPL) cmdList(ctx context.Context, _ []string) error {
	items, err := r.queue.Pending(ctx, approval.MaxListLimit)
	if err != nil {
		return err
	}
	gray := color.New(color.FgHiBlack).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	if len(items) == 0 {
		fmt.Fprintf(r.out, "%s\n", gray("No pending approvals"))
		return nil
	}

	now := r.now()
	for _, it := range items {
		deadline := fmt.Sprintf("due in %s", it.SLADeadline.Sub(now).Round(time.Second))
		if it.Overdue(now) {
			deadline = red(fmt.Sprintf("overdue by %s", now.Sub(it.SLADeadline).Round(time.Second)))
		}
		fmt.Fprintf(r.out, "%s  %s  %s  %s\n", shortID(it.ID), it.RiskGrade, it.Path, deadline)
		fmt.Fprintf(r.out, "          %s\n", gray(it.Summary))
	}
	return nil
}

func (r *REPL) cmdShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <id>")
	}
	id, err := r.resolve(ctx, args[0])
	if err != nil {
		return err
	}
	it, err := r.queue.Get(ctx, id)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "%s %s (%s)\n", bold("Request:"), it.ID, it.State)
	fmt.Fprintf(r.out, "  Verdict:  %s\n", it.VerdictID)
	fmt.Fprintf(r.out, "  Path:     %s\n", it.Path)
	fmt.Fprintf(r.out, "  Risk:     %s\n", it.RiskGrade)
	fmt.Fprintf(r.out, "  Agent:    %s (trust %.2f)\n", it.AgentID, it.AgentTrust)
	fmt.Fprintf(r.out, "  Summary:  %s\n", it.Summary)
	if len(it.Flags) > 0 {
		fmt.Fprintf(r.out, "  Flags:    %s\n", strings.Join(it.Flags, ", "))
	}
	fmt.Fprintf(r.out, "  Queued:   %s\n", it.QueuedAt.Local().Format(time.DateTime))
	fmt.Fprintf(r.out, "  Deadline: %s\n", it.SLADeadline.Local().Format(time.DateTime))
	if it.DecidedAt != nil {
		fmt.Fprintf(r.out, "  Decided:  %s by %s\n", it.DecidedAt.Local().Format(time.DateTime), it.DecidedBy)
	}
	if it.Notes != "" {
		fmt.Fprintf(r.out, "  Notes:    %s\n", it.Notes)
	}
	return nil
}

func (r *REPL) decide(approve bool) CommandHandler {
	verb := "reject"
	if approve {
		verb = "approve"
	}
	return func(ctx context.Context, args []string) error {
		if len(args) < 1 {
			return fmt.Errorf("usage: %s <id> [notes...]", verb)
		}
		id, err := r.resolve(ctx, args[0])
		if err != nil {
			return err
		}
		notes := strings.Join(args[1:], " ")
		if err := r.queue.Decide(ctx, id, approve, r.actor, notes); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		state := approval.StateRejected
		if approve {
			state = approval.StateApproved
		}
		fmt.Fprintf(r.out, "%s %s %s\n", green("✓"), shortID(id), state)
		return nil
	}
}

func (r *REPL) cmdExpire(ctx context.Context, _ []string) error {
	n, err := r.queue.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Expired %d overdue request(s)\n", n)
	return nil
}

func (r *REPL) cmdCounts(ctx context.Context, _ []string) error {
	counts, err := r.queue.Counts(ctx)
	if err != nil {
		return err
	}
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, string(s))
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(r.out, "  %-9s %d\n", s, counts[approval.State(s)])
	}
	return nil
}

func (r *REPL) cmdHelp(_ context.Context, _ []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	commands := []struct {
		name string
		desc string
	}{
		{"list, ls", "Show pending requests, most urgent first"},
		{"show <id>", "Show one request"},
		{"approve <id> [notes]", "Approve a pending request"},
		{"reject <id> [notes]", "Reject a pending request"},
		{"expire", "Expire requests past their SLA"},
		{"counts", "Show request counts by state"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Leave the console"},
	}
	fmt.Fprintln(r.out, "\nCommands (IDs may be abbreviated):")
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %-22s %s\n", green(c.name), c.desc)
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdExit(_ context.Context, _ []string) error {
	return errExit
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
