// Package terminal implements TerminalController (§4.3): one named
// multiplexer session per run with one pane per agent. The default backend
// shells out to tmux, adapted from bramble/session/tmux_runner.go
// (Start/Stop/buildShellCommand escaping) and tmux_detect.go
// (IsTmuxAvailable/TmuxWindowExists/TmuxWindowPaneDead/
// TmuxWindowPaneExitStatus), generalized from "one tmux window per
// worktree inside the user's existing tmux session" to "one dedicated tmux
// session per run, split into four named panes" — the shape §4.3 itself
// calls for.
package terminal

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bazelment/conductor/protocol"
)

// IsTmuxAvailable reports whether the tmux binary is on PATH, mirroring
// tmux_detect.go's IsTmuxAvailable.
func IsTmuxAvailable() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// paneOrder fixes the left-to-right pane index each agent is split into.
var paneOrder = []protocol.AgentRole{
	protocol.RoleRefiner, protocol.RoleBuilder, protocol.RoleVerifier, protocol.RoleGatekeeper,
}

func paneIndex(agent protocol.AgentRole) (int, error) {
	for i, a := range paneOrder {
		if a == agent {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown agent role %q", agent)
}

// Controller owns one tmux session for a run, with one pane per agent.
type Controller struct {
	sessionName string
}

// New creates a Controller for the given run, deriving the tmux session name
// from the run id (replacing the teacher's random two-word session-name
// generation in tmux_name.go, since this session must be addressable by run
// id, not randomly discoverable).
func New(runID string) *Controller {
	return &Controller{sessionName: "run-" + strings.TrimPrefix(runID, "run-")}
}

func (c *Controller) target(agent protocol.AgentRole) (string, error) {
	idx, err := paneIndex(agent)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%d", c.sessionName, idx), nil
}

func run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	return cmd.Output()
}

// CreateSession creates the run's dedicated tmux session, detached, with
// four panes (one per agent, split evenly), and labels each pane's border
// with its agent role for operator visibility. workDir seeds every pane's
// starting directory (§6's "working directory set to the project root");
// respawn-pane later re-asserts it per agent start via its own -c flag,
// since respawn-pane does not inherit the session's start-directory.
func (c *Controller) CreateSession(ctx context.Context, workDir string) error {
	if !IsTmuxAvailable() {
		return fmt.Errorf("tmux is not available")
	}
	if c.SessionExists(ctx) {
		return fmt.Errorf("tmux session %q already exists", c.sessionName)
	}

	newSessionArgs := []string{"new-session", "-d", "-s", c.sessionName, "-n", "agents"}
	if workDir != "" {
		newSessionArgs = append(newSessionArgs, "-c", workDir)
	}
	if _, err := run(ctx, newSessionArgs...); err != nil {
		return fmt.Errorf("create tmux session %q: %w", c.sessionName, err)
	}
	// Split into four panes: one vertical split, then two horizontal splits
	// so the final layout is a 2x2-ish strip of four equally-tiled panes.
	target := c.sessionName + ":agents"
	if _, err := run(ctx, "split-window", "-h", "-t", target+".0"); err != nil {
		return fmt.Errorf("split pane 1: %w", err)
	}
	if _, err := run(ctx, "split-window", "-v", "-t", target+".0"); err != nil {
		return fmt.Errorf("split pane 2: %w", err)
	}
	if _, err := run(ctx, "split-window", "-v", "-t", target+".1"); err != nil {
		return fmt.Errorf("split pane 3: %w", err)
	}
	_, _ = run(ctx, "select-layout", "-t", target, "tiled")

	for i, agent := range paneOrder {
		paneTarget := fmt.Sprintf("%s.%d", target, i)
		_, _ = run(ctx, "select-pane", "-t", paneTarget, "-T", string(agent))
	}
	_, _ = run(ctx, "set-option", "-t", c.sessionName, "remain-on-exit", "on")

	time.Sleep(100 * time.Millisecond)
	if !c.SessionExists(ctx) {
		return fmt.Errorf("tmux session %q disappeared immediately after creation", c.sessionName)
	}
	return nil
}

// DestroySession kills the run's tmux session, which kills every pane's
// child process (§5 "Cancellation & timeouts").
func (c *Controller) DestroySession(ctx context.Context) error {
	if !c.SessionExists(ctx) {
		return nil
	}
	if _, err := run(ctx, "kill-session", "-t", c.sessionName); err != nil {
		return fmt.Errorf("kill tmux session %q: %w", c.sessionName, err)
	}
	return nil
}

// SessionExists reports whether the run's tmux session currently exists.
func (c *Controller) SessionExists(ctx context.Context) bool {
	_, err := run(ctx, "has-session", "-t", c.sessionName)
	return err == nil
}

// StartAgent runs the external agent command in agent's pane, with working
// directory set via respawn-pane's own -c flag (respawn-pane does not inherit
// the session's start-directory from CreateSession, so workDir must be
// reasserted on every start) and env exported ahead of argv in the same shell
// string, since respawn-pane has no separate env-passing flag. argv is never
// built as a shell string by this process — it is escaped into the one
// string tmux respawn-pane accepts, exactly as buildShellCommand does, which
// is the sanctioned exception documented in DESIGN.md: tmux's own shell
// interprets that one string, this process's os/exec call itself never does.
func (c *Controller) StartAgent(ctx context.Context, agent protocol.AgentRole, argv []string, workDir string, env map[string]string) error {
	target, err := c.target(agent)
	if err != nil {
		return err
	}
	cmdStr := buildShellCommand(argv, env)
	args := []string{"respawn-pane", "-k", "-t", target}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	args = append(args, cmdStr)
	if _, err := run(ctx, args...); err != nil {
		return fmt.Errorf("start agent %s: %w", agent, err)
	}
	return nil
}

// ClearAgent clears the pane's scrollback and kills its child process
// (respawn with a no-op shell leaves the pane ready for the next StartAgent).
func (c *Controller) ClearAgent(ctx context.Context, agent protocol.AgentRole) error {
	target, err := c.target(agent)
	if err != nil {
		return err
	}
	_, _ = run(ctx, "send-keys", "-t", target, "C-c", "")
	if _, err := run(ctx, "respawn-pane", "-k", "-t", target); err != nil {
		return fmt.Errorf("clear agent %s: %w", agent, err)
	}
	_, _ = run(ctx, "clear-history", "-t", target)
	return nil
}

// RestartAgentWithClarification restarts agent's pane with argv that injects
// the human's clarification resolution into the prompt context. Building the
// augmented prompt file content is the Orchestrator's job (it writes the
// prompt file before calling this); this method only performs the restart.
func (c *Controller) RestartAgentWithClarification(ctx context.Context, agent protocol.AgentRole, argv []string, workDir string, env map[string]string) error {
	if err := c.ClearAgent(ctx, agent); err != nil {
		return err
	}
	return c.StartAgent(ctx, agent, argv, workDir, env)
}

// CapturePane returns the last maxLines lines of agent's pane scrollback.
func (c *Controller) CapturePane(ctx context.Context, agent protocol.AgentRole, maxLines int) (string, error) {
	target, err := c.target(agent)
	if err != nil {
		return "", err
	}
	args := []string{"capture-pane", "-p", "-t", target}
	if maxLines > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(maxLines))
	}
	out, err := run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("capture pane %s: %w", agent, err)
	}
	return string(out), nil
}

// StartAgentAndWaitReady starts agent and blocks until readyMarker appears in
// its pane (the agent has entered its input loop), or timeout elapses.
func (c *Controller) StartAgentAndWaitReady(ctx context.Context, agent protocol.AgentRole, argv []string, workDir, readyMarker string, env map[string]string, timeout time.Duration) error {
	if err := c.StartAgent(ctx, agent, argv, workDir, env); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		capture, err := c.CapturePane(ctx, agent, 200)
		if err == nil && strings.Contains(capture, readyMarker) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("agent %s did not become ready within %s", agent, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// PaneDead reports whether agent's pane has a dead (exited) process,
// mirroring tmux_detect.go's TmuxWindowPaneDead, generalized from
// window-scoped to pane-scoped.
func (c *Controller) PaneDead(ctx context.Context, agent protocol.AgentRole) (bool, error) {
	target, err := c.target(agent)
	if err != nil {
		return false, err
	}
	out, err := run(ctx, "list-panes", "-t", target, "-F", "#{pane_dead}")
	if err != nil {
		return false, fmt.Errorf("list panes for %s: %w", agent, err)
	}
	return strings.TrimSpace(string(out)) == "1", nil
}

// PaneExitStatus returns agent's pane's exit code if its process has exited.
func (c *Controller) PaneExitStatus(ctx context.Context, agent protocol.AgentRole) (int, bool) {
	target, err := c.target(agent)
	if err != nil {
		return 0, false
	}
	out, err := run(ctx, "list-panes", "-t", target, "-F", "#{pane_dead} #{pane_dead_status}")
	if err != nil {
		return 0, false
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), " ", 2)
	if len(parts) < 2 || parts[0] != "1" {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 1, true
	}
	return code, true
}

// buildShellCommand constructs the single shell command string tmux's
// respawn-pane/new-window expects, single-quote-escaping each argv element
// and each env value. env vars are exported ahead of argv in the same
// string, since respawn-pane has no separate env-passing flag — this is
// still data, never interpreted by this process's own os/exec call, only by
// tmux's shell. This is the one place in this codebase a command string is
// built instead of an argv slice, and it is handed to tmux's own shell,
// never to os/exec's — see the package doc comment and DESIGN.md.
func buildShellCommand(argv []string, env map[string]string) string {
	var b strings.Builder
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(k + "=" + quoteShellArg(env[k]) + " ")
		}
		b.WriteString("exec ")
	}
	for i, arg := range argv {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(quoteShellArg(arg))
	}
	return b.String()
}

func quoteShellArg(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
