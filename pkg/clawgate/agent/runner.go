// Package agent – runner.go spawns the agent container and supervises it: a
// single event loop consumes output chunks, the process-exit event, and the
// two timers, and produces exactly one Outcome per invocation.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pmendler/clawgate/pkg/clawgate/mounts"
)

// Runner launches and supervises one agent container per invocation.
type Runner struct {
	cfg       Config
	groupsDir string
	validator *mounts.Validator
	logger    *slog.Logger
}

// NewRunner creates a Runner. groupsDir is the root for per-group workspaces
// mounted into the container.
func NewRunner(cfg Config, groupsDir string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	validator, err := mounts.NewValidator(cfg.AllowedMountRoots)
	if err != nil {
		return nil, fmt.Errorf("invalid mount allowlist: %w", err)
	}
	return &Runner{
		cfg:       cfg,
		groupsDir: groupsDir,
		validator: validator,
		logger:    logger.With("component", "agent"),
	}, nil
}

// Run executes one agent invocation for the given group and returns its
// Outcome. The runtime never returns a Go error for agent-level failures:
// every failure path yields an error-tagged Outcome. The spawned process is
// guaranteed not to outlive the call.
func (r *Runner) Run(ctx context.Context, group string, inv Invocation, onStart OnStart, onFragment OnFragment) Outcome {
	sanitized, err := r.validator.Validate(r.cfg.ExtraMounts)
	if err != nil {
		// Rejected mounts abort before any process is spawned.
		return errorOutcome(fmt.Sprintf("mount validation failed: %v", err))
	}

	cmd := r.buildCommand(ctx, group, sanitized)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errorOutcome(fmt.Sprintf("agent spawn failed: %v", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errorOutcome(fmt.Sprintf("agent spawn failed: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errorOutcome(fmt.Sprintf("agent spawn failed: %v", err))
	}

	if err := cmd.Start(); err != nil {
		return errorOutcome(fmt.Sprintf("agent spawn failed: %v", err))
	}

	r.logger.Info("agent started",
		"group", group,
		"chat", inv.ChatID,
		"pid", cmd.Process.Pid,
		"session", inv.SessionID != "",
	)
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	// Hand the invocation to the agent on stdin and close it so the agent
	// knows the request is complete.
	go func() {
		enc := json.NewEncoder(stdin)
		if err := enc.Encode(inv); err != nil {
			r.logger.Warn("agent: writing invocation failed", "error", err)
		}
		stdin.Close()
	}()

	return r.supervise(group, cmd, stdout, stderr, onFragment)
}

// outputEvent is one chunk read from the agent's stdout or one stderr line.
type outputEvent struct {
	chunk  []byte // stdout bytes (frame-scanned)
	stderr string // stderr line (always diagnostic)
}

// supervise is the invocation event loop. All resolution state is confined to
// this goroutine, so racing exit and timer events cannot produce more than
// one Outcome.
func (r *Runner) supervise(group string, cmd *exec.Cmd, stdout, stderr io.Reader, onFragment OnFragment) Outcome {
	scanner := newFrameScanner(r.cfg.MaxOutputBytes, r.logger)

	outputCh := make(chan outputEvent, 16)
	exitCh := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				outputCh <- outputEvent{chunk: chunk}
			}
			if err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				outputCh <- outputEvent{stderr: line}
			}
		}
	}()

	// Wait must only run after both pipes are drained.
	go func() {
		wg.Wait()
		close(outputCh)
		exitCh <- cmd.Wait()
	}()

	hardTimeout := r.cfg.IdleTimeout + r.cfg.HardTimeoutMargin
	idle := time.NewTimer(r.cfg.IdleTimeout)
	defer idle.Stop()
	hard := time.NewTimer(hardTimeout)
	defer hard.Stop()

	// killGrace bounds the wait for the exit event after a kill signal.
	var killGrace <-chan time.Time

	killed := false
	kill := func(reason string) {
		if killed {
			return
		}
		killed = true
		r.logger.Warn("agent killed", "group", group, "reason", reason, "pid", cmd.Process.Pid)
		// Kill the whole process group so grandchildren die with it.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		killGrace = time.After(10 * time.Second)
	}

	deliver := func(fragment string) {
		if onFragment == nil {
			return
		}
		// Awaited sequentially: a slow consumer delays only this
		// invocation's processing.
		if err := onFragment(fragment); err != nil {
			r.logger.Warn("agent: fragment callback failed", "error", err)
		}
	}

	handle := func(evt outputEvent) {
		if evt.stderr != "" {
			deliver(evt.stderr)
			return
		}
		for _, frag := range scanner.Write(evt.chunk) {
			deliver(frag)
		}
	}

	// drain consumes buffered output events still queued when the exit
	// event arrives, so a frame emitted just before exit is never lost.
	drain := func() {
		if outputCh == nil {
			return
		}
		for evt := range outputCh {
			handle(evt)
		}
		for _, frag := range scanner.Flush() {
			deliver(frag)
		}
	}

	for {
		select {
		case evt, ok := <-outputCh:
			if !ok {
				for _, frag := range scanner.Flush() {
					deliver(frag)
				}
				outputCh = nil
				continue
			}
			resetTimer(idle, r.cfg.IdleTimeout)
			handle(evt)

		case err := <-exitCh:
			drain()
			return r.resolve(group, scanner.Result(), err, killed)

		case <-idle.C:
			kill("idle timeout")

		case <-hard.C:
			kill("hard timeout")

		case <-killGrace:
			// The kill signal was sent but no exit event arrived in the
			// grace window. Resolve anyway; the process group has been
			// SIGKILLed.
			r.logger.Error("agent: no exit event after kill, abandoning wait", "group", group)
			drainCh := outputCh
			go func() {
				if drainCh != nil {
					for range drainCh {
					}
				}
				<-exitCh
			}()
			return r.resolve(group, scanner.Result(), fmt.Errorf("killed"), true)
		}
	}
}

// resolve maps the terminal condition to the invocation Outcome:
//   - a captured frame always wins, even after a timeout kill: the work
//     completed, the process merely failed to exit cleanly
//   - a kill with no frame is a timeout error
//   - an abnormal exit with no frame reports the exit condition
//   - a clean exit with no frame means the agent never reported a result
func (r *Runner) resolve(group string, last *frame, exitErr error, killed bool) Outcome {
	if last != nil {
		if last.Status == StatusError {
			r.logger.Info("agent finished with error frame", "group", group, "error", last.Error)
			return errorOutcome(last.Error)
		}
		r.logger.Info("agent finished", "group", group, "killed", killed, "result_len", len(last.Result))
		return successOutcome(last.Result, last.NewSessionID)
	}

	if killed {
		return errorOutcome(fmt.Sprintf("agent timed out with no result (idle %s, hard %s)",
			r.cfg.IdleTimeout, r.cfg.IdleTimeout+r.cfg.HardTimeoutMargin))
	}
	if exitErr != nil {
		return errorOutcome(fmt.Sprintf("agent exited abnormally with no result: %v", exitErr))
	}
	return errorOutcome("agent exited without reporting a result")
}

// buildCommand constructs the container command for one invocation.
func (r *Runner) buildCommand(ctx context.Context, group string, extraMounts []mounts.Mount) *exec.Cmd {
	var cmd *exec.Cmd
	if len(r.cfg.Command) > 0 {
		cmd = exec.CommandContext(ctx, r.cfg.Command[0], r.cfg.Command[1:]...)
	} else {
		args := []string{
			"run", "--rm", "-i",
			"--name", containerName(r.cfg.ContainerPrefix, group),
		}
		if r.cfg.Memory != "" {
			args = append(args, "--memory", r.cfg.Memory)
		}
		if r.cfg.CPUs != "" {
			args = append(args, "--cpus", r.cfg.CPUs)
		}
		groupDir := filepath.Join(r.groupsDir, group)
		args = append(args, "-v", groupDir+":/workspace")
		for _, m := range extraMounts {
			spec := m.Source + ":" + m.Target
			if !m.ReadWrite {
				spec += ":ro"
			}
			args = append(args, "-v", spec)
		}
		args = append(args, r.cfg.Image)
		cmd = exec.CommandContext(ctx, "docker", args...)
	}

	// Own process group, so the kill signal reaches the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
	return cmd
}

// containerName builds a unique, docker-safe container name.
func containerName(prefix, group string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, group)
	return fmt.Sprintf("%s-%s-%d", prefix, safe, time.Now().UnixMilli())
}

// resetTimer safely resets a timer that may have fired or been stopped.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
