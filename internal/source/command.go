package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/charliek/stackscope/internal/assembler"
)

// Runner starts processes
type Runner interface {
	Start(ctx context.Context, cmd string, env map[string]string) (Process, error)
}

// Process represents a running process
type Process interface {
	PID() int
	Wait() error
	Stdout() io.Reader
	Stderr() io.Reader
}

// ExecRunner implements Runner using os/exec.
//
// Commands are executed via "sh -c" so that pipelines such as
// "adb logcat -v time | grep Unity" work. Configuration files therefore
// carry the same trust level as a Makefile.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Start starts a new process. Cancelling ctx kills the whole process group.
func (r *ExecRunner) Start(ctx context.Context, command string, env map[string]string) (Process, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	// Set process group so we can kill all children
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			return syscall.Kill(-pgid, syscall.SIGKILL)
		}
		return cmd.Process.Kill()
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting process: %w", err)
	}

	return &execProcess{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// execProcess wraps exec.Cmd to implement Process interface
type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *execProcess) Stderr() io.Reader {
	return p.stderr
}

// Command runs a shell command and assembles its standard output.
// Standard error lines are logged at debug level.
type Command struct {
	Cmd    string
	Env    map[string]string
	Source assembler.Source
	Runner Runner
	Logger *slog.Logger
}

// Run starts the command and blocks until it exits or ctx is done
func (c *Command) Run(ctx context.Context, sink Sink) error {
	runner := c.Runner
	if runner == nil {
		runner = NewExecRunner()
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	proc, err := runner.Start(ctx, c.Cmd, c.Env)
	if err != nil {
		return err
	}
	logger.Info("source command started", "cmd", c.Cmd, "pid", proc.PID())

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		if proc.Stderr() == nil {
			return
		}
		stderrAsm := assembler.New(c.Source)
		if err := Pump(ctx, proc.Stderr(), stderrAsm, func(e assembler.Entry) {
			logger.Debug("source command stderr", "cmd", c.Cmd, "message", e.Message)
		}); err != nil {
			logger.Debug("source command stderr unreadable", "cmd", c.Cmd, "error", err)
		}
		_, _ = io.Copy(io.Discard, proc.Stderr())
	}()

	pumpErr := Pump(ctx, proc.Stdout(), assembler.New(c.Source), sink)
	if pumpErr != nil {
		// drain so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, proc.Stdout())
	}
	<-stderrDone
	waitErr := proc.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if pumpErr != nil {
		return pumpErr
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		logger.Warn("source command exited", "cmd", c.Cmd, "code", exitErr.ExitCode())
		return fmt.Errorf("command %q: %w", c.Cmd, waitErr)
	}
	return waitErr
}
