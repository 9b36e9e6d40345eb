//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// ExecLauncher runs agent commands with os/exec. Every child leads its own
// process group so a kill reaches the servers it forks.
type ExecLauncher struct {
	// StderrTailBytes bounds the stderr kept for failure details.
	StderrTailBytes int
	// KillDelay bounds how long Run waits for pipes after a timeout kill.
	KillDelay time.Duration
}

// NewExecLauncher creates a launcher.
func NewExecLauncher(stderrTailBytes int) *ExecLauncher {
	return &ExecLauncher{StderrTailBytes: stderrTailBytes, KillDelay: 2 * time.Second}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error { return p.cmd.Wait() }

// Start implements Launcher.
func (l *ExecLauncher) Start(spec CommandSpec) (Process, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

// Run implements Launcher.
func (l *ExecLauncher) Run(ctx context.Context, spec CommandSpec) error {
	if len(spec.Args) == 0 {
		return errors.New("empty command")
	}
	tail := newTailBuffer(l.StderrTailBytes)

	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stderr = tail
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = l.KillDelay

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	if s := oneLine(tail.String()); s != "" {
		return fmt.Errorf("%w: %s", err, s)
	}
	return err
}

// Kill implements Launcher. A missing group falls back to the single pid.
func (l *ExecLauncher) Kill(pid int) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	return signalGroup(pid, syscall.SIGKILL)
}

// Alive implements Launcher.
func (l *ExecLauncher) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, sig)
	}
	return err
}
