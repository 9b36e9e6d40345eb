//go:build windows

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ExecLauncher runs agent commands with os/exec. Windows has no process
// groups here, so kills reach only the recorded process.
type ExecLauncher struct {
	StderrTailBytes int
}

// NewExecLauncher creates a launcher.
func NewExecLauncher(stderrTailBytes int) *ExecLauncher {
	return &ExecLauncher{StderrTailBytes: stderrTailBytes}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int    { return p.cmd.Process.Pid }
func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (l *ExecLauncher) Start(spec CommandSpec) (Process, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

func (l *ExecLauncher) Run(ctx context.Context, spec CommandSpec) error {
	if len(spec.Args) == 0 {
		return errors.New("empty command")
	}
	tail := newTailBuffer(l.StderrTailBytes)
	cmd := exec.CommandContext(ctx, spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Stderr = tail
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if s := oneLine(tail.String()); s != "" {
		return fmt.Errorf("%w: %s", err, s)
	}
	return err
}

func (l *ExecLauncher) Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func (l *ExecLauncher) Alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
