package supervisor

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// PortPlaceholder is replaced by the role's port in command templates.
const PortPlaceholder = "{port}"

// CommandSpec describes one process to run.
type CommandSpec struct {
	Args []string
	Dir  string
}

// Process is a spawned long-running child.
type Process interface {
	Pid() int
	// Wait blocks until the process exits.
	Wait() error
}

// Launcher abstracts OS process control.
type Launcher interface {
	// Start spawns a long-running process in its own process group.
	Start(spec CommandSpec) (Process, error)
	// Run executes a command to completion. A failure includes the tail of stderr.
	Run(ctx context.Context, spec CommandSpec) error
	// Kill sends SIGKILL to the process group led by pid.
	Kill(pid int) error
	// Alive reports whether pid refers to a live process.
	Alive(pid int) bool
}

// ExpandArgs substitutes port into every placeholder of template.
func ExpandArgs(template []string, port int) []string {
	out := make([]string, len(template))
	p := strconv.Itoa(port)
	for i, arg := range template {
		out[i] = strings.ReplaceAll(arg, PortPlaceholder, p)
	}
	return out
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	data []byte
	max  int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 2048
	}
	return &tailBuffer{data: make([]byte, 0, min(max, 4096)), max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = b.data[len(b.data)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// oneLine collapses whitespace so a detail fits in a status string.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
