package types

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// 🤖 Agent Record
// =============================================================================

// AgentStatus 是 agent 的生命周期状态。
// 训练失败时持久化为 "train_error: <detail>"，Base() 返回不带详情的基础状态。
type AgentStatus string

const (
	StatusCreated    AgentStatus = "created"
	StatusTraining   AgentStatus = "training"
	StatusTrained    AgentStatus = "trained"
	StatusTrainError AgentStatus = "train_error"
	StatusRunning    AgentStatus = "running"
	StatusStopped    AgentStatus = "stopped"
)

// TrainErrorStatus builds the persisted status for a failed training run.
func TrainErrorStatus(detail string) AgentStatus {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return StatusTrainError
	}
	return AgentStatus(fmt.Sprintf("%s: %s", StatusTrainError, detail))
}

// Base strips the failure detail from a train_error status.
func (s AgentStatus) Base() AgentStatus {
	if i := strings.Index(string(s), ":"); i >= 0 {
		return AgentStatus(strings.TrimSpace(string(s[:i])))
	}
	return s
}

// Detail returns the failure detail of a train_error status, if any.
func (s AgentStatus) Detail() string {
	if i := strings.Index(string(s), ":"); i >= 0 {
		return strings.TrimSpace(string(s[i+1:]))
	}
	return ""
}

// Valid reports whether the base status is a known lifecycle state.
func (s AgentStatus) Valid() bool {
	switch s.Base() {
	case StatusCreated, StatusTraining, StatusTrained, StatusTrainError, StatusRunning, StatusStopped:
		return true
	}
	return false
}

// AgentRecord 是注册表中的一条 agent 记录。
// PID 为 nil 表示进程未运行；非 nil 仅代表编排器认为其存活，可能已过期。
type AgentRecord struct {
	Name         string      `json:"-"`
	Path         string      `json:"path"`
	DialoguePort int         `json:"dialoguePort"`
	LogicPort    int         `json:"logicPort"`
	DialoguePID  *int        `json:"dialoguePID"`
	LogicPID     *int        `json:"logicPID"`
	Status       AgentStatus `json:"status"`
}

// Clone returns a deep copy of the record.
func (r *AgentRecord) Clone() *AgentRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.DialoguePID = clonePID(r.DialoguePID)
	cp.LogicPID = clonePID(r.LogicPID)
	return &cp
}

// UsesPort reports whether either role of the record listens on port.
func (r *AgentRecord) UsesPort(port int) bool {
	return r.DialoguePort == port || r.LogicPort == port
}

// Running reports whether any process PID is recorded.
func (r *AgentRecord) Running() bool {
	return r.DialoguePID != nil || r.LogicPID != nil
}

func clonePID(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// PID returns a pointer to a copy of pid.
func PID(pid int) *int {
	return &pid
}

var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateAgentName checks that name is usable as a URL segment and directory name.
func ValidateAgentName(name string) error {
	if !agentNamePattern.MatchString(name) {
		return NewError(ErrInvalidRequest, fmt.Sprintf("invalid agent name %q", name)).
			WithHTTPStatus(400)
	}
	return nil
}

// ValidatePort checks a TCP port number.
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return NewError(ErrInvalidRequest, fmt.Sprintf("invalid port %d", port)).
			WithHTTPStatus(400)
	}
	return nil
}
