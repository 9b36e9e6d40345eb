package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/agent/supervisor"
	"github.com/BaSui01/agentrelay/registry"
	"github.com/BaSui01/agentrelay/types"
)

// =============================================================================
// 🤖 Agent 生命周期 Handler
// =============================================================================

// Lifecycle 是 Handler 依赖的进程监管能力，由 *supervisor.Supervisor 实现
type Lifecycle interface {
	Create(ctx context.Context, req supervisor.CreateRequest) (*types.AgentRecord, error)
	Train(ctx context.Context, name string) (*supervisor.TrainHandle, error)
	Start(ctx context.Context, name string) (*supervisor.StartResult, error)
	Stop(ctx context.Context, name string) (*supervisor.StopResult, error)
}

// AgentReader 只读访问注册表
type AgentReader interface {
	Get(ctx context.Context, name string) (*types.AgentRecord, error)
	List(ctx context.Context) (map[string]*types.AgentRecord, error)
}

// RuntimeProber 探测 agent 运行时存活，由 *runtime.Client 实现
type RuntimeProber interface {
	Health(ctx context.Context, port int) error
}

// AgentHandler Agent 管理处理器
type AgentHandler struct {
	agents    AgentReader
	lifecycle Lifecycle
	prober    RuntimeProber
	logger    *zap.Logger
}

// AgentHealth 单个 agent 运行时的探测结果
type AgentHealth struct {
	Agent   string `json:"agent"`
	Port    int    `json:"port"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// TrainAccepted 训练请求已受理
type TrainAccepted struct {
	Status    types.AgentStatus `json:"status"`
	Coalesced bool              `json:"coalesced"`
}

// NewAgentHandler 创建 Agent 处理器
func NewAgentHandler(agents AgentReader, lifecycle Lifecycle, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		agents:    agents,
		lifecycle: lifecycle,
		logger:    logger.With(zap.String("handler", "agent")),
	}
}

// WithRuntimeProber 启用 /agents/{name}/health
func (h *AgentHandler) WithRuntimeProber(p RuntimeProber) *AgentHandler {
	h.prober = p
	return h
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleList 返回完整注册表快照
// @Summary List agents
// @Tags agent
// @Produce json
// @Success 200 {object} Response{data=map[string]types.AgentRecord}
// @Router /agents [get]
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	records, err := h.agents.List(r.Context())
	if err != nil {
		WriteErrorFrom(w, registry.ToError("", err), h.logger)
		return
	}
	WriteSuccess(w, records)
}

// HandleGet 返回单个 agent
// @Summary Get agent
// @Tags agent
// @Produce json
// @Param name path string true "Agent name"
// @Success 200 {object} Response{data=types.AgentRecord}
// @Failure 404 {object} Response
// @Router /agents/{name} [get]
func (h *AgentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec, err := h.agents.Get(r.Context(), name)
	if err != nil {
		WriteErrorFrom(w, registry.ToError(name, err), h.logger)
		return
	}
	WriteSuccess(w, rec)
}

// HandleCreate 注册新 agent，端口与路径可省略
// @Summary Create agent
// @Tags agent
// @Accept json
// @Produce json
// @Param request body supervisor.CreateRequest true "Agent"
// @Success 201 {object} Response{data=types.AgentRecord}
// @Failure 400 {object} Response "Invalid or duplicate name"
// @Failure 409 {object} Response "Port conflict"
// @Router /agents [post]
func (h *AgentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req supervisor.CreateRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}

	rec, err := h.lifecycle.Create(r.Context(), req)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, rec)
}

// HandleTrain 启动后台训练，立即返回 202
// @Summary Train agent
// @Tags agent
// @Produce json
// @Param name path string true "Agent name"
// @Success 202 {object} Response{data=TrainAccepted}
// @Failure 404 {object} Response
// @Router /agents/{name}/train [post]
func (h *AgentHandler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	handle, err := h.lifecycle.Train(r.Context(), name)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccessStatus(w, http.StatusAccepted, TrainAccepted{
		Status:    types.StatusTraining,
		Coalesced: handle.Coalesced,
	})
}

// HandleStart 启动 agent 的 logic 与 dialogue 进程
// @Summary Start agent
// @Tags agent
// @Produce json
// @Param name path string true "Agent name"
// @Success 200 {object} Response{data=supervisor.StartResult}
// @Failure 404 {object} Response
// @Failure 500 {object} Response "Spawn failed"
// @Router /agents/{name}/start [post]
func (h *AgentHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	res, err := h.lifecycle.Start(r.Context(), name)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleStop 停止 agent 进程
// @Summary Stop agent
// @Tags agent
// @Produce json
// @Param name path string true "Agent name"
// @Success 200 {object} Response{data=supervisor.StopResult}
// @Failure 404 {object} Response
// @Router /agents/{name}/stop [post]
func (h *AgentHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	res, err := h.lifecycle.Stop(r.Context(), name)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleHealth 探测 agent 的对话运行时；不可达时 healthy=false
// @Summary Agent runtime health
// @Tags agent
// @Produce json
// @Param name path string true "Agent name"
// @Success 200 {object} Response{data=AgentHealth}
// @Failure 404 {object} Response
// @Router /agents/{name}/health [get]
func (h *AgentHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.prober == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrInternalError, "runtime probing is not configured", h.logger)
		return
	}

	name := r.PathValue("name")
	rec, err := h.agents.Get(r.Context(), name)
	if err != nil {
		WriteErrorFrom(w, registry.ToError(name, err), h.logger)
		return
	}

	res := AgentHealth{Agent: name, Port: rec.DialoguePort, Healthy: true}
	if err := h.prober.Health(r.Context(), rec.DialoguePort); err != nil {
		res.Healthy = false
		if typed, ok := types.AsError(err); ok {
			res.Message = typed.Message
		} else {
			res.Message = err.Error()
		}
	}
	WriteSuccess(w, res)
}
