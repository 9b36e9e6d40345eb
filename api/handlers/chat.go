package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/agent/handoff"
	"github.com/BaSui01/agentrelay/types"
)

// =============================================================================
// 💬 对话 Handler
// =============================================================================

// TurnRouter 执行一轮对话，由 *handoff.Router 实现
type TurnRouter interface {
	Route(ctx context.Context, agentName, conversationID, text string) (*handoff.TurnResult, error)
}

// ChatRequest 对话请求
type ChatRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversationId,omitempty"`
	// LegacyConversationID 兼容旧客户端的 snake_case 字段
	LegacyConversationID string `json:"conversation_id,omitempty"`
}

func (r ChatRequest) conversation() string {
	if r.ConversationID != "" {
		return r.ConversationID
	}
	return r.LegacyConversationID
}

// ChatHandler 对话处理器
type ChatHandler struct {
	router TurnRouter
	logger *zap.Logger
}

// NewChatHandler 创建对话处理器
func NewChatHandler(router TurnRouter, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		router: router,
		logger: logger.With(zap.String("handler", "chat")),
	}
}

// HandleChat 向 agent 发送一轮消息，必要时完成转接
// @Summary Chat with agent
// @Tags chat
// @Accept json
// @Produce json
// @Param name path string true "Agent name"
// @Param request body ChatRequest true "Turn"
// @Success 200 {object} Response{data=handoff.TurnResult}
// @Failure 400 {object} Response "Invalid request"
// @Failure 404 {object} Response "Agent not found"
// @Failure 502 {object} Response "Agent runtime failed"
// @Router /agents/{name}/chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req ChatRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}

	name := r.PathValue("name")
	conversationID := req.conversation()

	ctx := types.WithAgentName(r.Context(), name)
	if conversationID != "" {
		ctx = types.WithConversationID(ctx, conversationID)
	}

	start := time.Now()
	result, err := h.router.Route(ctx, name, conversationID, req.Text)
	if err != nil {
		WriteErrorFrom(w, err, h.logger)
		return
	}

	h.logger.Debug("turn routed",
		zap.String("agent", name),
		zap.Bool("transferred", result.Transferred),
		zap.String("to", result.To),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, result)
}
