package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID      contextKey = "request_id"
	keyConversationID contextKey = "conversation_id"
	keyAgentName      contextKey = "agent_name"
)

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithConversationID adds conversation ID to context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, keyConversationID, conversationID)
}

// ConversationID extracts conversation ID from context.
func ConversationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyConversationID).(string)
	return v, ok && v != ""
}

// WithAgentName adds the addressed agent to context.
func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyAgentName, name)
}

// AgentName extracts the addressed agent from context.
func AgentName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyAgentName).(string)
	return v, ok && v != ""
}

const keyPrincipal contextKey = "principal"

// WithPrincipal records the authenticated caller (API key label or JWT subject).
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, keyPrincipal, principal)
}

// Principal extracts the authenticated caller from context.
func Principal(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyPrincipal).(string)
	return v, ok && v != ""
}
