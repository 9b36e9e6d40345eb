// Package runtime is the typed HTTP client for agent runtimes: the dialogue
// servers spawned by the supervisor. Each agent is addressed by its dialogue
// port on a shared host.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/types"
)

const (
	opRespond = "respond"
	opTracker = "tracker"
	opHealth  = "health"

	// maxBodyBytes bounds how much of a runtime reply is read.
	maxBodyBytes = 8 << 20
)

// TransferSlot is the session slot that requests a handoff.
const TransferSlot = "transfer_to"

// Observer receives call outcomes, e.g. a metrics collector.
type Observer interface {
	ObserveRuntimeCall(operation, outcome string, duration time.Duration)
}

// Options configures a Client.
type Options struct {
	// Host is the hostname every agent runtime listens on.
	Host string
	// Timeout bounds each HTTP call.
	Timeout time.Duration
	// HTTPClient overrides the default client. Its Timeout is left untouched.
	HTTPClient *http.Client
	Observer   Observer
}

// Client calls agent runtimes over HTTP.
type Client struct {
	host     string
	http     *http.Client
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewClient creates a runtime client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		host:     opts.Host,
		http:     hc,
		observer: opts.Observer,
		tracer:   otel.Tracer("github.com/BaSui01/agentrelay/agent/runtime"),
		logger:   logger.With(zap.String("component", "runtime_client")),
	}
}

// BaseURL returns the root URL of the runtime listening on port.
func (c *Client) BaseURL(port int) string {
	return "http://" + net.JoinHostPort(c.host, strconv.Itoa(port))
}

// Tracker is the session state reported by a runtime.
type Tracker struct {
	Slots map[string]any
	Raw   json.RawMessage
}

// TransferTarget returns the non-empty string in the transfer slot, if any.
func (t *Tracker) TransferTarget() (string, bool) {
	if t == nil || t.Slots == nil {
		return "", false
	}
	target, ok := t.Slots[TransferSlot].(string)
	target = strings.TrimSpace(target)
	return target, ok && target != ""
}

// Respond sends one user message and returns the runtime's reply verbatim.
func (c *Client) Respond(ctx context.Context, port int, conversationID, text string) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/conversations/%s/respond", c.BaseURL(port), url.PathEscape(conversationID))

	body, err := c.do(ctx, opRespond, port, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}
	return asJSON(body), nil
}

// Tracker fetches the session state of a conversation.
func (c *Client) Tracker(ctx context.Context, port int, conversationID string) (*Tracker, error) {
	endpoint := fmt.Sprintf("%s/conversations/%s/tracker", c.BaseURL(port), url.PathEscape(conversationID))

	body, err := c.do(ctx, opTracker, port, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Slots map[string]any `json:"slots"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "malformed tracker").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway)
	}
	return &Tracker{Slots: decoded.Slots, Raw: json.RawMessage(body)}, nil
}

// Health checks that the runtime on port answers its root endpoint.
func (c *Client) Health(ctx context.Context, port int) error {
	_, err := c.do(ctx, opHealth, port, http.MethodGet, c.BaseURL(port)+"/", nil)
	return err
}

func (c *Client) do(ctx context.Context, op string, port int, method, endpoint string, payload []byte) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "runtime."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.Int("agent.port", port),
	)
	defer span.End()

	start := time.Now()
	body, err := c.roundTrip(ctx, method, endpoint, payload)
	elapsed := time.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
		if types.IsCode(err, types.ErrUpstreamTimeout) {
			outcome = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("runtime call failed",
			zap.String("operation", op),
			zap.String("url", endpoint),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	}
	if c.observer != nil {
		c.observer.ObserveRuntimeCall(op, outcome, elapsed)
	}
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build runtime request").WithCause(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportError(err)
	}
	if resp.StatusCode >= 400 {
		return nil, &types.Error{
			Code:       types.ErrUpstreamError,
			Message:    fmt.Sprintf("runtime returned status %d: %s", resp.StatusCode, snippet(body)),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  resp.StatusCode >= 500,
		}
	}
	return body, nil
}

func transportError(err error) *types.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.ErrUpstreamTimeout, "runtime request timed out").
			WithCause(err).
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true)
	}
	return types.NewError(types.ErrUpstreamError, "runtime unreachable").
		WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)
}

// asJSON keeps valid JSON replies verbatim and quotes anything else.
func asJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return json.RawMessage(quoted)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
