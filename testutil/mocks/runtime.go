// MockRuntime 是 agent 运行时（对话服务）的 HTTP 测试替身。
//
// 支持固定回复、按会话设置转接槽位、错误注入与调用记录。
package mocks

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// MockRuntimeCall 记录单次调用
type MockRuntimeCall struct {
	Method         string
	Endpoint       string // respond / tracker / health
	ConversationID string
	Text           string
}

// MockRuntime 模拟一个 agent 运行时
type MockRuntime struct {
	mu sync.Mutex

	server *httptest.Server
	name   string

	reply         any
	respondStatus int
	trackerStatus int
	trackerBody   string

	// 会话槽位：conversationID → transfer_to
	slots        map[string]any
	defaultSlot  any
	clearOnRead  bool
	respondCount int
	calls        []MockRuntimeCall
}

// NewMockRuntime 启动一个模拟运行时，测试结束时自动关闭
func NewMockRuntime(t *testing.T, name string) *MockRuntime {
	t.Helper()
	m := &MockRuntime{
		name:          name,
		reply:         []map[string]string{{"recipient_id": "", "text": "reply from " + name}},
		respondStatus: http.StatusOK,
		trackerStatus: http.StatusOK,
		slots:         make(map[string]any),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.server.Close)
	return m
}

// --- Builder 方法 ---

// WithReply 设置 respond 的回复体
func (m *MockRuntime) WithReply(v any) *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = v
	return m
}

// WithRespondStatus 让 respond 返回指定状态码
func (m *MockRuntime) WithRespondStatus(code int) *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.respondStatus = code
	return m
}

// WithTrackerStatus 让 tracker 返回指定状态码
func (m *MockRuntime) WithTrackerStatus(code int) *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackerStatus = code
	return m
}

// WithTrackerBody 用原始内容覆盖 tracker 响应体
func (m *MockRuntime) WithTrackerBody(body string) *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackerBody = body
	return m
}

// WithTransferTo 为所有会话设置转接槽位（可为任意 JSON 值）
func (m *MockRuntime) WithTransferTo(target any) *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultSlot = target
	return m
}

// SetSlot 为单个会话设置转接槽位
func (m *MockRuntime) SetSlot(conversationID string, target any) *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[conversationID] = target
	return m
}

// ClearSlotAfterRead 模拟 agent 在被读取后自行清空槽位
func (m *MockRuntime) ClearSlotAfterRead() *MockRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearOnRead = true
	return m
}

// --- 访问器 ---

// URL 返回服务根地址
func (m *MockRuntime) URL() string { return m.server.URL }

// Port 返回监听端口
func (m *MockRuntime) Port() int {
	_, p, _ := net.SplitHostPort(strings.TrimPrefix(m.server.URL, "http://"))
	port, _ := strconv.Atoi(p)
	return port
}

// Close 关闭服务以模拟 agent 下线
func (m *MockRuntime) Close() { m.server.Close() }

// RespondCount 返回 respond 调用次数
func (m *MockRuntime) RespondCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.respondCount
}

// Calls 返回调用记录副本
func (m *MockRuntime) Calls() []MockRuntimeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRuntimeCall(nil), m.calls...)
}

// --- HTTP 处理 ---

func (m *MockRuntime) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		m.calls = append(m.calls, MockRuntimeCall{Method: r.Method, Endpoint: "health"})
		_, _ = w.Write([]byte("Hello from Rasa"))

	case len(parts) == 3 && parts[0] == "conversations" && parts[2] == "respond" && r.Method == http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.respondCount++
		m.calls = append(m.calls, MockRuntimeCall{Method: r.Method, Endpoint: "respond", ConversationID: parts[1], Text: body.Text})
		if m.respondStatus != http.StatusOK {
			http.Error(w, "respond failed", m.respondStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.reply)

	case len(parts) == 3 && parts[0] == "conversations" && parts[2] == "tracker" && r.Method == http.MethodGet:
		conv := parts[1]
		m.calls = append(m.calls, MockRuntimeCall{Method: r.Method, Endpoint: "tracker", ConversationID: conv})
		if m.trackerStatus != http.StatusOK {
			http.Error(w, "tracker failed", m.trackerStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if m.trackerBody != "" {
			_, _ = w.Write([]byte(m.trackerBody))
			return
		}
		slot, ok := m.slots[conv]
		if !ok {
			slot = m.defaultSlot
		}
		if m.clearOnRead {
			m.slots[conv] = nil
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sender_id": conv,
			"slots":     map[string]any{"transfer_to": slot},
		})

	default:
		http.NotFound(w, r)
	}
}
