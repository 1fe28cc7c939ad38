// client.go — app-server WebSocket JSON-RPC 传输层。
//
// app-server 使用 JSON-RPC 2.0 (WebSocket):
//   - Client → Server: {jsonrpc,id,method,params} (请求) 或 {jsonrpc,method,params} (通知)
//   - Server → Client: {jsonrpc,id,result} (响应)、{jsonrpc,method,params} (通知)
//     或 {jsonrpc,id,method,params} (server request, 需回 response)
//
// 本层只负责连接与信封收发; 事件语义由 transcript.Reconciler 处理。
package appserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentmesh/go-transcript/internal/protocol"
	apperrors "github.com/agentmesh/go-transcript/pkg/errors"
	"github.com/agentmesh/go-transcript/pkg/logger"
	"github.com/agentmesh/go-transcript/pkg/util"
)

const (
	startupProbeTimeout = 30 * time.Second
	handshakeTimeout    = 5 * time.Second
	reconnectBaseDelay  = 1 * time.Second
	reconnectMaxDelay   = 30 * time.Second
	reconnectMaxRetries = 5
	// 子进程 stderr 收集上限 — 防止异常刷屏耗尽内存
	stderrCollectLimit = 1 << 20
)

// jsonRPCRequest JSON-RPC 2.0 请求。
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonRPCNotification JSON-RPC 2.0 通知 (无 id)。
type jsonRPCNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonRPCResponse JSON-RPC 2.0 响应 (回复 server request)。
type jsonRPCResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Result  any    `json:"result,omitempty"`
}

// pendingCall 等待响应的 JSON-RPC 调用。
type pendingCall struct {
	result json.RawMessage
	err    error
	done   chan struct{}
}

// EnvelopeHandler 接收传输层解析出的协议信封。
type EnvelopeHandler func(env protocol.Envelope)

// Client app-server JSON-RPC 客户端。
//
// 锁职责:
//
//	wsMu:      保护 ws 指针与写序列化
//	handlerMu: 保护 handler 注册/读取
//
// 两者独立, 不存在嵌套获取关系。
type Client struct {
	URL string
	Cmd *exec.Cmd

	ws        *websocket.Conn
	wsMu      sync.Mutex
	handler   EnvelopeHandler
	handlerMu sync.RWMutex
	stopped   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc

	callTimeout  time.Duration
	pingInterval time.Duration

	stderrLimiter *util.LimitedWriter

	nextID  atomic.Int64
	pending sync.Map // id → *pendingCall
}

// NewClient 创建客户端。url 形如 ws://127.0.0.1:4500/rpc。
func NewClient(url string, callTimeout, pingInterval time.Duration) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		URL:          url,
		ctx:          ctx,
		cancel:       cancel,
		callTimeout:  callTimeout,
		pingInterval: pingInterval,
	}
}

// SetHandler 注册信封回调。
func (c *Client) SetHandler(h EnvelopeHandler) {
	c.handlerMu.Lock()
	c.handler = h
	c.handlerMu.Unlock()
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h == nil {
		logger.Warn("appserver: dropping envelope (no handler registered)",
			logger.FieldKind, string(env.Kind),
			logger.FieldMethod, env.Message.Method)
		return
	}
	h(env)
}

// hostPort 从 ws URL 提取 host:port (探活与日志用)。
func hostPort(wsURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(wsURL, "wss://"), "ws://")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

// Spawn 启动 codex app-server --listen <url> 并等待端口可用。
//
// 注意: 使用 exec.Command 而非 exec.CommandContext —
// 子进程生命周期由 Close() 显式管理, 不随调用方 ctx 终止。
func (c *Client) Spawn(ctx context.Context) error {
	c.Cmd = exec.Command("codex", "app-server", "--listen", c.URL)
	c.Cmd.Env = os.Environ()
	c.Cmd.Stdout = io.Discard

	// stderr 按行收集进结构化日志, 并作为 stderr 信封转发
	collector := logger.NewStderrCollector(hostPort(c.URL), func(line string) {
		c.dispatch(protocol.Envelope{Kind: protocol.KindStderr, Line: line})
	})
	c.stderrLimiter = util.NewLimitedWriter(collector, stderrCollectLimit)
	c.Cmd.Stderr = c.stderrLimiter

	if err := c.Cmd.Start(); err != nil {
		return apperrors.Wrap(err, "Client.Spawn", "spawn app-server")
	}

	addr := hostPort(c.URL)
	deadline := time.Now().Add(startupProbeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			_ = c.killProcess()
			return apperrors.Wrap(ctx.Err(), "Client.Spawn", "spawn cancelled")
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			logger.Info("appserver: listening", logger.FieldAddr, addr)
			return nil
		}
		time.Sleep(300 * time.Millisecond)
	}
	_ = c.killProcess()
	return apperrors.Newf("Client.Spawn", "app-server startup timeout on %s", addr)
}

func (c *Client) killProcess() error {
	if c.Cmd == nil || c.Cmd.Process == nil {
		return nil
	}
	return c.Cmd.Process.Kill()
}

// Connect 建立 WebSocket 连接并启动 readLoop / pingLoop。
func (c *Client) Connect() error {
	conn, err := c.dial(c.ctx)
	if err != nil {
		return apperrors.Wrap(err, "Client.Connect", "ws connect")
	}
	c.replaceConn(conn)
	util.SafeGo(func() { c.readLoop(conn) })
	util.SafeGo(func() { c.pingLoop(conn) })
	logger.Info("appserver: ws connected", logger.FieldURL, c.URL)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: handshakeTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return nil, err
	}
	idle := c.readIdleTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})
	return conn, nil
}

// readIdleTimeout 读空闲上限 — 连续错过三个 ping 视为断连。
func (c *Client) readIdleTimeout() time.Duration {
	if c.pingInterval <= 0 {
		return 90 * time.Second
	}
	return 3 * c.pingInterval
}

func (c *Client) currentConn() *websocket.Conn {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws
}

func (c *Client) replaceConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	c.wsMu.Lock()
	prev := c.ws
	c.ws = conn
	c.wsMu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// writeJSON 序列化写 — gorilla/websocket 不允许并发写。
func (c *Client) writeJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return apperrors.Wrap(apperrors.ErrNotConnected, "Client.writeJSON", "no websocket connection")
	}
	return c.ws.WriteJSON(v)
}

// Call 发送 JSON-RPC 请求并等待响应。
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req := jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	pc := &pendingCall{done: make(chan struct{})}
	c.pending.Store(id, pc)
	defer c.pending.Delete(id)

	if err := c.writeJSON(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()
	select {
	case <-pc.done:
		return pc.result, pc.err
	case <-timer.C:
		return nil, apperrors.Wrapf(apperrors.ErrTimeout, "Client.Call", "%s timeout after %s", method, c.callTimeout)
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// Notify 发送 JSON-RPC 通知 (无需响应)。
func (c *Client) Notify(method string, params any) error {
	return c.writeJSON(jsonRPCNotification{JSONRPC: "2.0", Method: method, Params: params})
}

// Respond 回复 server request。
func (c *Client) Respond(id int64, result any) error {
	return c.writeJSON(jsonRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

// RespondError 回复 server request 错误 — 避免对端 turn 永久挂起。
func (c *Client) RespondError(id int64, code int, message string) error {
	resp := struct {
		JSONRPC string             `json:"jsonrpc"`
		ID      int64              `json:"id"`
		Error   *protocol.RPCError `json:"error"`
	}{JSONRPC: "2.0", ID: id, Error: &protocol.RPCError{Code: code, Message: message}}
	return c.writeJSON(resp)
}

// ========================================
// readLoop — 读取并分发 JSON-RPC 消息
// ========================================

func (c *Client) readLoop(conn *websocket.Conn) {
	for !c.stopped.Load() {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.stopped.Load() {
				return
			}
			logger.Warn("appserver: ws read failed", logger.FieldURL, c.URL, logger.FieldError, err)
			if !c.reconnect(err) {
				c.dispatch(protocol.Envelope{
					Kind:    protocol.KindError,
					Message: protocol.Message{Error: &protocol.RPCError{Message: fmt.Sprintf("connection lost: %v", err)}},
				})
			}
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warn("appserver: unparseable JSON-RPC message",
				logger.FieldError, err,
				logger.FieldDataLen, len(raw))
			continue
		}

		if c.handleResponse(msg) {
			continue
		}
		c.dispatchMessage(msg)
	}
}

// handleResponse 将响应交给对应的 pending call。返回是否已处理。
func (c *Client) handleResponse(msg protocol.Message) bool {
	if msg.ID == nil || msg.Method != "" {
		return false
	}
	value, ok := c.pending.Load(*msg.ID)
	if !ok {
		logger.Warn("appserver: orphan RPC response", logger.FieldReqID, *msg.ID)
		return true
	}
	pc := value.(*pendingCall)
	if msg.Error != nil {
		pc.err = apperrors.Newf("Client.readLoop", "rpc error: %s (code %d)", msg.Error.Message, msg.Error.Code)
	} else {
		pc.result = msg.Result
	}
	close(pc.done)
	return true
}

func (c *Client) dispatchMessage(msg protocol.Message) {
	kind := protocol.KindNotification
	switch {
	case msg.ID != nil && msg.Method != "":
		kind = protocol.KindRequest
	case msg.Error != nil && msg.Method == "":
		kind = protocol.KindError
	case msg.Method == "":
		// 既非响应也无方法 — 忽略
		return
	}
	c.dispatch(protocol.Envelope{Kind: kind, Message: msg})
}

// pingLoop 周期发 ping 维持连接; conn 被替换或客户端关闭时退出。
func (c *Client) pingLoop(conn *websocket.Conn) {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.currentConn() != conn {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(handshakeTimeout)); err != nil {
				return
			}
		}
	}
}

// ========================================
// 重连
// ========================================

func reconnectDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := reconnectBaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	if delay > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return delay
}

func (c *Client) sleepWithContext(delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// reconnect 指数退避重连。成功后重启 readLoop/pingLoop 并返回 true。
func (c *Client) reconnect(lastErr error) bool {
	for attempt := 1; attempt <= reconnectMaxRetries; attempt++ {
		if c.stopped.Load() {
			return false
		}
		if !c.sleepWithContext(reconnectDelay(attempt)) {
			return false
		}
		conn, err := c.dial(c.ctx)
		if err != nil {
			lastErr = err
			logger.Warn("appserver: ws reconnect attempt failed",
				logger.FieldURL, c.URL,
				logger.FieldCount, attempt,
				logger.FieldError, err)
			continue
		}
		c.replaceConn(conn)
		util.SafeGo(func() { c.readLoop(conn) })
		util.SafeGo(func() { c.pingLoop(conn) })
		logger.Info("appserver: ws reconnected",
			logger.FieldURL, c.URL,
			logger.FieldCount, attempt)
		return true
	}
	logger.Error("appserver: ws reconnect exhausted",
		logger.FieldURL, c.URL,
		logger.FieldCount, reconnectMaxRetries,
		logger.FieldError, lastErr)
	return false
}

// StderrOverflowed 返回子进程 stderr 是否已超出收集上限。
func (c *Client) StderrOverflowed() bool {
	return c.stderrLimiter != nil && c.stderrLimiter.Overflow()
}

// Close 停止收发并关闭连接与子进程。幂等。
func (c *Client) Close() error {
	if c.stopped.Swap(true) {
		return nil
	}
	c.cancel()
	c.wsMu.Lock()
	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
		c.ws = nil
	}
	c.wsMu.Unlock()
	return c.killProcess()
}
