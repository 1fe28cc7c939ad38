// gateway.go — 面向 UI/调用方的命令网关。
//
// 将用户动作 (发消息 / 打断 / 审批应答 / 会话管理) 翻译为 JSON-RPC 调用,
// 并把乐观条目与失败通知写入 transcript.Reconciler。
package appserver

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentmesh/go-transcript/internal/protocol"
	"github.com/agentmesh/go-transcript/internal/transcript"
	apperrors "github.com/agentmesh/go-transcript/pkg/errors"
	"github.com/agentmesh/go-transcript/pkg/logger"
)

// rpcTransport 网关依赖的传输能力 (Client 实现; 测试用 fake)。
type rpcTransport interface {
	Call(method string, params any) (json.RawMessage, error)
	Notify(method string, params any) error
	Respond(id int64, result any) error
	RespondError(id int64, code int, message string) error
}

// TurnOptions 每轮对话的模型参数。
type TurnOptions struct {
	Model          string
	Effort         string
	ApprovalPolicy string
}

// Gateway 命令网关。所有方法同步返回首个失败; 失败会同时以 system
// 条目形式写入 transcript (乐观条目不回滚)。
type Gateway struct {
	rpc  rpcTransport
	rec  *transcript.Reconciler
	opts TurnOptions
}

// NewGateway 创建网关。
func NewGateway(rpc rpcTransport, rec *transcript.Reconciler, opts TurnOptions) *Gateway {
	return &Gateway{rpc: rpc, rec: rec, opts: opts}
}

// Initialize 发送 initialize 握手。
func (g *Gateway) Initialize(clientName, version string) error {
	_, err := g.rpc.Call("initialize", map[string]any{
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": version,
		},
	})
	if err != nil {
		return apperrors.Wrap(err, "Gateway.Initialize", "initialize")
	}
	return nil
}

func parseThreadID(raw json.RawMessage) (string, error) {
	var resp struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if id := strings.TrimSpace(resp.Thread.ID); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(resp.ID); id != "" {
		return id, nil
	}
	return "", apperrors.New("parseThreadID", "response carries no thread ID")
}

// StartThread 创建新 thread 并将 reconciler 重新对准它。
func (g *Gateway) StartThread(cwd string) (string, error) {
	result, err := g.rpc.Call("thread/start", map[string]any{
		"cwd":   cwd,
		"model": g.opts.Model,
	})
	if err != nil {
		return "", apperrors.Wrap(err, "Gateway.StartThread", "thread/start")
	}
	threadID, err := parseThreadID(result)
	if err != nil {
		return "", apperrors.Wrap(err, "Gateway.StartThread", "thread/start decode")
	}
	g.rec.Reset(threadID)
	logger.Info("gateway: thread started",
		logger.FieldThreadID, threadID,
		logger.FieldModel, g.opts.Model)
	return threadID, nil
}

// ResumeThread 恢复历史会话并用返回的快照重建 transcript。
// 快照解析失败时写入单条 system 错误并保持可重试, 同时返回错误。
func (g *Gateway) ResumeThread(threadID, cwd string) error {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Gateway.ResumeThread", "thread ID required")
	}
	result, err := g.rpc.Call("thread/resume", map[string]any{
		"threadId": id,
		"cwd":      cwd,
	})
	if err != nil {
		return apperrors.Wrap(err, "Gateway.ResumeThread", "thread/resume")
	}

	th, err := protocol.ParseThread(result)
	if err != nil {
		g.rec.LoadThreadError(id, err)
		return apperrors.Wrap(err, "Gateway.ResumeThread", "thread snapshot decode")
	}
	g.rec.LoadThread(th)
	logger.Info("gateway: thread resumed",
		logger.FieldThreadID, th.ID,
		logger.FieldCount, len(th.Turns))
	return nil
}

// ForkThread 从现有会话分叉新 thread, 并载入分叉点快照。
func (g *Gateway) ForkThread(threadID string) (string, error) {
	id := strings.TrimSpace(threadID)
	if id == "" {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, "Gateway.ForkThread", "thread ID required")
	}
	result, err := g.rpc.Call("thread/fork", map[string]any{"threadId": id})
	if err != nil {
		return "", apperrors.Wrap(err, "Gateway.ForkThread", "thread/fork")
	}
	th, err := protocol.ParseThread(result)
	if err != nil {
		g.rec.LoadThreadError(id, err)
		return "", apperrors.Wrap(err, "Gateway.ForkThread", "thread snapshot decode")
	}
	g.rec.LoadThread(th)
	return th.ID, nil
}

// turnInput turn/start 输入项。
type turnInput struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
}

func buildTurnInputs(text string, attachments []transcript.Attachment) []turnInput {
	inputs := make([]turnInput, 0, 1+len(attachments))
	if strings.TrimSpace(text) != "" || len(attachments) == 0 {
		inputs = append(inputs, turnInput{Type: "text", Text: text})
	}
	for _, a := range attachments {
		path := strings.TrimSpace(a.Path)
		if path == "" {
			continue
		}
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = filepath.Base(path)
		}
		inputs = append(inputs, turnInput{Type: "mention", Name: name, Path: path})
	}
	return inputs
}

// SendMessage 发送用户消息: 先落乐观条目, 再发 turn/start。
// 发送失败时追加 system 错误条目, 乐观条目保留。
func (g *Gateway) SendMessage(text string, attachments []transcript.Attachment) error {
	g.rec.AppendPendingUser(text, attachments)

	_, err := g.rpc.Call("turn/start", map[string]any{
		"threadId":       g.rec.ThreadID(),
		"input":          buildTurnInputs(text, attachments),
		"model":          g.opts.Model,
		"effort":         g.opts.Effort,
		"approvalPolicy": g.opts.ApprovalPolicy,
	})
	if err != nil {
		g.rec.AppendSystemError(fmt.Sprintf("failed to send message: %v", err))
		return apperrors.Wrap(err, "Gateway.SendMessage", "turn/start")
	}
	return nil
}

// InterruptTurn 请求打断当前 turn。
// 不做乐观状态变更 — 最终状态以 turn/completed(interrupted) 事件为准。
func (g *Gateway) InterruptTurn() error {
	active := g.rec.ActiveTurnID()
	if active == "" || active == transcript.PendingTurnID {
		return apperrors.Wrap(apperrors.ErrNotFound, "Gateway.InterruptTurn", "no active turn")
	}
	_, err := g.rpc.Call("turn/interrupt", map[string]any{
		"threadId": g.rec.ThreadID(),
		"turnId":   active,
	})
	if err != nil {
		g.rec.AppendSystemError(fmt.Sprintf("failed to interrupt turn: %v", err))
		return apperrors.Wrap(err, "Gateway.InterruptTurn", "turn/interrupt")
	}
	return nil
}

// RespondApproval 应答审批 server request。
// 本地只记录 decision, 不清除 approval 字段 — 条目以后端重发的
// item/completed 为准。
func (g *Gateway) RespondApproval(requestID int64, decision string) error {
	if err := g.rpc.Respond(requestID, map[string]any{"decision": decision}); err != nil {
		g.rec.AppendSystemError(fmt.Sprintf("failed to respond to approval %d: %v", requestID, err))
		return apperrors.Wrapf(err, "Gateway.RespondApproval", "respond request %d", requestID)
	}
	g.rec.SetApprovalDecision(requestID, decision)
	logger.Info("gateway: approval answered",
		logger.FieldReqID, requestID,
		logger.FieldDecision, decision)
	return nil
}

// RejectRequest 对无法处理的 server request 回错误响应, 避免对端挂起。
func (g *Gateway) RejectRequest(requestID int64, reason string) error {
	return g.rpc.RespondError(requestID, -32601, reason)
}
