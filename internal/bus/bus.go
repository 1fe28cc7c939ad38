// Package bus 提供进程内消息总线。
//
// 转录重建的变更通知通道: reconciler 每次应用事件后发布
// transcript.{threadId}.updated，展示层 (SSE / 只读 API) 订阅后
// 按需重新拉取投影快照。
//
// 桥接:
//   - apiserver/sse.go — bus 事件自动转发到 SSE
//   - journal — 原始事件/丢弃事件自动落库 (可选)
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// ========================================
// 消息类型
// ========================================

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"`   // transcript.{threadId}.updated / event.raw / system.health
	From      string          `json:"from"`    // 来源组件 ("reconciler" / "gateway" / "system")
	Type      string          `json:"type"`    // 消息类型 (transcript_updated / event_dropped / ...)
	Payload   json.RawMessage `json:"payload"` // 具体数据
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// 消息类型常量。
const (
	// MsgTranscriptUpdated 转录投影发生变化 (新增/合并 entry、turn 状态迁移)。
	MsgTranscriptUpdated = "transcript_updated"
	// MsgTurnStateChanged turn 状态迁移 (inProgress → completed/failed/interrupted)。
	MsgTurnStateChanged = "turn_state_changed"
	// MsgApprovalRequested 服务端请求人工审批 (命令执行 / 文件变更)。
	MsgApprovalRequested = "approval_requested"
	// MsgEventDropped 事件被丢弃 (格式错误 / thread 不匹配)。
	MsgEventDropped = "event_dropped"
	// MsgEventRaw 原始协议事件 (诊断用)。
	MsgEventRaw = "event_raw"
	// MsgTokenUsage token 用量更新。
	MsgTokenUsage = "token_usage"
	// MsgError 异常消息。
	MsgError = "error"
)

// Topic 模式常量。
const (
	// TopicTranscriptPrefix 转录消息前缀: transcript.{threadId}.{subtopic}。
	TopicTranscriptPrefix = "transcript."
	// TopicEvent 协议事件诊断消息。
	TopicEvent = "event"
	// TopicApproval 审批事件。
	TopicApproval = "approval"
	// TopicSystem 系统消息。
	TopicSystem = "system"

	// TopicAll 广播 (所有订阅者收到)。
	TopicAll = "*"
)

// TranscriptTopic 构造指定 thread 的转录更新 topic。
func TranscriptTopic(threadID string) string {
	return TopicTranscriptPrefix + threadID + ".updated"
}

// ========================================
// Subscriber
// ========================================

// Subscriber 订阅者。
type Subscriber struct {
	ID     string       // 唯一标识
	Filter string       // topic 前缀过滤 ("transcript.t-1" / "*" / "system")
	Ch     chan Message // 消息通道
}

// ========================================
// MessageBus — topic pub/sub
// ========================================

// MessageBus 进程内消息总线。
//
// 支持 topic 前缀匹配和广播:
//   - 订阅 "transcript.t-1" → 收到 transcript.t-1.updated 等
//   - 订阅 "*" → 收到所有消息
//   - 发布 transcript.t-1.updated → 匹配 "transcript.t-1", "transcript.", "*" 的订阅者
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // key = subscriber ID
	seq         int64
	onPublish   func(Message) // 可选: 每条消息的全局回调 (用于桥接 SSE/journal)
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]*Subscriber),
	}
}

// SetOnPublish 设置全局发布回调 (用于桥接到 SSE / journal)。
func (b *MessageBus) SetOnPublish(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish 发布消息到匹配的订阅者。
//
// seq 递增和 fan-out 在同一把锁下执行, 保证消息到达顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	onPub := b.onPublish

	// 在同一把锁下完成 fan-out, 保证 seq 顺序
	for _, sub := range b.subscribers {
		if matchTopic(sub.Filter, msg.Topic) {
			select {
			case sub.Ch <- msg:
			default:
				// 通道满, 丢弃 (避免阻塞发布者)
			}
		}
	}
	b.mu.Unlock()

	// 全局回调在锁外执行 (回调可能耗时, 避免持锁太久)
	if onPub != nil {
		onPub(msg)
	}
}

// Subscribe 订阅消息。filter 为 topic 前缀 ("transcript.t-1" / "*" / "system")。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan Message, 64),
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe 取消订阅。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 返回当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// ========================================
// Topic 匹配
// ========================================

// matchTopic 检查 topic 是否匹配 filter。
//
// 规则:
//   - filter "*" 匹配所有 topic
//   - filter "transcript.t-1" 匹配 "transcript.t-1", "transcript.t-1.updated"
//   - filter "system" 匹配 "system", "system.health"
func matchTopic(filter, topic string) bool {
	if filter == TopicAll {
		return true
	}
	if topic == filter {
		return true
	}
	// 前缀匹配: filter="transcript.t-1" 匹配 topic="transcript.t-1.updated"
	if len(topic) > len(filter) && topic[:len(filter)] == filter && topic[len(filter)] == '.' {
		return true
	}
	return false
}
