package bus

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// captureSlog 将默认 slog 重定向到 buffer, 返回 buffer 和恢复函数。
func captureSlog(t *testing.T) (*bytes.Buffer, func()) {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(h))
	return &buf, func() { slog.SetDefault(prev) }
}

// memStore 内存 FallbackStore mock。
type memStore struct {
	saved []Message
}

func (m *memStore) SavePending(_ context.Context, msg Message) error {
	m.saved = append(m.saved, msg)
	return nil
}

func (m *memStore) LoadPending(_ context.Context, limit int) ([]Message, error) {
	if len(m.saved) > limit {
		return m.saved[:limit], nil
	}
	return m.saved, nil
}

func (m *memStore) DeletePending(_ context.Context, seq int64) error {
	out := m.saved[:0]
	for _, msg := range m.saved {
		if msg.Seq != seq {
			out = append(out, msg)
		}
	}
	m.saved = out
	return nil
}

// errStore 是一个 LoadPending 总是失败的 FallbackStore mock。
type errStore struct{}

func (errStore) SavePending(_ context.Context, _ Message) error { return nil }
func (errStore) LoadPending(_ context.Context, _ int) ([]Message, error) {
	return nil, errors.New("db connection lost")
}
func (errStore) DeletePending(_ context.Context, _ int64) error { return nil }

func TestRecoverPending_LoadError_LogsWarn(t *testing.T) {
	buf, restore := captureSlog(t)
	defer restore()

	b := NewMessageBus()
	rp := NewResilientPublisher(b, errStore{})

	rp.recoverPending(context.Background())

	logOutput := buf.String()
	if !strings.Contains(logOutput, "load pending failed") {
		t.Fatalf("expected 'load pending failed' in log, got:\n%s", logOutput)
	}
}

func TestResilient_HealthyPublishDelivers(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("s1", "*")
	rp := NewResilientPublisher(b, &memStore{})

	rp.Publish(Message{Topic: "transcript.t-1.updated", Type: MsgTranscriptUpdated})

	select {
	case msg := <-sub.Ch:
		if msg.Type != MsgTranscriptUpdated {
			t.Errorf("type = %q, want %q", msg.Type, MsgTranscriptUpdated)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	if !rp.Healthy() {
		t.Error("publisher should stay healthy after successful publish")
	}
}

func TestResilient_UnhealthySavesToFallback(t *testing.T) {
	b := NewMessageBus()
	store := &memStore{}
	rp := NewResilientPublisher(b, store)
	rp.SetHealthy(false)

	rp.Publish(Message{Topic: "event.t-1", Type: MsgEventDropped})

	if len(store.saved) != 1 {
		t.Fatalf("saved = %d messages, want 1", len(store.saved))
	}
	if store.saved[0].Topic != "event.t-1" {
		t.Errorf("saved topic = %q, want event.t-1", store.saved[0].Topic)
	}
}

func TestResilient_RecoverReplaysAndMarksHealthy(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("s1", "*")
	store := &memStore{saved: []Message{
		{Topic: "transcript.t-1.updated", Type: MsgTranscriptUpdated, Seq: 10},
	}}
	rp := NewResilientPublisher(b, store)
	rp.SetHealthy(false)

	// 第一轮: 补发 pending
	rp.recoverPending(context.Background())
	select {
	case <-sub.Ch:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("pending message should be replayed")
	}
	if len(store.saved) != 0 {
		t.Fatalf("pending not deleted after replay: %d left", len(store.saved))
	}

	// 第二轮: pending 清空后恢复健康
	rp.recoverPending(context.Background())
	if !rp.Healthy() {
		t.Error("publisher should be healthy after pending drained")
	}
}

func TestResilient_NilFallbackDoesNotPanic(t *testing.T) {
	b := NewMessageBus()
	rp := NewResilientPublisher(b, nil)
	rp.SetHealthy(false)

	rp.Publish(Message{Topic: "x"}) // 无 fallback: 丢弃, 不 panic
	rp.recoverPending(context.Background())
}

func TestPublishTo_MarshalsPayload(t *testing.T) {
	b := NewMessageBus()
	sub := b.Subscribe("s1", TopicApproval)
	rp := NewResilientPublisher(b, nil)

	rp.PublishTo(TopicApproval, "7", MsgApprovalRequested, map[string]any{"reason": "rm -rf"})

	select {
	case msg := <-sub.Ch:
		if msg.Topic != "approval.7" {
			t.Errorf("topic = %q, want approval.7", msg.Topic)
		}
		if !strings.Contains(string(msg.Payload), "rm -rf") {
			t.Errorf("payload = %s, want to contain reason", msg.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}
