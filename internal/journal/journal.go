// Package journal 诊断事件落盘 (可选, JOURNAL_ENABLED 时启用)。
//
// 仅用于事后诊断: 原始协议信封、被丢弃事件、总线降级消息。
// 不是 transcript 持久化 — 重建 transcript 只靠 thread/resume 快照。
package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentmesh/go-transcript/internal/bus"
	"github.com/agentmesh/go-transcript/internal/protocol"
	apperrors "github.com/agentmesh/go-transcript/pkg/errors"
	"github.com/agentmesh/go-transcript/pkg/logger"
)

// Journal Postgres 诊断日志。
type Journal struct {
	pool *pgxpool.Pool
}

// New 创建 Journal。
func New(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// EnsureSchema 建表 (IF NOT EXISTS, 幂等)。
func (j *Journal) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS event_journal (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			thread_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT '',
			req_id BIGINT,
			payload JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_journal_thread_ts ON event_journal (thread_id, ts)`,
		`CREATE TABLE IF NOT EXISTS dropped_events (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			thread_id TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			payload JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS bus_pending (
			seq BIGSERIAL PRIMARY KEY,
			topic TEXT NOT NULL,
			from_id TEXT NOT NULL DEFAULT '',
			msg_type TEXT NOT NULL DEFAULT '',
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS system_logs (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			logger TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			raw TEXT,
			source TEXT,
			component TEXT,
			thread_id TEXT,
			turn_id TEXT,
			method TEXT,
			event_type TEXT,
			req_id BIGINT,
			extra JSONB
		)`,
	}
	for _, stmt := range ddl {
		if _, err := j.pool.Exec(ctx, stmt); err != nil {
			return apperrors.Wrap(err, "Journal.EnsureSchema", "exec ddl")
		}
	}
	return nil
}

// RecordEvent 追加一条原始协议信封。写入失败仅记日志, 不影响主流程。
func (j *Journal) RecordEvent(ctx context.Context, threadID string, env protocol.Envelope) {
	payload, err := json.Marshal(env.Message)
	if err != nil {
		logger.Warn("journal: marshal envelope failed", logger.FieldError, err)
		return
	}
	var reqID *int64
	if env.Message.ID != nil {
		reqID = env.Message.ID
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO event_journal (thread_id, kind, method, req_id, payload)
		 VALUES ($1, $2, $3, $4, $5::jsonb)`,
		threadID, string(env.Kind), env.Message.Method, reqID, string(payload))
	if err != nil {
		logger.Warn("journal: record event failed",
			logger.FieldThreadID, threadID,
			logger.FieldMethod, env.Message.Method,
			logger.FieldError, err)
	}
}

// RecordDropped 记录被丢弃的事件及原因 (thread 不匹配 / 解析失败等)。
func (j *Journal) RecordDropped(ctx context.Context, threadID, method, reason string, raw json.RawMessage) {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO dropped_events (thread_id, method, reason, payload)
		 VALUES ($1, $2, $3, $4::jsonb)`,
		threadID, method, reason, nullableJSON(raw))
	if err != nil {
		logger.Warn("journal: record dropped failed",
			logger.FieldThreadID, threadID,
			logger.FieldError, err)
	}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// ========================================
// bus.FallbackStore 实现
// ========================================

// SavePending 保存未投递的总线消息。
func (j *Journal) SavePending(ctx context.Context, msg bus.Message) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO bus_pending (topic, from_id, msg_type, payload, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		msg.Topic, msg.From, msg.Type, nullableJSON(msg.Payload), timestampOrNow(msg.Timestamp))
	return err
}

func timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}

// LoadPending 按 seq 升序加载待补发消息。
func (j *Journal) LoadPending(ctx context.Context, limit int) ([]bus.Message, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT seq, topic, from_id, msg_type, payload, created_at
		 FROM bus_pending ORDER BY seq ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []bus.Message
	for rows.Next() {
		var m bus.Message
		var payload []byte
		if err := rows.Scan(&m.Seq, &m.Topic, &m.From, &m.Type, &payload, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Payload = payload
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeletePending 删除已补发的消息。
func (j *Journal) DeletePending(ctx context.Context, seq int64) error {
	_, err := j.pool.Exec(ctx, `DELETE FROM bus_pending WHERE seq = $1`, seq)
	return err
}

// ========================================
// 查询 (只读投影 API 使用)
// ========================================

// EventRecord event_journal 表行。
type EventRecord struct {
	ID       int64           `json:"id"`
	Ts       time.Time       `json:"ts"`
	ThreadID string          `json:"threadId"`
	Kind     string          `json:"kind"`
	Method   string          `json:"method"`
	ReqID    *int64          `json:"reqId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ListEvents 按时间倒序列出某 thread 的事件记录。
func (j *Journal) ListEvents(ctx context.Context, threadID string, limit int) ([]EventRecord, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id, ts, thread_id, kind, method, req_id, payload
		 FROM event_journal WHERE thread_id = $1 OR thread_id = ''
		 ORDER BY ts DESC, id DESC LIMIT $2`,
		threadID, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "Journal.ListEvents", "query event_journal")
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		var payload []byte
		if err := rows.Scan(&r.ID, &r.Ts, &r.ThreadID, &r.Kind, &r.Method, &r.ReqID, &payload); err != nil {
			return nil, apperrors.Wrap(err, "Journal.ListEvents", "scan event_journal")
		}
		r.Payload = payload
		out = append(out, r)
	}
	return out, rows.Err()
}
