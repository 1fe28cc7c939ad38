// handler.go — 投影 API handlers。
package apiserver

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/go-transcript/internal/diff"
	"github.com/agentmesh/go-transcript/internal/transcript"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/transcript", s.getTranscript)
	api.GET("/transcript/turns/:id", s.getTurn)
	api.GET("/transcript/entries/:id/diff", s.getEntryDiff)
	api.GET("/status", s.getStatus)
	api.GET("/usage", s.getUsage)
	api.GET("/journal/events", s.listJournalEvents)
	api.GET("/events", s.sseHandler)
}

// queryLimit 从 query 读分页参数。
func (s *Server) queryLimit(c *gin.Context) int {
	v, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(s.pageLimit)))
	if v < 1 {
		return s.pageLimit
	}
	if v > 2000 {
		return 2000
	}
	return v
}

// getTranscript 返回完整 transcript 快照 (深拷贝, 可安全序列化)。
func (s *Server) getTranscript(c *gin.Context) {
	success(c, s.rec.Snapshot())
}

// getTurn 返回单个 turn。
func (s *Server) getTurn(c *gin.Context) {
	id := c.Param("id")
	snap := s.rec.Snapshot()
	for _, turn := range snap.Turns {
		if turn.ID == id {
			success(c, turn)
			return
		}
	}
	notFound(c, "turn not found: "+id)
}

// getEntryDiff 解析 fileChange entry 的 diff 并返回渲染模型
// (逐行带行号/省略行, 含聚合增删计数)。
func (s *Server) getEntryDiff(c *gin.Context) {
	id := c.Param("id")
	snap := s.rec.Snapshot()
	for _, turn := range snap.Turns {
		for _, e := range turn.Entries {
			if e.ID != id {
				continue
			}
			if e.Kind != transcript.EntryFileChange {
				badRequest(c, "not_file_change", "entry carries no diff: "+id)
				return
			}
			inputs := make([]diff.ChangeInput, 0, len(e.Changes))
			for _, ch := range e.Changes {
				inputs = append(inputs, diff.ChangeInput{
					Path:                 ch.Path,
					Diff:                 ch.Diff,
					Kind:                 ch.Kind,
					LineNumbersAvailable: ch.LineNumbersAvailable,
				})
			}
			pending := e.Approval != nil && e.Approval.Decision == ""
			summary := diff.BuildSummary(e.ID, inputs, s.diffs)
			if len(summary.Changes) == 1 {
				summary.TitlePrefix = diff.Verb(summary.Changes[0].Kind, pending)
			}
			success(c, summary)
			return
		}
	}
	notFound(c, "entry not found: "+id)
}

// getStatus 返回 thread 级状态摘要。
func (s *Server) getStatus(c *gin.Context) {
	success(c, gin.H{
		"threadId":     s.rec.ThreadID(),
		"activeTurnId": s.rec.ActiveTurnID(),
		"dropped":      s.rec.Dropped(),
		"pendingTurn":  s.rec.ActiveTurnID() == transcript.PendingTurnID,
	})
}

// getUsage 返回最新 token 用量。
func (s *Server) getUsage(c *gin.Context) {
	success(c, s.rec.Usage())
}

// listJournalEvents 返回诊断事件记录 (journal 未启用时 400)。
func (s *Server) listJournalEvents(c *gin.Context) {
	if s.journal == nil {
		badRequest(c, "journal_disabled", "event journal is not enabled")
		return
	}
	threadID := c.DefaultQuery("thread_id", s.rec.ThreadID())
	items, err := s.journal.ListEvents(c.Request.Context(), threadID, s.queryLimit(c))
	if err != nil {
		serverError(c, err)
		return
	}
	success(c, items)
}
