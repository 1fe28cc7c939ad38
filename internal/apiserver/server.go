// Package apiserver 只读投影 HTTP API。
//
// 只暴露 transcript 派生投影与诊断数据, 不承载任何写操作 —
// 用户动作 (发消息/审批/打断) 走 appserver.Gateway, 渲染端轮询
// 或订阅 SSE 获取最新快照。
package apiserver

import (
	"github.com/gin-gonic/gin"

	"github.com/agentmesh/go-transcript/internal/bus"
	"github.com/agentmesh/go-transcript/internal/diff"
	"github.com/agentmesh/go-transcript/internal/journal"
	"github.com/agentmesh/go-transcript/internal/transcript"
)

// diffCacheSize 已解析 diff 的记忆化上限 (按内容寻址, 满则整体重置)。
const diffCacheSize = 256

// Server 投影 API 服务。
type Server struct {
	router    *gin.Engine
	rec       *transcript.Reconciler
	journal   *journal.Journal // 可为 nil (JOURNAL_ENABLED=false)
	bus       *bus.MessageBus
	diffs     *diff.Cache
	pageLimit int
}

// NewServer 创建服务。journal 可传 nil。
func NewServer(rec *transcript.Reconciler, j *journal.Journal, b *bus.MessageBus, pageLimit int) *Server {
	r := gin.Default()
	s := &Server{
		router:    r,
		rec:       rec,
		journal:   j,
		bus:       b,
		diffs:     diff.NewCache(diffCacheSize),
		pageLimit: pageLimit,
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (测试注入用)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 阻塞启动 HTTP 服务。
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
