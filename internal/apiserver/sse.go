// sse.go — 总线消息到 SSE 的桥接。
package apiserver

import (
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentmesh/go-transcript/internal/bus"
	"github.com/agentmesh/go-transcript/pkg/logger"
)

// SSE 保活间隔。代理/浏览器在空闲连接上可能提前断开。
const sseKeepaliveInterval = 30 * time.Second

var sseClientSeq atomic.Int64

// sseHandler 把总线消息推送给 SSE 客户端。
//
// filter 默认订阅当前 thread 的转录更新; ?filter=* 订阅全部
// (approval / system / event 诊断消息)。
func (s *Server) sseHandler(c *gin.Context) {
	filter := c.Query("filter")
	if filter == "" {
		filter = bus.TopicTranscriptPrefix + s.rec.ThreadID()
	}

	clientID := fmt.Sprintf("sse-%d", sseClientSeq.Add(1))
	sub := s.bus.Subscribe(clientID, filter)
	defer s.bus.Unsubscribe(clientID)

	logger.Debug("sse client connected",
		logger.FieldComponent, "apiserver",
		logger.FieldCount, s.bus.SubscriberCount())

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub.Ch:
			if !ok {
				return false
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return true
			}
			c.SSEvent(msg.Type, string(data))
			return true
		case <-keepalive.C:
			c.SSEvent("keepalive", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
