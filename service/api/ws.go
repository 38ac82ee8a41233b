package api

import (
	"context"
	"net/http"
	"time"

	"PConvo/logger"
	"PConvo/middleware"
	"PConvo/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

// serveWS 实时推送已提交事件。推送只是加速通道：
// 丢帧、掉线都不影响正确性，客户端用 /v1/resync 按序补齐。
func (s *Server) serveWS(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("ws upgrade %s: %v", id.UserID, err)
		return
	}

	// Upgrade 劫持连接后 handler 立刻返回，请求 ctx 随之取消；
	// 泵里的查询必须挂在连接自己的 ctx 上
	ctx, stop := context.WithCancel(context.Background())

	events, cancel := s.Bus.Subscribe(256)
	done := make(chan struct{})

	// 读泵只为探活：客户端不上行业务数据
	safe.SafeGo("ws-read-"+id.UserID, func() {
		defer close(done)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	safe.SafeGo("ws-write-"+id.UserID, func() {
		defer func() {
			stop()
			cancel()
			_ = conn.Close()
		}()
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				member, merr := s.Members.IsMember(ctx, ev.StreamID, id.UserID)
				if merr != nil || !member {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
