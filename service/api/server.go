package api

import (
	"fmt"
	"net/http"

	"PConvo/middleware"
	"PConvo/module/convo/command"
	"PConvo/module/convo/eventlog"
	"PConvo/module/convo/inboxproj"
	"PConvo/module/convo/member"
	"PConvo/module/convo/receipt"
	"PConvo/module/convo/resync"
	"PConvo/module/convo/rollout"
	"PConvo/service/bus"
	"PConvo/tools/safe"
	"PConvo/tools/security"

	"github.com/gin-gonic/gin"
)

// Server HTTP/WS 接入层。业务规则全部在 module/convo 下，
// 这里只做参数解析、身份注入和错误码到状态码的翻译。
type Server struct {
	Proc       *command.Processor
	Resyncer   *resync.Service
	Receipts   receipt.Tracker
	Log        eventlog.Store
	Projector  *inboxproj.Projector
	InboxStore inboxproj.Store
	Toggle     *rollout.Toggle
	Bus        *bus.MemBus
	Members    member.Registry

	JwtOpts security.Options
}

func (s *Server) Router() *gin.Engine {
	safe.MustNotNil(s.Proc, "command processor")
	safe.MustNotNil(s.Resyncer, "resync service")
	safe.MustNotNil(s.Log, "event log")
	safe.MustNotNil(s.Toggle, "rollout toggle")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.AccessLog())

	r.POST("/v1/auth/token", s.issueToken)

	auth := r.Group("/v1", middleware.Auth(s.JwtOpts))
	{
		auth.POST("/msg/send", s.sendMessage)
		auth.POST("/msg/edit", s.editMessage)
		auth.POST("/msg/delete", s.deleteMessage)

		auth.POST("/receipt/delivered", s.ackDelivered)
		auth.POST("/receipt/read", s.ackRead)

		auth.GET("/resync", s.resync)
		auth.GET("/snapshot", s.snapshot)

		auth.GET("/inbox", s.listInbox)
		auth.POST("/inbox/pin", s.pinConversation)
		auth.POST("/inbox/draft", s.setDraft)
		auth.POST("/inbox/rebuild", s.rebuildInbox)

		auth.POST("/conversation/join", s.joinConversation)
		auth.POST("/conversation/leave", s.leaveConversation)

		auth.GET("/admin/rollout", s.rolloutState)
		auth.POST("/admin/rollout", s.rolloutToggle)

		auth.GET("/ws", s.serveWS)
	}
	return r
}

func (s *Server) Run(port int) error {
	return s.Router().Run(fmt.Sprintf(":%d", port))
}

// issueToken 开发期便捷端点：给 (user, device) 签发令牌。
// 生产部署应换成真实账号体系回调。
func (s *Server) issueToken(c *gin.Context) {
	var req struct {
		UserID   string `json:"user_id" binding:"required"`
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errValidation(err))
		return
	}
	token, exp, err := security.Generate(s.JwtOpts, security.Identity{UserID: req.UserID, DeviceID: req.DeviceID})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expire_at": exp.Unix()})
}
