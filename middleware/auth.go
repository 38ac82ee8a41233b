package middleware

import (
	"net/http"
	"strings"

	errs "PConvo/tools/errs"
	"PConvo/tools/security"

	"github.com/gin-gonic/gin"
)

const identityKey = "pconvo.identity"

// Auth 校验 Bearer 令牌并把 (user, device) 身份挂到请求上下文。
// 写路径的幂等键绑定设备，没有设备身份的请求一律拒绝。
func Auth(opts security.Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token := ""
		if strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		} else if v := c.Query("token"); v != "" {
			token = v // WebSocket 握手走 query
		}
		if token == "" {
			abortWithCode(c, http.StatusUnauthorized, errs.ErrTokenInvalid)
			return
		}
		id, err := security.Verify(opts, token)
		if err != nil {
			abortWithCode(c, http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail(err.Error()))
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom 取出已认证身份；Auth 之后必定存在。
func IdentityFrom(c *gin.Context) *security.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(*security.Identity)
	return id
}

func abortWithCode(c *gin.Context, status int, ce *errs.CodeError) {
	c.AbortWithStatusJSON(status, gin.H{"code": ce.Code, "msg": ce.Msg, "detail": ce.Detail})
}
