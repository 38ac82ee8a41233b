package api

import (
	"net/http"

	"PConvo/module/convo/command"
	errs "PConvo/tools/errs"

	"github.com/gin-gonic/gin"
)

func errValidation(err error) error {
	return errs.ErrValidation.WithDetail(err.Error())
}

func httpStatusOf(code int) int {
	switch code {
	case errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeConflict:
		return http.StatusConflict
	case errs.CodeGap:
		return http.StatusGone
	case errs.CodeRateLimited, errs.CodePendingRetry:
		return http.StatusTooManyRequests
	case errs.CodeTransient, errs.CodeRolloutDisabled:
		return http.StatusServiceUnavailable
	case errs.CodeTokenInvalid:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ackStatusOf 写命令失败时回给客户端的 ack_status。
func ackStatusOf(code int) string {
	switch code {
	case errs.CodeConflict:
		return command.AckConflict
	case errs.CodeTransient, errs.CodePendingRetry, errs.CodeRateLimited:
		return command.AckRetry
	default:
		return command.AckRejected
	}
}

func respondErr(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	body := gin.H{"code": code, "msg": err.Error()}
	c.JSON(httpStatusOf(code), body)
}

// respondWriteErr 写命令专用：附带 ack_status。
func respondWriteErr(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	c.JSON(httpStatusOf(code), gin.H{
		"code":       code,
		"msg":        err.Error(),
		"ack_status": ackStatusOf(code),
	})
}

func respondOK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
