package errs

// 协议层错误码。1100 段为会话协议核心，1200 段为接入层。
const (
	CodeConflict        = 1101 // 同幂等键不同 payload
	CodeGap             = 1102 // resync 游标早于保留下界
	CodeRateLimited     = 1103 // 限流，带 retry-after
	CodeValidation      = 1104 // 终态校验失败，不可重试
	CodeTransient       = 1105 // 瞬时失败，可重试
	CodeRolloutDisabled = 1106 // 写路径被灰度/熔断关闭
	CodePendingRetry    = 1107 // 并发在途重复，请稍后重试
	CodeNotFound        = 1108

	CodeTokenInvalid = 1201
)

var (
	ErrConflict        = NewCodeError(CodeConflict, "idempotency key reused with different payload")
	ErrGap             = NewCodeError(CodeGap, "resync cursor below retention floor")
	ErrRateLimited     = NewCodeError(CodeRateLimited, "rate limited")
	ErrValidation      = NewCodeError(CodeValidation, "validation failed")
	ErrTransient       = NewCodeError(CodeTransient, "transient failure")
	ErrRolloutDisabled = NewCodeError(CodeRolloutDisabled, "write path disabled by rollout control")
	ErrPendingRetry    = NewCodeError(CodePendingRetry, "duplicate command in flight, retry later")
	ErrNotFound        = NewCodeError(CodeNotFound, "not found")

	ErrTokenInvalid = NewCodeError(CodeTokenInvalid, "token missing or invalid")
)
