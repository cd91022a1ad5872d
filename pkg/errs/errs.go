package errs

import (
	"errors"
	"fmt"
)

// ============================================================================
// 业务错误类别
// ============================================================================
//
// 【设计思考】为什么用哨兵错误而不是错误码？
//
// 服务层通过 errors.Is 判断错误类别，处理器层再翻译成响应码。
// 预期中的"记录不存在"（如发票尚未生成）不走错误，用 (value, nil) 返回，
// 错误只留给真正的失败。
//
// ============================================================================

var (
	ErrValidation        = errors.New("参数校验失败")
	ErrState             = errors.New("当前状态不允许该操作")
	ErrAuthorization     = errors.New("无权执行该操作")
	ErrInsufficientFunds = errors.New("可用余额不足")
	ErrConfiguration     = errors.New("配置不合法")
	ErrProvider          = errors.New("支付渠道调用失败")
	ErrNotFound          = errors.New("记录不存在")
)

// Wrap 在错误类别上附加具体原因，保留 errors.Is 语义
func Wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
