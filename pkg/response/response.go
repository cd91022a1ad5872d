package response

import (
	"errors"
	"net/http"

	"escrowpay/pkg/errs"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeForbidden   = 403
	CodeNotFound    = 404
	CodeServerError = 500
)

const (
	CodeStateInvalid      = 1001
	CodeBalanceNotEnough  = 1002
	CodeProviderError     = 1003
	CodeConfigError       = 1004
	CodeSettlementFailed  = 1005
	CodeWithdrawalInvalid = 1006
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// BizError 按业务错误类别翻译响应码
func BizError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		Error(c, CodeParamError, err.Error())
	case errors.Is(err, errs.ErrAuthorization):
		Error(c, CodeForbidden, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		Error(c, CodeNotFound, err.Error())
	case errors.Is(err, errs.ErrState):
		Error(c, CodeStateInvalid, err.Error())
	case errors.Is(err, errs.ErrInsufficientFunds):
		Error(c, CodeBalanceNotEnough, err.Error())
	case errors.Is(err, errs.ErrProvider):
		Error(c, CodeProviderError, err.Error())
	case errors.Is(err, errs.ErrConfiguration):
		Error(c, CodeConfigError, err.Error())
	default:
		Error(c, CodeServerError, err.Error())
	}
}
