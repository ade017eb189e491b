package response

import (
	"errors"
	"net/http"

	"edgetrader/internal/consts"

	"github.com/gin-gonic/gin"
)

// 错误码
const (
	Success     = 0
	Unknown     = 10000
	ValidateErr = 10001
	Forbidden   = 10003
	NotFoundErr = 10004
	Unavailable = 10005
	TooFrequent = 10029
)

// CodeError 带错误码的错误
type CodeError struct {
	Code    int
	Message string
	cause   error
}

func (e *CodeError) Error() string {
	return e.Message
}

func (e *CodeError) Unwrap() error {
	return e.cause
}

func WithCode(code int, message string) error {
	return &CodeError{Code: code, Message: message}
}

// Wrap 保留原始错误，message 为空时使用原始错误信息
func Wrap(err error, code int, message string) error {
	if message == "" {
		message = err.Error()
	}
	return &CodeError{Code: code, Message: message, cause: err}
}

// DecodeErr 解析错误码与提示信息
func DecodeErr(err error) (int, string) {
	if err == nil {
		return Success, "success"
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code, ce.Message
	}
	return Unknown, err.Error()
}

// 代表响应给客户端的的一个消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	RequestId string      `json:"request_id"` // 请求的唯一ID
	Code      int         `json:"code"`       // 错误码 0表示无错误
	Message   string      `json:"message"`    // 提示信息
	Data      interface{} `json:"data"`
}

func httpStatus(code int) int {
	switch code {
	case Success:
		return http.StatusOK
	case Forbidden:
		return http.StatusForbidden
	case NotFoundErr:
		return http.StatusNotFound
	case Unavailable:
		return http.StatusServiceUnavailable
	case TooFrequent:
		return http.StatusTooManyRequests
	}
	return http.StatusBadRequest
}

// 发送json格式数据
func JSON(c *gin.Context, err error, data interface{}) {
	code, message := DecodeErr(err)
	c.JSON(httpStatus(code), ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      code,
		Message:   message,
		Data:      data,
	})
}

// 请求频繁，返回429
func TooManyRequests(c *gin.Context) {
	JSON(c, WithCode(TooFrequent, "The request is too frequent. Please try again later."), nil)
}

// 非本机且未携带有效签名，返回403
func ForbiddenRequest(c *gin.Context) {
	JSON(c, WithCode(Forbidden, "Invalid request, missing signature."), nil)
}
