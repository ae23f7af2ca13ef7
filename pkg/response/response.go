package response

import (
	"net/http"

	"ggshot/internal/consts"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeUnavailable = 503
)

// 代表响应给客户端的的一个消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	RequestId string      `json:"request_id"` // 请求的唯一ID
	Code      int         `json:"code"`       // 错误码 0表示无错误
	Message   string      `json:"message"`    // 提示信息
	Data      interface{} `json:"data"`
}

// JSON 发送json格式数据
func JSON(c *gin.Context, err error, data interface{}) {
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ApiResponse{
			RequestId: c.GetString(consts.RequestId),
			Code:      CodeUnavailable,
			Message:   err.Error(),
			Data:      data,
		})
		return
	}
	c.JSON(http.StatusOK, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      CodeSuccess,
		Message:   "ok",
		Data:      data,
	})
}
