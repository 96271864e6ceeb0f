package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/khaitrandinh/binance-dashboard/pkg/logger"
	"github.com/khaitrandinh/binance-dashboard/pkg/xerr"
	"go.uber.org/zap"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailLogged 失败响应并记录日志（非 panic 场景）
func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	)
	Fail(c, httpStatus, code, msg)
}

// FailFromErr 把内部错误映射到统一响应
// NoDataAvailable 不算故障：返回 200 + 空 data，前端自己渲染“暂无数据”
func FailFromErr(c *gin.Context, err error) {
	code := xerr.Code(err)
	switch code {
	case xerr.NoDataAvailable:
		c.JSON(http.StatusOK, Response{Code: code, Message: xerr.MapErrMsg(code), Data: nil})
	case xerr.RequestParamsError:
		Fail(c, http.StatusBadRequest, code, xerr.MapErrMsg(code))
	case xerr.RecordNotFound:
		Fail(c, http.StatusNotFound, code, xerr.MapErrMsg(code))
	case xerr.UpstreamError:
		FailLogged(c, http.StatusBadGateway, code, xerr.MapErrMsg(code), err)
	default:
		FailLogged(c, http.StatusInternalServerError, code, xerr.MapErrMsg(code), err)
	}
}
