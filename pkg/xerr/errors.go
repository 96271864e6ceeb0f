package xerr

import "fmt"

// 常用错误码定义
const (
	OK                 = 200
	ServerCommonError  = 500
	RequestParamsError = 400
	DbError            = 501
	RecordNotFound     = 404
	NoDataAvailable    = 204 // 窗口内没有任何数据（不是故障）
	UpstreamError      = 502 // Binance 等外部数据源异常
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Code 取出业务错误码；不是 CodeError 时按通用服务端错误处理
func Code(err error) int {
	if e, ok := err.(*CodeError); ok {
		return e.Code
	}
	return ServerCommonError
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case DbError:
		return "数据库繁忙"
	case RecordNotFound:
		return "记录不存在"
	case NoDataAvailable:
		return "暂无数据"
	case UpstreamError:
		return "行情源繁忙"
	default:
		return "未知错误"
	}
}
