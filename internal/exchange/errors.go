package exchange

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindTransient 网络、超时、限频，下一周期可以再试
	KindTransient Kind = iota + 1
	// KindRejected 交易所明确拒绝：余额不足、参数错误等
	KindRejected
	// KindDataIntegrity 推送或返回的数据格式不对
	KindDataIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindDataIntegrity:
		return "data_integrity"
	default:
		return "unknown"
	}
}

// Error 网关返回的错误
type Error struct {
	Kind Kind
	Op   string // 出错的操作，例如 place_order
	Code string // 交易所错误码
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.Code != "" {
		s += " code=" + e.Code
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Rejected(op, code, msg string) *Error {
	return &Error{Kind: KindRejected, Op: op, Code: code, Msg: msg}
}

func DataIntegrity(op string, err error) *Error {
	return &Error{Kind: KindDataIntegrity, Op: op, Err: err}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsTransient(err error) bool     { return kindOf(err) == KindTransient }
func IsRejected(err error) bool      { return kindOf(err) == KindRejected }
func IsDataIntegrity(err error) bool { return kindOf(err) == KindDataIntegrity }
