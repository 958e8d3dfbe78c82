package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`

	cause error
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
		cause:  e.cause,
	}
}

// Wrap returns a copy of e carrying a stack trace.
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

// WrapMsg returns a copy of e with msg and kv pairs appended to the detail.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	appendDetail(retErr, msg, kv)
	return pkgerrors.WithStack(retErr)
}

// WrapErr is WrapMsg with an underlying cause kept for errors.Is/As and classification.
func (e *CodeError) WrapErr(cause error, msg string, kv ...any) error {
	retErr := e.clone()
	retErr.cause = cause
	appendDetail(retErr, msg, kv)
	return pkgerrors.WithStack(retErr)
}

func appendDetail(e *CodeError, msg string, kv []any) {
	if msg == "" && len(kv) == 0 {
		return
	}
	detail := toString(msg, kv)
	if e.Detail == "" {
		e.Detail = detail
	} else {
		e.Detail += ", " + detail
	}
}

func (e *CodeError) Unwrap() error { return e.cause }

// Is reports whether err carries a CodeError with the same code as e.
func (e *CodeError) Is(err error) bool {
	if e == nil {
		return err == nil
	}
	var codeErr *CodeError
	if !errors.As(err, &codeErr) {
		return false
	}
	return codeErr.Code == e.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	if e.cause != nil {
		v = append(v, "cause: "+e.cause.Error())
	}

	return strings.Join(v, " ")
}

// Code returns the code of the outermost CodeError in err's chain, 0 if none.
func Code(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return 0
}

// Detail returns the detail of the outermost CodeError in err's chain.
func Detail(err error) string {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Detail
	}
	return ""
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
