package errs

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CodeError is a recoverable, user-visible error. Msg is what the client sees in
// the error frame; Detail only reaches the logs.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

// WithMsg keeps the code and replaces the client-facing message.
func (e *CodeError) WithMsg(format string, args ...any) *CodeError {
	c := e.clone()
	c.Msg = fmt.Sprintf(format, args...)
	return c
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return c
}

// WrapMsg attaches a log detail built from msg and key/value pairs plus a stack.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	c := e
	if msg != "" || len(kv) > 0 {
		c = e.WithDetail(toString(msg, kv))
	} else {
		c = e.clone()
	}
	return errors.WithStack(c)
}

// Is reports whether err carries a CodeError with the same code.
func (e *CodeError) Is(err error) bool {
	ce, ok := AsCode(err)
	if !ok {
		return err == nil && e == nil
	}
	if e == nil {
		return false
	}
	return e.Code == ce.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// AsCode extracts the CodeError from a wrapped chain.
func AsCode(err error) (*CodeError, bool) {
	if err == nil {
		return nil, false
	}
	var ce *CodeError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, toString(msg, kv))
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
