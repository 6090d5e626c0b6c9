package safe

import (
	"fmt"
	"reflect"

	"PPChat/logger"
	"PPChat/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts f in a goroutine; a panic is logged instead of crashing the process.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover is meant to be deferred. It logs the recovered value with a stack.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("[safe] panic recovered", zap.String("where", name), zap.Error(errs.ErrPanic(r)))
	}
}
