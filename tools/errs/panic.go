package errs

import "fmt"

// ErrPanic turns a recovered value into an Internal error carrying a stack.
// A recovered error keeps its chain so errors.Is still sees it.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return ErrInternal.WrapErr(err, "panic")
	}
	return ErrInternal.WrapMsg("panic", "value", fmt.Sprint(r))
}
