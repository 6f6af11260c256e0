package call

import "errors"

// Call is a deferred error-returning function
type Call func() error

// Perform runs calls in order and stops on the first error
func Perform(calls ...Call) error {
	for _, call := range calls {
		if err := call(); err != nil {
			return err
		}
	}
	return nil
}

// PerformAll runs every call in order, joining the errors they return
func PerformAll(calls ...Call) error {
	var errs []error
	for _, call := range calls {
		if err := call(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithArg binds one argument to a call
func WithArg[Arg any](call func(Arg) error, arg Arg) Call {
	return func() error {
		return call(arg)
	}
}

// Ignore adapts a function with no result into a Call
func Ignore(fn func()) Call {
	return func() error {
		fn()
		return nil
	}
}
