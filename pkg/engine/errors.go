package engine

import "errors"

var (
	ErrPrep       = errors.New("prep failed")
	ErrExec       = errors.New("exec failed")
	ErrFallback   = errors.New("exec fallback failed")
	ErrPost       = errors.New("post failed")
	ErrBatchItem  = errors.New("batch item failed")
	ErrBatchInput = errors.New("batch prep must return a slice")
	ErrAsyncNode  = errors.New("async node reached by blocking flow")
	ErrPanic      = errors.New("node phase panicked")
)
